package gpio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/timzifer/surplus/config"
	"github.com/timzifer/surplus/remote"
)

// Bank drives load outputs and reads mode switch inputs. A high switch input
// selects solar mode.
type Bank interface {
	Write(pin int, on bool) error
	Read(pin int) (bool, error)
}

// Memory is an in-process bank used for simulation and tests. Unset inputs
// read high, like a pulled-up open switch.
type Memory struct {
	mu      sync.RWMutex
	outputs map[int]bool
	inputs  map[int]bool
	writes  int
}

// NewMemory creates a bank with preset input levels.
func NewMemory(inputs map[int]bool) *Memory {
	m := &Memory{outputs: make(map[int]bool), inputs: make(map[int]bool, len(inputs))}
	for pin, level := range inputs {
		m.inputs[pin] = level
	}
	return m
}

func (m *Memory) Write(pin int, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[pin] = on
	m.writes++
	return nil
}

func (m *Memory) Read(pin int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	level, ok := m.inputs[pin]
	if !ok {
		return true, nil
	}
	return level, nil
}

// SetInput changes the level of an input pin.
func (m *Memory) SetInput(pin int, level bool) {
	m.mu.Lock()
	m.inputs[pin] = level
	m.mu.Unlock()
}

// Output reports the last level written to pin.
func (m *Memory) Output(pin int) (level bool, written bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	level, written = m.outputs[pin]
	return level, written
}

// Writes counts the output writes so far.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Modbus maps outputs to coils and inputs to discrete inputs of a remote I/O module.
type Modbus struct {
	conn *remote.Conn
}

// NewModbus creates a bank on top of a lazily connected endpoint.
func NewModbus(conn *remote.Conn) *Modbus {
	return &Modbus{conn: conn}
}

func (m *Modbus) Write(pin int, on bool) error {
	address, err := coilAddress(pin)
	if err != nil {
		return err
	}
	value := uint16(0x0000)
	if on {
		value = 0xFF00
	}
	return m.conn.Do(func(client remote.Client) error {
		_, err := client.WriteSingleCoil(address, value)
		return err
	})
}

func (m *Modbus) Read(pin int) (bool, error) {
	address, err := coilAddress(pin)
	if err != nil {
		return false, err
	}
	var level bool
	err = m.conn.Do(func(client remote.Client) error {
		payload, err := client.ReadDiscreteInputs(address, 1)
		if err != nil {
			return err
		}
		if len(payload) == 0 {
			return fmt.Errorf("discrete input %d: empty payload", address)
		}
		level = payload[0]&0x01 == 0x01
		return nil
	})
	return level, err
}

func coilAddress(pin int) (uint16, error) {
	if pin < 0 || pin > 0xFFFF {
		return 0, fmt.Errorf("pin %d outside modbus address space", pin)
	}
	return uint16(pin), nil
}

// FromConfig builds the configured bank and returns its closer.
func FromConfig(cfg config.PinsConfig, factory remote.ClientFactory) (Bank, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(cfg.Inputs), func() error { return nil }, nil
	case "modbus":
		conn := remote.NewConn(cfg.Endpoint, factory)
		return NewModbus(conn), conn.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown pins driver %q", cfg.Driver)
	}
}
