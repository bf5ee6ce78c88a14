package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MaxChannel is the highest remote switch channel.
const MaxChannel = 3

// Protocol identifiers understood by the multiplexer.
const (
	ProtocolNone     = ""
	ProtocolGMOMXSEN = "gmomxsen"
	ProtocolMQTT     = "mqtt"
)

var (
	// ErrUnsupportedProtocol is returned when no driver handles the protocol.
	ErrUnsupportedProtocol = errors.New("unsupported switch protocol")
	// ErrChannelOutOfRange is returned for channels outside 1..MaxChannel.
	ErrChannelOutOfRange = errors.New("switch channel out of range")
)

// Driver switches a remote channel of one protocol.
type Driver interface {
	Send(ctx context.Context, channel int, on bool) error
}

// Sender delivers on/off commands to remote switches.
type Sender interface {
	Send(ctx context.Context, protocol string, channel int, on bool) error
}

// Mux routes commands to the driver registered for their protocol.
type Mux struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewMux creates an empty multiplexer.
func NewMux() *Mux {
	return &Mux{drivers: make(map[string]Driver)}
}

// Register binds a driver to a protocol identifier.
func (m *Mux) Register(protocol string, driver Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[Normalize(protocol)] = driver
}

// Protocols lists the registered protocol identifiers.
func (m *Mux) Protocols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.drivers))
	for name := range m.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send validates the channel and forwards the command. Failures are not retried.
func (m *Mux) Send(ctx context.Context, protocol string, channel int, on bool) error {
	if err := CheckChannel(channel); err != nil {
		return err
	}
	m.mu.RLock()
	driver, ok := m.drivers[Normalize(protocol)]
	m.mu.RUnlock()
	if !ok || driver == nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedProtocol, protocol)
	}
	return driver.Send(ctx, channel, on)
}

// CheckChannel reports ErrChannelOutOfRange for channels outside 1..MaxChannel.
func CheckChannel(channel int) error {
	if channel < 1 || channel > MaxChannel {
		return fmt.Errorf("%w: %d", ErrChannelOutOfRange, channel)
	}
	return nil
}

// Normalize lower-cases a protocol identifier and maps "none" to ProtocolNone.
func Normalize(protocol string) string {
	p := strings.ToLower(strings.TrimSpace(protocol))
	if p == "none" {
		return ProtocolNone
	}
	return p
}
