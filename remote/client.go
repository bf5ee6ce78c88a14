package remote

import (
	"fmt"
	"strings"
	"time"

	"github.com/goburrow/modbus"

	"github.com/timzifer/surplus/config"
)

const defaultTimeout = 5 * time.Second

// Client defines the subset of Modbus operations used by the I/O adapters.
type Client interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
	Close() error
}

// ClientFactory creates Modbus clients for an endpoint.
type ClientFactory func(cfg config.EndpointConfig) (Client, error)

type handlerCloser interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type client struct {
	modbus.Client
	handler handlerCloser
}

func (c *client) Close() error {
	if c.handler != nil {
		return c.handler.Close()
	}
	return nil
}

// NewClientFactory returns a factory that dials TCP endpoints and opens serial
// lines for endpoints with a baud rate.
func NewClientFactory() ClientFactory {
	return func(cfg config.EndpointConfig) (Client, error) {
		if cfg.Address == "" {
			return nil, fmt.Errorf("remote address is required")
		}
		timeout := cfg.Timeout.Duration
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		var handler handlerCloser
		if cfg.BaudRate > 0 {
			rtu := modbus.NewRTUClientHandler(cfg.Address)
			rtu.SlaveId = cfg.UnitID
			rtu.BaudRate = cfg.BaudRate
			rtu.DataBits = 8
			rtu.StopBits = 1
			rtu.Parity = parity(cfg.Parity)
			rtu.Timeout = timeout
			handler = rtu
		} else {
			tcp := modbus.NewTCPClientHandler(cfg.Address)
			tcp.SlaveId = cfg.UnitID
			tcp.Timeout = timeout
			handler = tcp
		}
		if err := handler.Connect(); err != nil {
			return nil, fmt.Errorf("connect remote %s: %w", cfg.Address, err)
		}
		return &client{Client: modbus.NewClient(handler), handler: handler}, nil
	}
}

func parity(value string) string {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", "E", "EVEN":
		return "E"
	case "O", "ODD":
		return "O"
	default:
		return "N"
	}
}
