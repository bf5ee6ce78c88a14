package remote

import (
	"fmt"
	"sync"

	"github.com/timzifer/surplus/config"
)

// Conn creates its client on first use and drops it after a failed request so
// the next call reconnects.
type Conn struct {
	mu       sync.Mutex
	endpoint config.EndpointConfig
	factory  ClientFactory
	client   Client
}

// NewConn prepares a lazily connected endpoint.
func NewConn(endpoint config.EndpointConfig, factory ClientFactory) *Conn {
	if factory == nil {
		factory = NewClientFactory()
	}
	return &Conn{endpoint: endpoint, factory: factory}
}

// Address returns the configured endpoint address.
func (c *Conn) Address() string {
	return c.endpoint.Address
}

// Do runs fn with a connected client.
func (c *Conn) Do(fn func(Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		client, err := c.factory(c.endpoint)
		if err != nil {
			return err
		}
		c.client = client
	}
	if err := fn(c.client); err != nil {
		c.closeLocked()
		return fmt.Errorf("modbus %s: %w", c.endpoint.Address, err)
	}
	return nil
}

// Close releases the client if one is open.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Conn) closeLocked() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
