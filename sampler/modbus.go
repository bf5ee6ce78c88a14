package sampler

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/timzifer/surplus/config"
	"github.com/timzifer/surplus/measure"
	"github.com/timzifer/surplus/remote"
)

// Modbus reads a cycle captured by a remote acquisition front-end. Each channel
// is a block of SamplesPerCycle input registers holding raw ADC counts.
type Modbus struct {
	conn   *remote.Conn
	clock  clock.Clock
	blocks [4]uint16
}

// NewModbus creates a sampler reading the configured register blocks.
func NewModbus(conn *remote.Conn, cfg config.ModbusSamplerConfig, clk clock.Clock) *Modbus {
	if clk == nil {
		clk = clock.New()
	}
	return &Modbus{
		conn:  conn,
		clock: clk,
		blocks: [4]uint16{
			cfg.OffsetRegister,
			cfg.VoltageRegister,
			cfg.GenerationRegister,
			cfg.ConsumptionRegister,
		},
	}
}

// Acquire reads the four channel blocks into cycle.
func (m *Modbus) Acquire(ctx context.Context, cycle *measure.Cycle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	targets := [4]*[measure.SamplesPerCycle]uint16{
		&cycle.Offset, &cycle.Voltage, &cycle.Generation, &cycle.Consumption,
	}
	start := m.clock.Now()
	err := m.conn.Do(func(client remote.Client) error {
		for i, address := range m.blocks {
			payload, err := client.ReadInputRegisters(address, measure.SamplesPerCycle)
			if err != nil {
				return fmt.Errorf("read block %d: %w", address, err)
			}
			if len(payload) < 2*measure.SamplesPerCycle {
				return fmt.Errorf("read block %d: short payload of %d bytes", address, len(payload))
			}
			for j := range targets[i] {
				v := binary.BigEndian.Uint16(payload[2*j:])
				if v > measure.Resolution {
					v = measure.Resolution
				}
				targets[i][j] = v
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	cycle.Start = start
	cycle.End = m.clock.Now()
	per := cycle.End.Sub(start) / measure.SamplesPerCycle
	for i := range cycle.SamplingTime {
		cycle.SamplingTime[i] = per
	}
	return nil
}
