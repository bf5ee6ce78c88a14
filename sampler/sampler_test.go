package sampler

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/surplus/config"
	"github.com/timzifer/surplus/measure"
	"github.com/timzifer/surplus/remote"
	"github.com/timzifer/surplus/simulation"
)

func defaultSettings(t *testing.T) simulation.Settings {
	t.Helper()
	state, err := simulation.NewState(config.Default().Simulation, "0")
	require.NoError(t, err)
	return state.Snapshot()
}

func TestSyntheticFillsSineWaves(t *testing.T) {
	mock := clock.NewMock()
	gen := NewSynthetic(mock, 20*time.Millisecond)
	settings := defaultSettings(t)
	settings.GenerationShift = 5

	var cycle measure.Cycle
	gen.Fill(settings, &cycle)

	require.Equal(t, mock.Now(), cycle.Start)
	require.Equal(t, 20*time.Millisecond, cycle.End.Sub(cycle.Start))
	require.Equal(t, uint16(512), cycle.Offset[0])
	require.Equal(t, uint16(512), cycle.Voltage[0])
	require.Equal(t, uint16(922), cycle.Voltage[10])
	require.Equal(t, uint16(102), cycle.Voltage[30])
	require.Equal(t, uint16(712), cycle.Generation[5], "shifted by five samples")
	require.Equal(t, uint16(612), cycle.Consumption[10])
}

func TestSyntheticClampsToResolution(t *testing.T) {
	gen := NewSynthetic(clock.NewMock(), 20*time.Millisecond)
	settings := defaultSettings(t)
	settings.VoltageAmplitude = 900

	var cycle measure.Cycle
	gen.Fill(settings, &cycle)
	require.Equal(t, uint16(measure.Resolution), cycle.Voltage[10])
	require.Equal(t, uint16(0), cycle.Voltage[30])
}

type fakeSource struct {
	calls int
	err   error
}

func (f *fakeSource) Acquire(context.Context, *measure.Cycle) error {
	f.calls++
	return f.err
}

func TestSelectorUsesSyntheticForAnalogSimulation(t *testing.T) {
	live := &fakeSource{}
	sel := NewSelector(NewSynthetic(clock.NewMock(), 20*time.Millisecond), live)
	settings := defaultSettings(t)
	var cycle measure.Cycle

	synthetic, err := sel.Acquire(context.Background(), settings, &cycle)
	require.NoError(t, err)
	require.False(t, synthetic)
	require.Equal(t, 1, live.calls)

	settings.Mode = simulation.ModeAnalog
	synthetic, err = sel.Acquire(context.Background(), settings, &cycle)
	require.NoError(t, err)
	require.True(t, synthetic)
	require.Equal(t, 1, live.calls)

	live.err = errors.New("front-end offline")
	settings.Mode = simulation.ModePower
	_, err = sel.Acquire(context.Background(), settings, &cycle)
	require.Error(t, err)
}

func TestSelectorWithoutLiveSourceIsSynthetic(t *testing.T) {
	sel, closer, err := FromConfig(config.Default(), clock.NewMock(), nil)
	require.NoError(t, err)
	defer closer()

	var cycle measure.Cycle
	synthetic, err := sel.Acquire(context.Background(), defaultSettings(t), &cycle)
	require.NoError(t, err)
	require.True(t, synthetic)
}

type registerClient struct {
	blocks map[uint16][]uint16
	reads  int
}

func (r *registerClient) ReadCoils(uint16, uint16) ([]byte, error)          { return nil, nil }
func (r *registerClient) ReadDiscreteInputs(uint16, uint16) ([]byte, error) { return nil, nil }
func (r *registerClient) WriteSingleCoil(uint16, uint16) ([]byte, error)    { return nil, nil }
func (r *registerClient) Close() error                                      { return nil }
func (r *registerClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	r.reads++
	values, ok := r.blocks[address]
	if !ok {
		return nil, errors.New("illegal data address")
	}
	payload := make([]byte, 2*int(quantity))
	for i := 0; i < int(quantity) && i < len(values); i++ {
		binary.BigEndian.PutUint16(payload[2*i:], values[i])
	}
	return payload, nil
}

func constant(v uint16) []uint16 {
	values := make([]uint16, measure.SamplesPerCycle)
	for i := range values {
		values[i] = v
	}
	return values
}

func TestModbusSamplerReadsRegisterBlocks(t *testing.T) {
	client := &registerClient{blocks: map[uint16][]uint16{
		0:   constant(512),
		100: constant(700),
		200: constant(2000),
		300: constant(300),
	}}
	factory := func(config.EndpointConfig) (remote.Client, error) { return client, nil }
	cfg := config.ModbusSamplerConfig{
		Endpoint:            config.EndpointConfig{Address: "frontend:502"},
		VoltageRegister:     100,
		GenerationRegister:  200,
		ConsumptionRegister: 300,
	}
	sampler := NewModbus(remote.NewConn(cfg.Endpoint, factory), cfg, clock.NewMock())

	var cycle measure.Cycle
	require.NoError(t, sampler.Acquire(context.Background(), &cycle))
	require.Equal(t, 4, client.reads)
	require.Equal(t, uint16(512), cycle.Offset[39])
	require.Equal(t, uint16(700), cycle.Voltage[0])
	require.Equal(t, uint16(measure.Resolution), cycle.Generation[0], "counts are clamped to the ADC range")
	require.Equal(t, uint16(300), cycle.Consumption[17])
}

func TestModbusSamplerReportsReadErrors(t *testing.T) {
	client := &registerClient{blocks: map[uint16][]uint16{0: constant(512)}}
	factory := func(config.EndpointConfig) (remote.Client, error) { return client, nil }
	cfg := config.ModbusSamplerConfig{VoltageRegister: 40}
	sampler := NewModbus(remote.NewConn(cfg.Endpoint, factory), cfg, clock.NewMock())

	var cycle measure.Cycle
	require.Error(t, sampler.Acquire(context.Background(), &cycle))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sampler.Acquire(ctx, &cycle), context.Canceled)
}
