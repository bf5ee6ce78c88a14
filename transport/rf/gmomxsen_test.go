package rf

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/surplus/transport"
)

func TestCodeTable(t *testing.T) {
	code, err := Code(1, false)
	require.NoError(t, err)
	require.Equal(t, "100000011011010000110100000000000", code)

	code, err = Code(2, true)
	require.NoError(t, err)
	require.Equal(t, "101001101011010000110100000000000", code)

	code, err = Code(3, true)
	require.NoError(t, err)
	require.Equal(t, "100101101011010000110100000000000", code)

	for ch := 1; ch <= transport.MaxChannel; ch++ {
		for _, on := range []bool{false, true} {
			code, err := Code(ch, on)
			require.NoError(t, err)
			require.Len(t, code, 33)
		}
	}
}

func TestCodeRejectsChannelOutOfRange(t *testing.T) {
	_, err := Code(0, true)
	require.ErrorIs(t, err, transport.ErrChannelOutOfRange)
	_, err = Encode(4, false)
	require.ErrorIs(t, err, transport.ErrChannelOutOfRange)
}

func TestEncodePulseTrain(t *testing.T) {
	pulses, err := Encode(1, true)
	require.NoError(t, err)
	require.Len(t, pulses, RepeatCount*(1+2*33))

	require.Equal(t, Pulse{High: false, Duration: RepeatGap}, pulses[0])
	// "100..." : a one followed by zeros.
	require.Equal(t, Pulse{High: true, Duration: OneHigh}, pulses[1])
	require.Equal(t, Pulse{High: false, Duration: OneLow}, pulses[2])
	require.Equal(t, Pulse{High: true, Duration: ZeroHigh}, pulses[3])
	require.Equal(t, Pulse{High: false, Duration: ZeroLow}, pulses[4])
	require.Equal(t, Pulse{High: false, Duration: RepeatGap}, pulses[67])

	var total time.Duration
	for _, p := range pulses[:67] {
		total += p.Duration
	}
	code, _ := Code(1, true)
	ones := bytes.Count([]byte(code), []byte("1"))
	zeros := len(code) - ones
	want := RepeatGap + time.Duration(ones)*(OneHigh+OneLow) + time.Duration(zeros)*(ZeroHigh+ZeroLow)
	require.Equal(t, want, total)
}

type captureEmitter struct {
	trains [][]Pulse
	err    error
}

func (c *captureEmitter) Emit(_ context.Context, pulses []Pulse) error {
	c.trains = append(c.trains, pulses)
	return c.err
}

func TestTransmitterSend(t *testing.T) {
	emitter := &captureEmitter{}
	tx := NewTransmitter(emitter)

	require.NoError(t, tx.Send(context.Background(), 3, false))
	require.Len(t, emitter.trains, 1)

	require.ErrorIs(t, tx.Send(context.Background(), 5, false), transport.ErrChannelOutOfRange)
	require.Len(t, emitter.trains, 1)

	emitter.err = errors.New("pin busy")
	require.Error(t, tx.Send(context.Background(), 1, true))
}

func TestLogEmitter(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(10, zerolog.New(&buf).Level(zerolog.DebugLevel))
	pulses, _ := Encode(2, false)
	require.NoError(t, emitter.Emit(context.Background(), pulses))
	require.Contains(t, buf.String(), "radio code emitted")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, emitter.Emit(ctx, pulses), context.Canceled)
}
