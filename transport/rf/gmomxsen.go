package rf

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/surplus/transport"
)

// Pulse is one level held on the radio data pin.
type Pulse struct {
	High     bool
	Duration time.Duration
}

// Timings of the GMOMXSEN remote switches.
const (
	ZeroHigh    = 591 * time.Microsecond
	ZeroLow     = 1263 * time.Microsecond
	OneHigh     = 1190 * time.Microsecond
	OneLow      = 665 * time.Microsecond
	RepeatGap   = 7000 * time.Microsecond
	RepeatCount = 5
)

// codes holds the cloned off and on codes per channel.
var codes = [transport.MaxChannel][2]string{
	{"100000011011010000110100000000000", "100011101011010000110100000000000"},
	{"101011101011010000110100000000000", "101001101011010000110100000000000"},
	{"100111101011010000110100000000000", "100101101011010000110100000000000"},
}

// Code returns the bit string sent to switch channel on or off.
func Code(channel int, on bool) (string, error) {
	if err := transport.CheckChannel(channel); err != nil {
		return "", err
	}
	idx := 0
	if on {
		idx = 1
	}
	return codes[channel-1][idx], nil
}

// Encode expands the code for channel into the full pulse train, every
// repetition preceded by a low gap.
func Encode(channel int, on bool) ([]Pulse, error) {
	code, err := Code(channel, on)
	if err != nil {
		return nil, err
	}
	pulses := make([]Pulse, 0, RepeatCount*(1+2*len(code)))
	for rep := 0; rep < RepeatCount; rep++ {
		pulses = append(pulses, Pulse{High: false, Duration: RepeatGap})
		for _, bit := range code {
			if bit == '1' {
				pulses = append(pulses, Pulse{High: true, Duration: OneHigh}, Pulse{High: false, Duration: OneLow})
			} else {
				pulses = append(pulses, Pulse{High: true, Duration: ZeroHigh}, Pulse{High: false, Duration: ZeroLow})
			}
		}
	}
	return pulses, nil
}

// Emitter plays a pulse train on the transmitter pin and returns when done.
type Emitter interface {
	Emit(ctx context.Context, pulses []Pulse) error
}

// Transmitter implements transport.Driver for the GMOMXSEN protocol.
type Transmitter struct {
	emitter Emitter
}

// NewTransmitter wraps an emitter.
func NewTransmitter(emitter Emitter) *Transmitter {
	return &Transmitter{emitter: emitter}
}

// Send encodes and emits the command for channel.
func (t *Transmitter) Send(ctx context.Context, channel int, on bool) error {
	pulses, err := Encode(channel, on)
	if err != nil {
		return err
	}
	if err := t.emitter.Emit(ctx, pulses); err != nil {
		return fmt.Errorf("gmomxsen channel %d: %w", channel, err)
	}
	return nil
}

// LogEmitter records pulse trains in the log instead of driving a pin.
type LogEmitter struct {
	pin    int
	logger zerolog.Logger
}

// NewLogEmitter creates an emitter that logs at debug level.
func NewLogEmitter(pin int, logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{pin: pin, logger: logger}
}

func (e *LogEmitter) Emit(ctx context.Context, pulses []Pulse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var total time.Duration
	for _, p := range pulses {
		total += p.Duration
	}
	e.logger.Debug().Int("pin", e.pin).Int("pulses", len(pulses)).Dur("duration", total).Msg("radio code emitted")
	return nil
}
