// Package console reads simulation and print commands line by line.
package console

import (
	"bufio"
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/timzifer/surplus/simulation"
)

// Console applies commands read from an input stream to the simulation state.
type Console struct {
	state  *simulation.State
	logger zerolog.Logger
	echo   io.Writer
}

// New creates a console. Echo text is written to echo when it is not nil,
// otherwise it is logged.
func New(state *simulation.State, echo io.Writer, logger zerolog.Logger) *Console {
	return &Console{state: state, echo: echo, logger: logger.With().Str("component", "console").Logger()}
}

// Run reads lines from r until it is exhausted or ctx is cancelled. A
// blocked read is only abandoned when the next line arrives.
func (c *Console) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.Handle(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Handle applies one line and reports whether it carried a command.
func (c *Console) Handle(line string) bool {
	cmd, err := simulation.ParseCommand(line)
	if err != nil {
		if !errors.Is(err, simulation.ErrUnknownCommand) {
			c.logger.Warn().Err(err).Msg("console command rejected")
		}
		return false
	}
	text := c.state.Apply(cmd)
	if c.echo != nil {
		if _, err := io.WriteString(c.echo, text+"\n"); err != nil {
			c.logger.Warn().Err(err).Msg("console echo failed")
		}
		return true
	}
	c.logger.Info().Msg(text)
	return true
}
