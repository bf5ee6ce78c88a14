package simulation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/surplus/config"
)

func newState(t *testing.T) *State {
	t.Helper()
	state, err := NewState(config.Default().Simulation, "0")
	require.NoError(t, err)
	return state
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{line: "P 1500, 300", want: Command{Kind: KindPower, Values: []int{1500, 300}}},
		{line: "p2000", want: Command{Kind: KindPower, Values: []int{2000}}},
		{line: "A 250;120/400 3 4 500 99", want: Command{Kind: KindAnalog, Values: []int{250, 120, 400, 3, 4, 500}}},
		{line: "a", want: Command{Kind: KindAnalog, Values: []int{}}},
		{line: "x", want: Command{Kind: KindStop}},
		{line: "?", want: Command{Kind: KindHelp}},
		{line: "3", want: Command{Kind: KindPrint, PrintCode: '3'}},
		{line: "q", want: Command{Kind: KindPrint, PrintCode: 'Q'}},
	}
	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			got, err := ParseCommand(tc.line)
			require.NoError(t, err)
			require.Equal(t, tc.want.Kind, got.Kind)
			require.Equal(t, tc.want.PrintCode, got.PrintCode)
			if tc.want.Values != nil {
				require.Equal(t, tc.want.Values, got.Values)
			}
		})
	}
}

func TestParseCommandRejectsEmptyLines(t *testing.T) {
	_, err := ParseCommand("   ")
	require.ErrorIs(t, err, ErrUnknownCommand)
	_, err = ParseCommand("\x01")
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestApplyPowerOverride(t *testing.T) {
	state := newState(t)
	require.False(t, state.Snapshot().Override().Active)

	cmd, err := ParseCommand("P 1200, 400")
	require.NoError(t, err)
	state.Apply(cmd)

	override := state.Snapshot().Override()
	require.True(t, override.Active)
	require.Equal(t, 1200.0, override.Generated)
	require.Equal(t, 400.0, override.Consumed)

	cmd, _ = ParseCommand("P 900")
	state.Apply(cmd)
	snap := state.Snapshot()
	require.Equal(t, 900, snap.GeneratedPower)
	require.Equal(t, 400, snap.ConsumedPower, "omitted trailing value keeps its setting")

	cmd, _ = ParseCommand("X")
	require.Equal(t, "No simulation", state.Apply(cmd))
	require.Equal(t, ModeOff, state.Snapshot().Mode)
}

func TestApplyAnalogKeepsOmittedValues(t *testing.T) {
	state := newState(t)
	cmd, _ := ParseCommand("A 300, 150")
	state.Apply(cmd)

	snap := state.Snapshot()
	require.Equal(t, ModeAnalog, snap.Mode)
	require.Equal(t, 300, snap.GenerationAmplitude)
	require.Equal(t, 150, snap.ConsumptionAmplitude)
	require.Equal(t, 410, snap.VoltageAmplitude)
	require.Equal(t, 512, snap.Offset)
	require.False(t, snap.Override().Active)
}

func TestApplyPrintCodeAndHelp(t *testing.T) {
	state := newState(t)
	cmd, _ := ParseCommand("4")
	state.Apply(cmd)
	require.Equal(t, byte('4'), state.Snapshot().PrintCode)

	cmd, _ = ParseCommand("?")
	require.Equal(t, Help, state.Apply(cmd))
	require.Equal(t, byte('4'), state.Snapshot().PrintCode)
}

func TestNewStateRejectsUnknownMode(t *testing.T) {
	_, err := NewState(config.SimulationConfig{Mode: "wind"}, "")
	require.Error(t, err)
}

func TestSineTable(t *testing.T) {
	table := SineTable(40)
	require.Len(t, table, 40)
	require.Equal(t, 0, table[0])
	require.Equal(t, 1000, table[10])
	require.Equal(t, 0, table[20])
	require.Equal(t, -1000, table[30])
	require.Equal(t, 156, table[1])
}
