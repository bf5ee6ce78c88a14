package simulation

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// ErrUnknownCommand is returned for lines that carry no usable command.
var ErrUnknownCommand = errors.New("unknown command")

// Kind identifies a console command.
type Kind int

const (
	KindPrint Kind = iota
	KindPower
	KindAnalog
	KindStop
	KindHelp
)

// Command is one parsed console line.
type Command struct {
	Kind      Kind
	Values    []int
	PrintCode byte
}

// Help describes the console commands.
const Help = `SIMULATION MODES
  P gggg, cccc                  simulate powers: generated and consumed (W)
  A iii, jjj, vvv, rr, ss, ooo  simulate analog inputs: generated current, consumed current
                                and mains voltage amplitudes (ADC counts), generated and
                                consumed current phase (samples), reference level (ADC counts)
  X                             end simulation
Trailing values can be omitted; omitted values keep their previous setting.

PRINTING MODES
  1: times, 2: measures, 3: computed values, 4: filtered values, 0: no print`

// ParseCommand interprets one console line. The first character selects the
// command; in numeric commands every non-digit acts as a separator.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, ErrUnknownCommand
	}
	first := upper(line[0])
	switch first {
	case 'X':
		return Command{Kind: KindStop}, nil
	case '?':
		return Command{Kind: KindHelp}, nil
	case 'P':
		return Command{Kind: KindPower, Values: numbers(line[1:], 2)}, nil
	case 'A':
		return Command{Kind: KindAnalog, Values: numbers(line[1:], 6)}, nil
	}
	if first > unicode.MaxASCII || !unicode.IsPrint(rune(first)) {
		return Command{}, ErrUnknownCommand
	}
	return Command{Kind: KindPrint, PrintCode: first}, nil
}

func numbers(text string, limit int) []int {
	fields := strings.FieldsFunc(text, func(r rune) bool { return r < '0' || r > '9' })
	values := make([]int, 0, limit)
	for _, field := range fields {
		if len(values) == limit {
			break
		}
		v, err := strconv.Atoi(field)
		if err != nil {
			break
		}
		values = append(values, v)
	}
	return values
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
