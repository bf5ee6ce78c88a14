package scheduler

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mathrand "math/rand"
	"strings"
	"time"
)

// Source supplies the randomness used to spread refresh transmissions.
type Source interface {
	Int63() (int64, error)
}

// pseudoSource wraps math/rand to provide deterministic pseudo random numbers.
type pseudoSource struct {
	rng *mathrand.Rand
}

// NewPseudoSource returns a math/rand backed source. A nil seed uses the current time.
func NewPseudoSource(seed *int64) Source {
	var src mathrand.Source
	if seed != nil {
		src = mathrand.NewSource(*seed)
	} else {
		src = mathrand.NewSource(time.Now().UnixNano())
	}
	return &pseudoSource{rng: mathrand.New(src)}
}

func (s *pseudoSource) Int63() (int64, error) {
	return s.rng.Int63(), nil
}

// secureSource uses crypto/rand to provide cryptographically strong randomness.
type secureSource struct{}

func (secureSource) Int63() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("secure source: %w", err)
	}
	// Mask the sign bit to keep the value in the positive range.
	val := binary.BigEndian.Uint64(buf[:]) & math.MaxInt64
	return int64(val), nil
}

// NewSource resolves a configured source name.
func NewSource(name string, seed *int64) (Source, error) {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case "", "pseudo", "math":
		return NewPseudoSource(seed), nil
	case "secure", "crypto":
		return secureSource{}, nil
	default:
		return nil, fmt.Errorf("unknown random source %q", name)
	}
}

// intInRange draws uniformly from [min, max] without modulo bias.
func intInRange(src Source, min, max int) (int, error) {
	if min == max {
		return min, nil
	}
	if max < min {
		return 0, fmt.Errorf("invalid integer range [%d, %d]", min, max)
	}
	span := int64(max - min + 1)
	limit := (math.MaxInt64 / span) * span
	for {
		value, err := src.Int63()
		if err != nil {
			return 0, err
		}
		if value < limit {
			return min + int(value%span), nil
		}
	}
}
