package publisher

import (
	"errors"
	"fmt"
	"strings"
)

// BackPressureStrategy decides what Push does when the queue is full.
type BackPressureStrategy string

const (
	// Raise rejects the message with ErrQueueFull.
	Raise BackPressureStrategy = "raise"
	// Drop discards the message and returns nil.
	Drop BackPressureStrategy = "drop"
	// Wait blocks the caller until the queue has room.
	Wait BackPressureStrategy = "wait"
)

var ErrInvalidStrategy = errors.New("invalid back-pressure strategy")

// ParseBackPressureStrategy accepts raise, drop or wait in any case.
func ParseBackPressureStrategy(s string) (BackPressureStrategy, error) {
	switch st := BackPressureStrategy(strings.ToLower(strings.TrimSpace(s))); st {
	case Raise, Drop, Wait:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q (want raise, drop or wait)", ErrInvalidStrategy, s)
	}
}

func (s BackPressureStrategy) String() string { return string(s) }

// UnmarshalText lets config decoders parse a strategy directly.
func (s *BackPressureStrategy) UnmarshalText(text []byte) error {
	st, err := ParseBackPressureStrategy(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}
