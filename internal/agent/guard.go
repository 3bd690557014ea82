package agent

import (
	"errors"
	"fmt"
)

// MaxCapitalGrowth is the largest multiple a positive capital may jump to in a
// single mutation.
const MaxCapitalGrowth = 10.0

var ErrCapitalGuard = errors.New("capital guard violation")

// GuardError carries the rejected transition.
type GuardError struct {
	Old    float64
	New    float64
	Reason string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("%s: %s (%.2f -> %.2f)", ErrCapitalGuard, e.Reason, e.Old, e.New)
}

func (e *GuardError) Unwrap() error {
	return ErrCapitalGuard
}

// ValidateCapitalChange rejects negative capital and jumps above 10x of a
// positive previous value. Every capital mutation goes through it.
func ValidateCapitalChange(oldCapital, newCapital float64) error {
	if newCapital < 0 {
		return &GuardError{Old: oldCapital, New: newCapital, Reason: "capital cannot be negative"}
	}
	if oldCapital > 0 && newCapital > oldCapital*MaxCapitalGrowth {
		return &GuardError{
			Old:    oldCapital,
			New:    newCapital,
			Reason: fmt.Sprintf("increase of %.1fx exceeds %.0fx limit", newCapital/oldCapital, MaxCapitalGrowth),
		}
	}
	return nil
}
