package model

import (
	"errors"
	"fmt"
)

// Transition errors shared by every entity with a lifecycle.
var (
	// ErrIllegalTransition reports a from->to pair that is not in the table.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrAlreadyInState reports a transition whose target equals the current status.
	ErrAlreadyInState = errors.New("already in requested status")
)

// transition validates from->to against table.  Self transitions are
// reported separately so callers can treat repeated requests as no-ops
// without mistaking them for success.
func transition[S ~string](entity string, table map[S][]S, from, to S) error {
	if from == to {
		return fmt.Errorf("%w: %s is already %s", ErrAlreadyInState, entity, to)
	}
	for _, next := range table[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot move from %s to %s", ErrIllegalTransition, entity, from, to)
}
