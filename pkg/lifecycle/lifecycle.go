// Package lifecycle defines the document lifecycle state machine.
//
// A document moves CLAIMED -> EXTRACTED -> VALIDATED -> STORED -> ARCHIVED
// on the happy path. FAILED and REVIEW_REQUIRED are re-claimable so a crashed
// or replayed document can be picked up again; ARCHIVED and FAILED are
// terminal.
package lifecycle

import (
	"fmt"
	"strings"
)

// State is a lifecycle state of a document claim.
type State string

const (
	StateNew            State = "NEW"
	StateClaimed        State = "CLAIMED"
	StateExtracted      State = "EXTRACTED"
	StateValidated      State = "VALIDATED"
	StateReviewRequired State = "REVIEW_REQUIRED"
	StateStored         State = "STORED"
	StateArchived       State = "ARCHIVED"
	StateFailed         State = "FAILED"
)

// InvalidTransitionError reports a transition not present in the allowed table.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

var allowed = map[State]map[State]bool{
	StateNew:            {StateClaimed: true, StateFailed: true},
	StateClaimed:        {StateExtracted: true, StateFailed: true},
	StateExtracted:      {StateValidated: true, StateReviewRequired: true, StateFailed: true},
	StateValidated:      {StateStored: true, StateReviewRequired: true, StateFailed: true},
	StateReviewRequired: {StateClaimed: true, StateFailed: true},
	StateStored:         {StateArchived: true, StateFailed: true},
	StateArchived:       {},
	StateFailed:         {},
}

// Normalize trims and upper-cases a raw state string.
func Normalize(s string) State {
	return State(strings.ToUpper(strings.TrimSpace(s)))
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s State) bool {
	targets, ok := allowed[Normalize(string(s))]
	return ok && len(targets) == 0
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to State) bool {
	return allowed[Normalize(string(from))][Normalize(string(to))]
}

// Transition validates from -> to and returns the normalized target state.
// Rejections are programmer errors; steady-state callers never hit them.
func Transition(from, to State) (State, error) {
	f := Normalize(string(from))
	t := Normalize(string(to))
	if _, ok := allowed[f]; !ok {
		return "", &InvalidTransitionError{From: f, To: t}
	}
	if _, ok := allowed[t]; !ok {
		return "", &InvalidTransitionError{From: f, To: t}
	}
	if !allowed[f][t] {
		return "", &InvalidTransitionError{From: f, To: t}
	}
	return t, nil
}

// States returns every known state. Order is stable.
func States() []State {
	return []State{
		StateNew, StateClaimed, StateExtracted, StateValidated,
		StateReviewRequired, StateStored, StateArchived, StateFailed,
	}
}
