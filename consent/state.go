package consent

import (
	"errors"
	"time"
)

// ErrInconsistentState is returned for a consent record that is neither opted in nor opted out.
var ErrInconsistentState = errors.New("consent: inconsistent consent state")

// State is the consent record of a contact. Only the two shapes built by OptedIn and OptedOut are valid.
type State struct {
	Granted      bool
	OptedOutAt   *time.Time
	ChangedAt    *time.Time
	ChangeReason *string
}

// OptedIn builds the granted state.
func OptedIn(at time.Time, reason string) State {
	return State{
		Granted:      true,
		ChangedAt:    &at,
		ChangeReason: &reason,
	}
}

// OptedOut builds the withdrawn state.
func OptedOut(at time.Time, reason string) State {
	return State{
		Granted:      false,
		OptedOutAt:   &at,
		ChangedAt:    &at,
		ChangeReason: &reason,
	}
}

// Eligible reports whether a contact in state s may be messaged right now.
func Eligible(s State) bool {
	return s.Granted && s.OptedOutAt == nil
}

// Eligible is the method form of the package-level predicate.
func (s State) Eligible() bool {
	return Eligible(s)
}

// Validate rejects the two mixed shapes.
func (s State) Validate() error {
	if s.Granted != (s.OptedOutAt == nil) {
		return ErrInconsistentState
	}
	return nil
}
