package certdb

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a stored certificate. States are ordered;
// a later insert replaces the stored state only with a higher one.
type State int

const (
	StateUnknown State = iota
	StateValid
	StateExpired
	StateRevoked
	StateBroken
)

var stateNames = [...]string{
	StateUnknown: "unknown",
	StateValid:   "valid",
	StateExpired: "expired",
	StateRevoked: "revoked",
	StateBroken:  "broken",
}

// States returns every state in supersede order.
func States() []State {
	return []State{StateUnknown, StateValid, StateExpired, StateRevoked, StateBroken}
}

func (s State) String() string {
	if s < StateUnknown || s > StateBroken {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Supersedes reports whether s should replace prev.
func (s State) Supersedes(prev State) bool {
	return s > prev
}

// ParseState converts a state name to a State. "unavailable" is accepted
// as an alias for broken.
func ParseState(name string) (State, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "unavailable" {
		return StateBroken, nil
	}
	for i, s := range stateNames {
		if s == n {
			return State(i), nil
		}
	}
	return StateUnknown, fmt.Errorf("unknown certificate state %q", name)
}
