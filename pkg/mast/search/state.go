package search

import "fmt"

// State is the lifecycle position of a search run.
type State int

const (
	Idle State = iota
	Scanning
	Extracting
	Complete
	Failed
	Canceled
)

var stateNames = [...]string{
	Idle:       "idle",
	Scanning:   "scanning",
	Extracting: "extracting",
	Complete:   "complete",
	Failed:     "failed",
	Canceled:   "canceled",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == Complete || s == Failed || s == Canceled
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown search state %q", b)
}
