package flight

import "time"

// State is the read model of a flight returned by enumeration and lookup.
type State struct {
	FlightID      string
	ClassName     string
	Status        Status
	OwnerID       string
	SubmitTime    time.Time
	CompletedTime *time.Time

	// Input is the sealed input map submitted at creation.
	Input *FlightMap
	// Progress is the raw persisted-state map (progress meters).
	Progress map[string]string

	// Exception is the decoded terminal error, when any.
	Exception error
}

// Terminal reports whether the flight has reached a final status.
func (s *State) Terminal() bool { return s.Status.Terminal() }
