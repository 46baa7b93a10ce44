package flight

// Status is the persisted lifecycle state of a flight row.
type Status string

const (
	StatusRunning        Status = "RUNNING"
	StatusSuccess        Status = "SUCCESS"
	StatusError          Status = "ERROR"
	StatusFatal          Status = "FATAL"
	StatusWaiting        Status = "WAITING"
	StatusReady          Status = "READY"
	StatusQueued         Status = "QUEUED"
	StatusReadyToRestart Status = "READY_TO_RESTART"
)

// Terminal reports whether the status is final. Terminal rows are immutable
// except for deletion.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusFatal:
		return true
	}
	return false
}

// Resumable reports whether an unowned flight in this status may be claimed
// by an engine instance.
func (s Status) Resumable() bool {
	switch s {
	case StatusWaiting, StatusReady, StatusQueued, StatusReadyToRestart:
		return true
	}
	return false
}

// Direction is the phase of the flight state machine.
type Direction string

const (
	DirectionStart  Direction = "START"
	DirectionDo     Direction = "DO"
	DirectionUndo   Direction = "UNDO"
	DirectionSwitch Direction = "SWITCH"
)

// Doing reports whether the flight is making forward progress.
func (d Direction) Doing() bool {
	return d == DirectionStart || d == DirectionDo
}

// Undoing reports whether the flight is compensating. SWITCH counts: the
// current step is about to be undone.
func (d Direction) Undoing() bool {
	return d == DirectionUndo || d == DirectionSwitch
}
