package task

// Phase is the lifecycle position of the controller. Completed, Stopped and
// Errored are outcomes: the controller passes through them straight back
// to Idle and reports the last one in Snapshot.LastOutcome.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseCompleted
	PhaseStopped
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseStopped:
		return "stopped"
	case PhaseErrored:
		return "errored"
	}
	return "unknown"
}
