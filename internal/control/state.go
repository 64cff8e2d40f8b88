package control

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateWarming
	StateRunning
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateWarming:
		return "Warming"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateError:
		return "Error"
	}
	return "Unknown"
}

type View int

const (
	ViewDashboard View = iota
	ViewResults
)

func (v View) String() string {
	if v == ViewResults {
		return "Results"
	}
	return "Dashboard"
}
