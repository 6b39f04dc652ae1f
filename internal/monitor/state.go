package monitor

// State is a control loop state.
type State int

const (
	Bootstrapping State = iota
	Authenticated
	Monitoring
	Refreshing
	ReAuthenticating
	Stopped
)

func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "bootstrapping"
	case Authenticated:
		return "authenticated"
	case Monitoring:
		return "monitoring"
	case Refreshing:
		return "refreshing"
	case ReAuthenticating:
		return "reauthenticating"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
