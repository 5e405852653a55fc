package engine

// State of the build pipeline.
type State int32

const (
	Idle State = iota
	Filtering
	Building
	Publishing
)

func (s State) String() string {
	switch s {
	case Filtering:
		return "filtering"
	case Building:
		return "building"
	case Publishing:
		return "publishing"
	default:
		return "idle"
	}
}
