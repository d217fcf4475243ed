package residency

// State is the residency of one node's mesh in the live scene.
type State int

const (
	Unloaded State = iota
	LoadPending
	Loaded
	UnloadPending
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case LoadPending:
		return "load_pending"
	case Loaded:
		return "loaded"
	case UnloadPending:
		return "unload_pending"
	default:
		return "unknown"
	}
}

// Reader gives read access to residency by node ID. Unknown IDs must read as
// Unloaded.
type Reader interface {
	State(nodeID int) State
}

// Snapshot is a plain residency map. Absent entries are Unloaded.
type Snapshot map[int]State

// State implements Reader.
func (s Snapshot) State(nodeID int) State {
	st, ok := s[nodeID]
	if !ok || st < Unloaded || st > UnloadPending {
		return Unloaded
	}
	return st
}

// ParseState is the inverse of State.String. Unknown names yield Unloaded and
// false.
func ParseState(s string) (State, bool) {
	switch s {
	case "unloaded":
		return Unloaded, true
	case "load_pending":
		return LoadPending, true
	case "loaded":
		return Loaded, true
	case "unload_pending":
		return UnloadPending, true
	default:
		return Unloaded, false
	}
}
