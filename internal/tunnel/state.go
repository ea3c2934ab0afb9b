package tunnel

// State is the lifecycle position of a tunnel session.
type State int

const (
	Idle State = iota
	Downloading
	InterfaceAllocated
	ProcessStarted
	Initiating
	Established
	Failed
)

var stateNames = [...]string{
	Idle:               "idle",
	Downloading:        "downloading",
	InterfaceAllocated: "interface-allocated",
	ProcessStarted:     "process-started",
	Initiating:         "initiating",
	Established:        "established",
	Failed:             "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Established || s == Failed
}

// EventKind classifies what happened to a session.
type EventKind int

const (
	// EventNone is an output line without meaning to the state machine.
	EventNone EventKind = iota
	// EventDownload marks the start of the profile download.
	EventDownload
	// EventInterface marks a successful interface allocation.
	EventInterface
	// EventSpawned marks a started process.
	EventSpawned
	// EventPeerInitiated is the peer handshake line.
	EventPeerInitiated
	// EventAddrV4 and EventAddrV6 report a local address; Addr is set.
	EventAddrV4
	EventAddrV6
	// EventEstablished is the initialization-complete line.
	EventEstablished
	// EventFatal is the fatal-exit line.
	EventFatal
	// EventError is a non-fatal error line.
	EventError
	// EventClosed is the end of the process output.
	EventClosed
)

// Event is one step of input to Transition.
type Event struct {
	Kind EventKind
	Line string
	Addr string
}

// Transition returns the state that follows s after e. Terminal states
// absorb every event; events that do not apply leave s unchanged.
func Transition(s State, e Event) State {
	if s.Terminal() {
		return s
	}
	switch e.Kind {
	case EventDownload:
		if s == Idle {
			return Downloading
		}
	case EventInterface:
		if s == Downloading {
			return InterfaceAllocated
		}
	case EventSpawned:
		if s == InterfaceAllocated {
			return ProcessStarted
		}
	case EventPeerInitiated:
		if s == ProcessStarted {
			return Initiating
		}
	case EventEstablished:
		if s == ProcessStarted || s == Initiating {
			return Established
		}
	case EventFatal, EventClosed:
		if s == ProcessStarted || s == Initiating {
			return Failed
		}
	}
	return s
}
