package player

// State is the lifecycle state of a Player.
type State int32

const (
	StateUnknown State = iota
	// StateInitializing is entered on construction and on Open.
	StateInitializing
	// StateBuffering means I/O is running and no decoded frame of the
	// current epoch has arrived yet.
	StateBuffering
	// StateReady means there is enough decoded media to start rendering.
	StateReady
	StatePlaying
	StatePause
	StateStop
	// StateError halts the pipeline until Stop, Open or a seek.
	StateError
	// StateCompleted is entered at the natural end of the stream when loop
	// mode is off.
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateInitializing:
		return "initializing"
	case StateBuffering:
		return "buffering"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePause:
		return "pause"
	case StateStop:
		return "stop"
	case StateError:
		return "error"
	case StateCompleted:
		return "completed"
	default:
		return "invalid"
	}
}

// Terminal reports whether the pipeline is halted in s until it is reset by
// Stop, Open or a seek.
func (s State) Terminal() bool {
	return s == StateError || s == StateCompleted
}

// ErrorCode classifies the pipeline stage that failed.
type ErrorCode int

const (
	CodeIO ErrorCode = iota + 1
	CodeDemux
	CodeDecode
	CodeRender
)

func (c ErrorCode) String() string {
	switch c {
	case CodeIO:
		return "io"
	case CodeDemux:
		return "demux"
	case CodeDecode:
		return "decode"
	case CodeRender:
		return "render"
	default:
		return "unknown"
	}
}
