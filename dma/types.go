package dma

import (
	"strconv"
	"time"

	"github.com/zyedidia/generic"
)

// Direction indicates data flow direction.
type Direction int

// Direction values.
const (
	ToDevice      Direction = 1
	FromDevice    Direction = 2
	Bidirectional Direction = ToDevice | FromDevice
)

// Has determines whether d includes every bit of want.
func (d Direction) Has(want Direction) bool {
	return d&want == want
}

func (d Direction) String() string {
	switch d {
	case ToDevice:
		return "to-device"
	case FromDevice:
		return "from-device"
	case Bidirectional:
		return "bidirectional"
	}
	return strconv.Itoa(int(d))
}

// MarshalText implements encoding.TextMarshaler interface.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler interface.
func (d *Direction) UnmarshalText(text []byte) error {
	switch s := string(text); s {
	case "to-device", "write", "w":
		*d = ToDevice
	case "from-device", "read", "r":
		*d = FromDevice
	case "bidirectional", "both", "rw":
		*d = Bidirectional
	default:
		v, e := strconv.Atoi(s)
		if e != nil || v < 1 || v > 3 {
			return ErrInvalidArgument
		}
		*d = Direction(v)
	}
	return nil
}

// EngineType indicates how an engine delivers data.
type EngineType int

// EngineType values.
const (
	TypeUnknown EngineType = iota
	TypeBlock
	TypePacket
)

func (t EngineType) String() string {
	switch t {
	case TypeBlock:
		return "block"
	case TypePacket:
		return "packet"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler interface.
func (t EngineType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// EngineID is an index into the engine table of a Dispatcher.
type EngineID int

// InvalidEngine indicates no engine.
const InvalidEngine EngineID = -1

// EngineInfo describes static engine configuration.
type EngineInfo struct {
	Addr      int        `json:"addr"`
	Direction Direction  `json:"direction"`
	Type      EngineType `json:"type"`
	AddrBits  int        `json:"addrBits"`
	Name      string     `json:"name"`
}

// Flags modifies DMA operations.
type Flags uint32

// Flags values.
const (
	FlagEOP          Flags = 1 << iota // end of packet
	FlagWait                           // wait for hardware
	FlagMultiPacket                    // Read accepts several packets
	FlagPersistent                     // leave engine running on stop, or force it down
	FlagIgnoreErrors                   // continue past inconsistencies in Skip

	FlagsDefault Flags = 0
)

// Action tells the stream loop how to wait for the next buffer.
// The low bits select the wait policy, FailOnTimeout makes timeout an error.
type Action int

// Action values.
const (
	ActionStop          Action = 0
	ActionContinue      Action = 1 // wait default timeout
	ActionWait          Action = 2 // wait caller timeout, at least default timeout
	ActionCheck         Action = 3 // poll once
	ActionFailOnTimeout Action = 4
	ActionReqFragment          = ActionFailOnTimeout | ActionContinue
	ActionReqPacket            = ActionFailOnTimeout | ActionWait

	ActionTimeoutMask Action = 3
)

func (a Action) String() string {
	switch a {
	case ActionStop:
		return "stop"
	case ActionContinue:
		return "continue"
	case ActionWait:
		return "wait"
	case ActionCheck:
		return "check"
	case ActionReqFragment:
		return "req-fragment"
	case ActionReqPacket:
		return "req-packet"
	}
	return strconv.Itoa(int(a))
}

// NextWait determines the timeout for the wait following a callback that returned a.
// callerTimeout is the timeout passed to Stream; dflt is the engine default timeout.
func (a Action) NextWait(callerTimeout, dflt Timeout) (timeout Timeout, failOnTimeout bool) {
	failOnTimeout = a&ActionFailOnTimeout != 0
	switch a & ActionTimeoutMask {
	case ActionContinue:
		return dflt, failOnTimeout
	case ActionWait:
		if callerTimeout == Infinite || dflt == Infinite {
			return Infinite, failOnTimeout
		}
		return generic.Max(callerTimeout, dflt), failOnTimeout
	default:
		return Immediate, failOnTimeout
	}
}

// Timeout is a duration in microseconds.
type Timeout int64

// Special Timeout values.
const (
	Infinite  Timeout = -1
	Immediate Timeout = 0
)

// TimeoutFromDuration converts time.Duration to Timeout.
func TimeoutFromDuration(d time.Duration) Timeout {
	if d < 0 {
		return Infinite
	}
	return Timeout(d / time.Microsecond)
}

// Duration converts to time.Duration.
// Infinite converts to a negative duration.
func (t Timeout) Duration() time.Duration {
	return time.Duration(t) * time.Microsecond
}

func (t Timeout) String() string {
	if t == Infinite {
		return "infinite"
	}
	return t.Duration().String()
}

// BufferStatus describes one ring slot.
type BufferStatus struct {
	Used  bool `json:"used"`
	Error bool `json:"error"`
	First bool `json:"first"`
	Last  bool `json:"last"`
	Size  int  `json:"size"`
}

// EngineStatus describes engine runtime state.
type EngineStatus struct {
	Started        bool  `json:"started"`
	RingSize       int   `json:"ringSize"`
	BufferSize     int   `json:"bufferSize"`
	RingHead       int   `json:"ringHead"`
	RingTail       int   `json:"ringTail"`
	WrittenBuffers int   `json:"writtenBuffers,omitempty"`
	WrittenBytes   int64 `json:"writtenBytes,omitempty"`
}

// IRQType selects interrupt kinds.
type IRQType int

// IRQType values.
const (
	IRQNone  IRQType = 0
	IRQDMA   IRQType = 1 // DMA engine completion
	IRQEvent IRQType = 2 // user logic event
	IRQAll   IRQType = IRQDMA | IRQEvent
)

// IRQSource identifies the interrupt source, usually an engine.
type IRQSource int

// IRQSourceAll selects every source.
const IRQSourceAll IRQSource = -1
