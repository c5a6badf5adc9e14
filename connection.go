package iso14230

import (
	"sync"
	"time"

	"github.com/7-even/iso14230/klog"
)

// InitType selects how StartComms wakes up the ECU.
type InitType int

const (
	// FastInit uses the 25/25ms wake pulse followed by a StartComms request.
	FastInit InitType = iota
	// SlowInit uses the 5-baud address-byte handshake.
	SlowInit
	// MonitorMode does nothing on the wire; used to passively listen.
	MonitorMode
)

// State is the connection's lifecycle state.
type State int

const (
	Closed State = iota
	Connecting
	Established
	Closing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Established:
		return "established"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Timings carries the ISO 14230 P1-P4 timing parameters as durations,
// supplied by the caller (the standard leaves exact values to negotiation;
// this layer never renegotiates them — see Non-goals).
type Timings struct {
	P1Max time.Duration
	P2Min time.Duration
	P2Max time.Duration
	P3Min time.Duration
	P4Max time.Duration
	P4Min time.Duration
}

// DefaultTimings returns the commonly used ISO 14230 defaults.
func DefaultTimings() Timings {
	return Timings{
		P1Max: 20 * time.Millisecond,
		P2Min: 25 * time.Millisecond,
		P2Max: 50 * time.Millisecond,
		P3Min: 55 * time.Millisecond,
		P4Max: 20 * time.Millisecond,
		P4Min: 5 * time.Millisecond,
	}
}

// rxBufSize holds the largest possible frame (4-byte addressed header with
// length byte + 255-byte payload + 1 checksum byte = 260).
const rxBufSize = 260

// Connection holds all per-peer negotiated state for one ISO 14230 session.
// It is mutated only by the active flow (StartComms/Request/Timeout); the
// mutex exists solely to keep a timer-driven Timeout call from interleaving
// with an application-driven Request on the same Connection (§5).
type Connection struct {
	mu sync.Mutex

	SrcAddr, DstAddr byte
	KB1, KB2         byte
	ModeFlags        ModeFlags
	InitType         InitType
	State            State
	Timings          Timings
	PhysAddr         byte

	// firstFrame gates the addressless-header rejection during session
	// start; cleared the first time a decode succeeds (§3, §9).
	firstFrame bool

	rxbuf    []byte
	rxoffset int

	// pending is not written by Receiver: Reassemble returns its messages
	// directly to the caller, in arrival order.
	pending []*Message

	Log *klog.Context

	l1 Transport
}

func newConnection(l1 Transport, src, dst byte, timings Timings, log *klog.Context) *Connection {
	return &Connection{
		SrcAddr:    src,
		DstAddr:    dst,
		Timings:    timings,
		firstFrame: true,
		rxbuf:      make([]byte, rxBufSize),
		Log:        log,
		l1:         l1,
		State:      Closed,
	}
}

// Lock/Unlock expose the connection's mutex so Request and Timeout can
// serialize against each other without this package needing a bespoke
// re-entrant scheduler.
func (c *Connection) Lock()   { c.mu.Lock() }
func (c *Connection) Unlock() { c.mu.Unlock() }
