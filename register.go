package iso14230

import (
	"context"
	"sync"

	"github.com/7-even/iso14230/klog"
)

// ProtocolID identifies an L2 protocol driver in a Registry.
type ProtocolID string

// ProtocolISO14230 is this package's registry key.
const ProtocolISO14230 ProtocolID = "ISO14230"

// Capability is a bit in a protocol descriptor's capability set.
type Capability uint8

const (
	CapFramed Capability = 1 << iota
	CapKeepAlive
	CapDoesCksum
)

// FuncTable is the set of session operations a protocol descriptor
// publishes, bound to a concrete SessionFSM.
type FuncTable struct {
	StartComms func(ctx context.Context, l1 Transport, flags StartFlags, bitrate int, target, source byte) (*Connection, *Error)
	StopComms  func(ctx context.Context, conn *Connection) *Error
	Request    func(ctx context.Context, conn *Connection, msg *Message) (*Message, *Error)
	Timeout    func(ctx context.Context, conn *Connection)
}

// Descriptor is what a protocol driver publishes into a Registry.
type Descriptor struct {
	ID           ProtocolID
	Capabilities Capability
	Funcs        FuncTable
}

// Registry holds one Descriptor per protocol id. A process may register
// several L2 drivers; this package registers only ProtocolISO14230.
type Registry struct {
	mu    sync.Mutex
	descs map[ProtocolID]Descriptor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{descs: make(map[ProtocolID]Descriptor)}
}

// Add installs desc, replacing any prior entry under the same ID.
func (r *Registry) Add(desc Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs[desc.ID] = desc
}

// Lookup returns the descriptor registered under id, if any.
func (r *Registry) Lookup(id ProtocolID) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descs[id]
	return d, ok
}

// Register publishes this package's ISO14230 descriptor into registry,
// binding its FuncTable to a fresh SessionFSM. It replaces the original
// driver's link-time registration side effect with an explicit call (§A.5).
func Register(registry *Registry, log *klog.Context) {
	fsm := SessionFSM{}

	registry.Add(Descriptor{
		ID:           ProtocolISO14230,
		Capabilities: CapFramed | CapKeepAlive | CapDoesCksum,
		Funcs: FuncTable{
			StartComms: func(ctx context.Context, l1 Transport, flags StartFlags, bitrate int, target, source byte) (*Connection, *Error) {
				return fsm.StartComms(ctx, l1, log, flags, bitrate, target, source, DefaultTimings())
			},
			StopComms: func(ctx context.Context, conn *Connection) *Error {
				return fsm.StopComms(ctx, conn, nil)
			},
			Request: func(ctx context.Context, conn *Connection, msg *Message) (*Message, *Error) {
				return fsm.Request(ctx, conn, nil, msg)
			},
			Timeout: func(ctx context.Context, conn *Connection) {
				fsm.Timeout(ctx, conn, nil)
			},
		},
	})
}
