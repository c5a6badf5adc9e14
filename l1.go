package iso14230

import (
	"context"
	"time"
)

// L1Flags mirrors the capability bitset a transport reports, per §6.
type L1Flags uint8

const (
	// DoesL2Frame means the transport delivers one complete L2 frame per
	// Recv call (smart interfaces coalesce bytes for us).
	DoesL2Frame L1Flags = 1 << iota
	// DoesP4Wait means the transport already enforces the P4min inter-byte
	// delay on send, so timeouts should be extended the same way as
	// DoesL2Frame.
	DoesP4Wait
	// DoesL2Cksum means the transport computes and appends the checksum
	// byte itself; this layer must not add one.
	DoesL2Cksum
	// StripsL2Cksum means the transport has already removed the checksum
	// byte from received data; this layer must not try to verify/strip it.
	StripsL2Cksum
	// DoesSlowInit means the transport already performs the full 5-baud
	// handshake (including the KB2-complement exchange), so SessionFSM must
	// not repeat that part of it.
	DoesSlowInit
)

// Has reports whether all bits in want are set.
func (f L1Flags) Has(want L1Flags) bool {
	return f&want == want
}

// InitBusMode selects a bus-init primitive.
type InitBusMode struct {
	// Fast selects the 25/25ms wake pulse + StartComms exchange.
	Fast bool
	// Addr is the target address sent at 5 baud when Fast is false.
	Addr byte
}

// Transport is the L1 contract this layer consumes (§6). Implementations
// live outside this package (see package serialport for a concrete one).
type Transport interface {
	// Recv reads up to len(buf) bytes, blocking for at most timeout. A
	// timeout expiry is reported as ErrTimeout (via errors.Is). flags is
	// reserved for future per-call options and is currently always 0.
	Recv(ctx context.Context, flags int, buf []byte, timeout time.Duration) (int, error)

	// Send writes buf, pacing bytes interbyteDelay apart.
	Send(ctx context.Context, flags int, buf []byte, interbyteDelay time.Duration) error

	// SetSpeed configures the line for 8-N-1 at bps.
	SetSpeed(bps int) error

	// InputFlush discards unread input.
	InputFlush() error

	// InitBus drives the bus-init sequence described by mode.
	InitBus(ctx context.Context, mode InitBusMode) error

	// Flags reports this transport's capability bitset.
	Flags() L1Flags
}
