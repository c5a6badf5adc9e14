package iso14230

import "time"

// FormatFlags describes properties of a decoded (or to-be-encoded) Message,
// mirroring the original's DIAG_FMT_* bitmask.
type FormatFlags uint8

const (
	// FmtFuncAddr marks the message as functionally addressed (A2A1 == 11).
	FmtFuncAddr FormatFlags = 1 << iota
	// FmtFramed marks that the message was produced by the Receiver's framing
	// logic (as opposed to being constructed by the caller for send).
	FmtFramed
	// FmtCksummed marks that a checksum was present and has been verified
	// (whether or not it matched — see FmtBadCS).
	FmtCksummed
	// FmtBadCS marks that the checksum byte did not match the computed sum.
	// The message is still delivered; the caller decides what to do.
	FmtBadCS
)

// Message is a single framed application-layer payload, as produced by the
// Receiver or constructed by a caller for Send/Request.
type Message struct {
	// Data is the payload view: header and checksum bytes already stripped
	// on receive, and not yet added on send.
	Data []byte
	// Src and Dst are the 8-bit addresses; 0 when addressless or unknown.
	Src, Dst byte
	// Format is the subset of FormatFlags describing how this message was
	// received or should be sent.
	Format FormatFlags
	// RxTime is when the Receiver finished decoding this message's frame,
	// after the whole receive has ended (not when its first byte arrived).
	// Zero for messages the caller constructs to send.
	RxTime time.Time
}

// Len returns the payload length, mirroring the original's msg.len field.
func (m *Message) Len() int {
	return len(m.Data)
}

// Release exists to mirror the allocate/release convention the original C
// driver used for diag_msg; in Go the backing array is reclaimed by the
// garbage collector once the last reference is dropped, so Release is a
// no-op provided purely so callers can write the same free-after-use shape
// the original API expected.
func (m *Message) Release() {}
