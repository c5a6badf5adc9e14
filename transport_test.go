package iso14230

import (
	"context"
	"time"
)

// fakeTransport is an in-memory iso14230.Transport for tests: reads are
// served from a queue, one entry per Recv call, writes are recorded, and
// InitBus/SetSpeed/InputFlush are no-ops unless a test wires a callback.
// A nil entry (as opposed to an empty, non-nil slice) stands for a timed-out
// read, letting a test force a message/response boundary mid-queue; once
// the queue is exhausted every further call also times out.
type fakeTransport struct {
	rxQueue  [][]byte
	rxCursor int

	sent [][]byte

	flags L1Flags

	onInitBus func(mode InitBusMode) error
}

func (f *fakeTransport) Recv(ctx context.Context, _ int, buf []byte, _ time.Duration) (int, error) {
	if f.rxCursor >= len(f.rxQueue) {
		return 0, ErrTimeout
	}
	chunk := f.rxQueue[f.rxCursor]
	f.rxCursor++
	if chunk == nil {
		return 0, ErrTimeout
	}
	n := copy(buf, chunk)
	return n, nil
}

func (f *fakeTransport) Send(ctx context.Context, _ int, buf []byte, _ time.Duration) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) SetSpeed(int) error  { return nil }
func (f *fakeTransport) InputFlush() error   { return nil }
func (f *fakeTransport) Flags() L1Flags      { return f.flags }
func (f *fakeTransport) InitBus(_ context.Context, mode InitBusMode) error {
	if f.onInitBus != nil {
		return f.onInitBus(mode)
	}
	return nil
}
