package iso14230

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/7-even/iso14230/klog"
)

// Service IDs and NRCs this layer inspects directly (§6).
const (
	sidStartComms     = 0x81
	sidStartCommsPos  = 0xC1
	sidStopComms      = 0x82
	sidTesterPresent  = 0x3E
	sidNegResponse    = 0x7F
	nrcBusyRepeat     = 0x21
	nrcResponsePend   = 0x78
	maxBusyRepeatTrys = 3
)

// StartFlags carries the caller's StartComms request: how to wake the ECU
// and which addressing/keep-alive convention to use once established.
type StartFlags struct {
	Init      InitType
	FuncAddr  bool
	IdleJ1978 bool
}

// SessionOptions carries optional, explicitly-requested deviations from the
// faithful defaults. A nil *SessionOptions (or a zero value) leaves the
// ResponsePending loop unbounded, as in the original driver; BusyRepeatRequest
// resends are paced 50ms apart either way.
type SessionOptions struct {
	// BackOff, when non-nil, caps the cumulative wait across a request's
	// ResponsePending (NRC 0x78) loop: backoff.Stop from NextBackOff() turns
	// an otherwise-indefinite wait into a Timeout. Leave nil to keep the
	// original's unbounded ResponsePending behavior (Design Note, §9).
	BackOff backoff.BackOff
}

// DefaultBitrate is used by StartComms when the caller passes 0.
const DefaultBitrate = 10400

// SessionFSM implements startcomms/stopcomms/request/timeout (§4.4). It
// holds no state of its own; everything mutable lives on the Connection.
type SessionFSM struct {
	Receiver Receiver
	Sender   Sender
}

// StartComms establishes a session with the ECU at target, as source,
// per flags, and returns the resulting Connection once Established.
func (fsm SessionFSM) StartComms(ctx context.Context, l1 Transport, log *klog.Context, flags StartFlags, bitrate int, target, source byte, timings Timings) (*Connection, *Error) {
	if bitrate == 0 {
		bitrate = DefaultBitrate
	}

	conn := newConnection(l1, source, target, timings, log)
	conn.InitType = flags.Init
	if flags.FuncAddr {
		conn.ModeFlags |= FuncAddr
	}
	if flags.IdleJ1978 {
		conn.ModeFlags |= IdleJ1978
	}

	if err := l1.SetSpeed(bitrate); err != nil {
		return nil, wrapErr(CodeL1Error, "set speed", err)
	}
	if err := l1.InputFlush(); err != nil {
		return nil, wrapErr(CodeL1Error, "flush input", err)
	}
	time.Sleep(300 * time.Millisecond)

	conn.State = Connecting

	switch flags.Init {
	case FastInit:
		if err := fsm.fastInit(ctx, conn); err != nil {
			return nil, err
		}
	case SlowInit:
		if err := fsm.slowInit(ctx, conn); err != nil {
			return nil, err
		}
	case MonitorMode:
		// no wire activity to dispatch; fall through to the shared
		// modeflags-derivation and bus-drain steps below.
	default:
		return nil, wrapErr(CodeInitNotSupported, "unknown init type", nil)
	}

	fsm.deriveModeFlags(conn)
	fsm.drainBus(ctx, conn)

	conn.State = Established
	return conn, nil
}

func (fsm SessionFSM) fastInit(ctx context.Context, conn *Connection) *Error {
	if log := conn.Log; log != nil {
		log.Init.Debug("fast init", "target", conn.DstAddr, "source", conn.SrcAddr)
	}

	if err := conn.l1.InitBus(ctx, InitBusMode{Fast: true}); err != nil {
		return wrapErr(CodeL1Error, "fast init bus pulse", err)
	}

	conn.ModeFlags |= LongHdr
	req := &Message{Data: []byte{sidStartComms}, Dst: conn.DstAddr, Src: conn.SrcAddr}
	if err := fsm.Sender.Send(ctx, conn, req); err != nil {
		return err
	}

	timeout := conn.Timings.P2Max + 5*time.Millisecond
	if conn.l1.Flags().Has(DoesL2Frame) {
		timeout = 200 * time.Millisecond
	}

	msgs, err := fsm.Receiver.Reassemble(ctx, conn, timeout)
	if err != nil {
		return err
	}
	resp := msgs[0]

	if len(resp.Data) == 0 {
		return wrapErr(CodeEcuSaidNo, "empty StartComms response", nil)
	}
	switch resp.Data[0] {
	case sidStartCommsPos:
		if len(resp.Data) < 3 {
			return wrapErr(CodeBadData, "short StartComms positive response", nil)
		}
		conn.KB1 = resp.Data[1]
		conn.KB2 = resp.Data[2]
		conn.PhysAddr = resp.Src
		return nil
	case sidNegResponse:
		return wrapErr(CodeEcuSaidNo, "ECU refused StartComms", nil)
	default:
		return wrapErr(CodeEcuSaidNo, "unexpected StartComms response", nil)
	}
}

func (fsm SessionFSM) slowInit(ctx context.Context, conn *Connection) *Error {
	if log := conn.Log; log != nil {
		log.Init.Debug("slow init", "target", conn.DstAddr)
	}

	if err := conn.l1.InitBus(ctx, InitBusMode{Fast: false, Addr: conn.DstAddr}); err != nil {
		return wrapErr(CodeL1Error, "5-baud address byte", err)
	}

	b0, err := fsm.recvRawByte(ctx, conn, 100*time.Millisecond)
	if err != nil {
		return err
	}
	b1, err := fsm.recvRawByte(ctx, conn, 100*time.Millisecond)
	if err != nil {
		return err
	}

	kb2 := b1
	if kb2 != 0x8F {
		return wrapErr(CodeWrongKeyBytes, "kb2 mismatch", nil)
	}
	kb1 := b0 & 0x7F

	if !conn.l1.Flags().Has(DoesSlowInit) {
		if err := conn.l1.Send(ctx, 0, []byte{^kb2}, 0); err != nil {
			return wrapErr(CodeL1Error, "kb2 complement", err)
		}
		ack, err := fsm.recvRawByte(ctx, conn, 100*time.Millisecond)
		if err != nil {
			return err
		}
		if ack != ^conn.DstAddr {
			return wrapErr(CodeWrongKeyBytes, "address complement mismatch", nil)
		}
	}

	conn.KB1, conn.KB2 = kb1, kb2
	conn.PhysAddr = conn.DstAddr
	return nil
}

// recvRawByte reads a single byte directly from L1, bypassing the framed
// Receiver: the 5-baud handshake bytes aren't framed messages.
func (fsm SessionFSM) recvRawByte(ctx context.Context, conn *Connection, timeout time.Duration) (byte, *Error) {
	buf := make([]byte, 1)
	n, err := conn.l1.Recv(ctx, 0, buf, timeout)
	if err != nil {
		if isTimeout(err) {
			return 0, wrapErr(CodeWrongKeyBytes, "no key byte within window", nil)
		}
		return 0, wrapErr(CodeL1Error, "receive key byte", err)
	}
	if n < 1 {
		return 0, wrapErr(CodeWrongKeyBytes, "short key byte read", nil)
	}
	return buf[0], nil
}

// deriveModeFlags maps KB1's low nibble onto ModeFlags, per §4.4 step 4.
func (fsm SessionFSM) deriveModeFlags(conn *Connection) {
	nibble := conn.KB1 & 0x0F
	var derived ModeFlags
	if nibble&0x1 != 0 {
		derived |= FmtLen
	}
	if nibble&0x2 != 0 {
		derived |= LenByte
	}
	if nibble&0x4 != 0 {
		derived |= ShortHdr
	}
	if nibble&0x8 != 0 {
		derived |= LongHdr
	}
	// Preserve the caller-supplied FuncAddr/IdleJ1978 bits set before init.
	derived |= conn.ModeFlags & (FuncAddr | IdleJ1978)
	conn.ModeFlags = derived
}

// drainBus discards whatever trails the init exchange before the session is
// considered idle, per §4.4 step 5. Errors here are expected (timeout means
// the bus has gone quiet) and are not propagated.
func (fsm SessionFSM) drainBus(ctx context.Context, conn *Connection) {
	tout := conn.Timings.P2Max / 2
	if min := 5 * conn.Timings.P4Max; min > tout {
		tout = min
	}
	scratch := make([]byte, rxBufSize)
	for {
		_, err := conn.l1.Recv(ctx, 0, scratch, tout)
		if err != nil {
			return
		}
	}
}

// Request sends msg and returns the ECU's eventual positive (or unrecovered
// negative) response, per §4.4. It locks conn for its duration so a
// concurrent Timeout call cannot interleave (§5).
func (fsm SessionFSM) Request(ctx context.Context, conn *Connection, opts *SessionOptions, msg *Message) (*Message, *Error) {
	conn.Lock()
	defer conn.Unlock()

	var pendingCap backoff.BackOff
	if opts != nil && opts.BackOff != nil {
		pendingCap = opts.BackOff
	}
	busyPacing := backoff.NewConstantBackOff(50 * time.Millisecond)

	retries := 0
	send := true

	for {
		if send {
			if err := fsm.Sender.Send(ctx, conn, msg); err != nil {
				return nil, err
			}
		}

		timeout := conn.Timings.P2Max + 10*time.Millisecond
		msgs, err := fsm.Receiver.Reassemble(ctx, conn, timeout)
		if err != nil {
			return nil, err
		}
		resp := msgs[0]

		if len(resp.Data) == 0 {
			return nil, wrapErr(CodeBadData, "empty response", nil)
		}
		if resp.Data[0] != sidNegResponse {
			return resp, nil
		}
		if len(resp.Data) < 3 {
			return resp, wrapErr(CodeBadData, "short negative response", nil)
		}

		switch resp.Data[2] {
		case nrcBusyRepeat:
			if retries >= maxBusyRepeatTrys {
				nre := newNegativeResponseError(resp)
				return resp, nre.Error
			}
			retries++
			send = true
			sleepCtx(ctx, busyPacing.NextBackOff())
			continue
		case nrcResponsePend:
			send = false
			if pendingCap != nil {
				d := pendingCap.NextBackOff()
				if d == backoff.Stop {
					return nil, wrapErr(CodeTimeout, "ResponsePending cap exceeded", nil)
				}
				sleepCtx(ctx, d)
			}
			continue
		default:
			nre := newNegativeResponseError(resp)
			return resp, nre.Error
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// StopComms issues StopCommunication and tears down the connection
// regardless of the ECU's answer. The caller's own reference to conn is all
// that needs discarding afterward; there is no separate free step in Go.
func (fsm SessionFSM) StopComms(ctx context.Context, conn *Connection, opts *SessionOptions) *Error {
	conn.State = Closing
	req := &Message{Data: []byte{sidStopComms}, Dst: conn.DstAddr, Src: conn.SrcAddr}

	resp, err := fsm.Request(ctx, conn, opts, req)
	if log := conn.Log; log != nil {
		if err != nil {
			log.Close.Debug("stopcomms failed", "err", err)
		} else if len(resp.Data) > 0 {
			log.Close.Debug("stopcomms acked", "sid", resp.Data[0])
		}
	}

	conn.State = Closed
	return err
}

// Timeout is invoked by the caller's idle timer to keep the session alive.
// Like Request, it takes conn's mutex itself, so a timer goroutine can call
// it safely without coordinating with application code (§5).
func (fsm SessionFSM) Timeout(ctx context.Context, conn *Connection, opts *SessionOptions) {
	conn.Lock()
	defer conn.Unlock()

	if conn.Log != nil {
		restore := conn.Log.Quiet()
		defer restore()
	}

	var req *Message
	if conn.ModeFlags&IdleJ1978 != 0 {
		req = &Message{Data: []byte{0x01, 0x00}, Dst: conn.DstAddr, Src: conn.SrcAddr}
	} else {
		req = &Message{Data: []byte{sidTesterPresent}, Dst: conn.DstAddr, Src: conn.SrcAddr}
	}

	if err := fsm.Sender.Send(ctx, conn, req); err != nil {
		return
	}
	_, _ = fsm.Receiver.Reassemble(ctx, conn, conn.Timings.P2Max+10*time.Millisecond)
}
