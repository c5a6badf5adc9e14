package iso14230

import (
	"context"
	"time"
)

// rxState is the Receiver's three-state reassembly driver (§4.2).
type rxState int

const (
	rxIdle        rxState = iota // S1: awaiting the first byte of a response
	rxInterByte                  // S2: between bytes of the same message
	rxInterMsg                   // S3: between messages of the same response set
)

// Receiver reassembles a timed byte stream into framed Messages. It is
// stateless itself; all persistent state (rxbuf, rxoffset, firstFrame) lives
// on the Connection it operates against, so a single Receiver value can
// serve many connections.
type Receiver struct {
	Codec HeaderCodec
}

// Reassemble blocks until at least one full response (one or more Messages)
// has arrived, or the initial timeout elapses with nothing received at all.
// It mirrors diag_l2_proto_14230_int_recv.
func (r Receiver) Reassemble(ctx context.Context, conn *Connection, timeout time.Duration) ([]*Message, *Error) {
	flags := conn.l1.Flags()
	doesL2Frame := flags.Has(DoesL2Frame)

	if flags.Has(DoesL2Frame) || flags.Has(DoesP4Wait) {
		if timeout < 100*time.Millisecond {
			timeout = 100 * time.Millisecond
		}
	}

	conn.rxoffset = 0
	state := rxIdle
	var rawChunks [][]byte

	for {
		var tout time.Duration
		switch state {
		case rxIdle:
			tout = timeout
		case rxInterByte:
			tout = conn.Timings.P2Min - 2*time.Millisecond
			if tout < conn.Timings.P1Max {
				tout = conn.Timings.P1Max
			}
		case rxInterMsg:
			if doesL2Frame {
				tout = 150 * time.Millisecond
			} else {
				tout = conn.Timings.P2Max
			}
		}

		var n int
		var err error
		if state == rxInterByte && doesL2Frame {
			// A smart interface hands us one whole frame per read; don't
			// wait again for more bytes of the same message.
			err = ErrTimeout
		} else {
			n, err = conn.l1.Recv(ctx, 0, conn.rxbuf[conn.rxoffset:], tout)
		}

		if err != nil {
			if !isTimeout(err) {
				return nil, wrapErr(CodeL1Error, "receive failed", err)
			}
			switch state {
			case rxIdle:
				if conn.rxoffset == 0 {
					return nil, wrapErr(CodeTimeout, "no response", nil)
				}
				state = rxInterByte
				continue
			case rxInterByte:
				chunk := make([]byte, conn.rxoffset)
				copy(chunk, conn.rxbuf[:conn.rxoffset])
				rawChunks = append(rawChunks, chunk)
				conn.rxoffset = 0
				state = rxInterMsg
				continue
			case rxInterMsg:
				return r.postProcess(conn, rawChunks, doesL2Frame)
			}
			continue
		}

		conn.rxoffset += n

		// Scrub a FastInit-pulse artefact: leading zero bytes observed
		// while monitoring the bus, removed until a non-zero byte leads.
		if conn.rxoffset > 0 && conn.rxbuf[0] == 0x00 {
			for conn.rxoffset > 0 && conn.rxbuf[0] == 0x00 {
				conn.rxoffset--
				copy(conn.rxbuf[0:], conn.rxbuf[1:conn.rxoffset+1])
			}
			continue
		}

		if state == rxIdle || state == rxInterMsg {
			state = rxInterByte
		}
	}
}

func isTimeout(err error) bool {
	type isser interface{ Is(error) bool }
	if is, ok := err.(isser); ok {
		return is.Is(ErrTimeout)
	}
	return err == ErrTimeout
}

// postProcess runs HeaderCodec.Decode over each raw chunk, splitting any
// chunk that turns out to contain more than one concatenated frame, and
// finishes each decoded frame into a caller-ready Message.
func (r Receiver) postProcess(conn *Connection, rawChunks [][]byte, doesL2Frame bool) ([]*Message, *Error) {
	var out []*Message

	for _, chunk := range rawChunks {
		remaining := chunk
		for len(remaining) > 0 {
			dec, derr := r.Codec.Decode(remaining, conn.firstFrame)
			if derr != nil {
				return nil, derr
			}
			frameLen := dec.HdrLen + dec.DataLen + 1

			var frame []byte
			if !doesL2Frame && frameLen < len(remaining) {
				frame = remaining[:frameLen]
				remaining = remaining[frameLen:]
			} else {
				frame = remaining
				remaining = nil
			}

			msg := r.finishFrame(conn, frame, dec)
			out = append(out, msg)
			conn.firstFrame = false
		}
	}

	return out, nil
}

// finishFrame strips the header and (optionally) the checksum byte from
// frame, verifies the checksum when L1 hasn't already, and sets format
// flags, per §4.2.
func (r Receiver) finishFrame(conn *Connection, frame []byte, dec decodeResult) *Message {
	var format FormatFlags
	if dec.Functional {
		format |= FmtFuncAddr
	}
	format |= FmtFramed

	end := len(frame)
	flags := conn.l1.Flags()
	if !flags.Has(StripsL2Cksum) {
		if !r.Codec.VerifyChecksum(frame) {
			format |= FmtBadCS
		}
		format |= FmtCksummed
		end--
	}

	data := make([]byte, end-dec.HdrLen)
	copy(data, frame[dec.HdrLen:end])

	return &Message{
		Data:   data,
		Src:    dec.Src,
		Dst:    dec.Dst,
		Format: format,
		RxTime: time.Now(),
	}
}
