package iso14230

import (
	"context"
	"time"
)

// Sender encodes and transmits Messages on an established Connection,
// mirroring diag_l2_proto_14230_send.
type Sender struct {
	Codec HeaderCodec
}

// Send encodes msg per conn's negotiated ModeFlags and writes it to the L1
// transport, pacing bytes P4min apart unless the transport already does so.
// It enforces the P3min bus-idle gate before transmitting: a connection that
// just finished receiving a response must not talk again before P3min has
// elapsed.
func (s Sender) Send(ctx context.Context, conn *Connection, msg *Message) *Error {
	if conn.State == Closed {
		return wrapErr(CodeGeneral, "send on a connection that is not open", nil)
	}

	flags := conn.l1.Flags()
	addCksum := !flags.Has(DoesL2Cksum)

	frame, err := s.Codec.Encode(msg, conn.ModeFlags, conn.DstAddr, conn.SrcAddr, addCksum)
	if err != nil {
		return err
	}

	interbyte := conn.Timings.P4Min
	if flags.Has(DoesP4Wait) {
		interbyte = 0
	}

	if conn.State == Established {
		time.Sleep(conn.Timings.P3Min)
	}

	if werr := conn.l1.Send(ctx, 0, frame, interbyte); werr != nil {
		return wrapErr(CodeL1Error, "send failed", werr)
	}

	return nil
}
