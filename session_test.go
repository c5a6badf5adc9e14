package iso14230

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionFSM_FastInitHandshake(t *testing.T) {
	var codec HeaderCodec
	resp := []byte{0x83, 0xF1, 0x10, 0xC1, 0xEF, 0x8F}
	resp = append(resp, codec.Checksum(resp))

	ft := &fakeTransport{rxQueue: [][]byte{resp}}
	fsm := SessionFSM{}

	conn, err := fsm.StartComms(context.Background(), ft, nil, StartFlags{Init: FastInit}, 0, 0x33, 0xF1, fastTimings())
	require.Nil(t, err)
	require.Equal(t, Established, conn.State)
	require.Equal(t, byte(0xEF), conn.KB1)
	require.Equal(t, byte(0x8F), conn.KB2)
	require.Equal(t, byte(0x10), conn.PhysAddr)
	require.Equal(t, FmtLen|LenByte|ShortHdr|LongHdr, conn.ModeFlags)
}

func TestSessionFSM_SlowInitKeyByteRejection(t *testing.T) {
	ft := &fakeTransport{rxQueue: [][]byte{{0x08}, {0x08}}}
	fsm := SessionFSM{}

	conn, err := fsm.StartComms(context.Background(), ft, nil, StartFlags{Init: SlowInit}, 0, 0x33, 0xF1, fastTimings())
	require.NotNil(t, err)
	require.Equal(t, CodeWrongKeyBytes, err.Code)
	require.Nil(t, conn)
}

func TestSessionFSM_BusyRepeatRequestRetry(t *testing.T) {
	var codec HeaderCodec
	busy := []byte{0x03, 0x7F, 0x22, 0x21}
	busy = append(busy, codec.Checksum(busy))
	positive := []byte{0x04, 0x62, 0x01, 0x00, 0xAA}
	positive = append(positive, codec.Checksum(positive))

	ft := &fakeTransport{rxQueue: [][]byte{
		busy, nil, nil,
		busy, nil, nil,
		positive,
	}}
	conn := testConn(t, ft)
	conn.State = Established
	conn.firstFrame = false
	conn.ModeFlags = ShortHdr | FmtLen
	conn.Timings.P3Min = 0

	fsm := SessionFSM{}
	req := &Message{Data: []byte{0x22, 0x01, 0x00}, Dst: conn.DstAddr, Src: conn.SrcAddr}
	resp, err := fsm.Request(context.Background(), conn, nil, req)
	require.Nil(t, err)
	require.Equal(t, []byte{0x62, 0x01, 0x00, 0xAA}, resp.Data)
	require.Len(t, ft.sent, 3)
}

func TestSessionFSM_BusyRepeatRequestExceedsRetries(t *testing.T) {
	var codec HeaderCodec
	busy := []byte{0x03, 0x7F, 0x22, 0x21}
	busy = append(busy, codec.Checksum(busy))

	ft := &fakeTransport{rxQueue: [][]byte{
		busy, nil, nil,
		busy, nil, nil,
		busy, nil, nil,
		busy,
	}}
	conn := testConn(t, ft)
	conn.State = Established
	conn.firstFrame = false
	conn.ModeFlags = ShortHdr | FmtLen
	conn.Timings.P3Min = 0

	fsm := SessionFSM{}
	req := &Message{Data: []byte{0x22, 0x01, 0x00}, Dst: conn.DstAddr, Src: conn.SrcAddr}
	_, err := fsm.Request(context.Background(), conn, nil, req)
	require.NotNil(t, err)
	require.Equal(t, CodeEcuSaidNo, err.Code)
	require.Len(t, ft.sent, 4) // initial + 3 retries
}

func TestSessionFSM_KeepAliveJ1978(t *testing.T) {
	var codec HeaderCodec
	ack := []byte{0x02, 0x41, 0x00}
	ack = append(ack, codec.Checksum(ack))

	ft := &fakeTransport{rxQueue: [][]byte{ack}}
	conn := testConn(t, ft)
	conn.State = Established
	conn.firstFrame = false
	conn.ModeFlags = ShortHdr | FmtLen | IdleJ1978
	conn.Timings.P3Min = 0
	conn.Log = nil

	fsm := SessionFSM{}
	fsm.Timeout(context.Background(), conn, nil)

	require.Len(t, ft.sent, 1)
	require.Equal(t, byte(0x01), ft.sent[0][1]&0x3F) // length nibble = 2, payload starts with 0x01
}

func TestSessionFSM_KeepAliveTesterPresent(t *testing.T) {
	var codec HeaderCodec
	ack := []byte{0x01, 0x7E}
	ack = append(ack, codec.Checksum(ack))

	ft := &fakeTransport{rxQueue: [][]byte{ack}}
	conn := testConn(t, ft)
	conn.State = Established
	conn.firstFrame = false
	conn.ModeFlags = ShortHdr | FmtLen
	conn.Timings.P3Min = 0

	fsm := SessionFSM{}
	fsm.Timeout(context.Background(), conn, nil)

	require.Len(t, ft.sent, 1)
	require.Equal(t, byte(0x3E), ft.sent[0][1])
}

func TestSessionFSM_StopComms(t *testing.T) {
	var codec HeaderCodec
	ack := []byte{0x01, 0xC2}
	ack = append(ack, codec.Checksum(ack))

	ft := &fakeTransport{rxQueue: [][]byte{ack}}
	conn := testConn(t, ft)
	conn.State = Established
	conn.firstFrame = false
	conn.ModeFlags = ShortHdr | FmtLen
	conn.Timings.P3Min = 0

	fsm := SessionFSM{}
	err := fsm.StopComms(context.Background(), conn, nil)
	require.Nil(t, err)
	require.Equal(t, Closed, conn.State)
	require.Len(t, ft.sent, 1)
	require.Equal(t, byte(sidStopComms), ft.sent[0][1])
}

func TestSessionFSM_MonitorModeDerivesFlagsAndDrains(t *testing.T) {
	ft := &fakeTransport{}
	fsm := SessionFSM{}

	conn, err := fsm.StartComms(context.Background(), ft, nil, StartFlags{Init: MonitorMode}, 0, 0x33, 0xF1, fastTimings())
	require.Nil(t, err)
	require.Equal(t, Established, conn.State)
}

func fastTimings() Timings {
	t := DefaultTimings()
	t.P2Max = 20 * time.Millisecond
	t.P3Min = 0
	return t
}
