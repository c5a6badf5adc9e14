package iso14230

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConn(t *testing.T, ft *fakeTransport) *Connection {
	t.Helper()
	return newConnection(ft, 0xF1, 0x33, DefaultTimings(), nil)
}

func TestReceiver_SingleFrame(t *testing.T) {
	var codec HeaderCodec
	frame := []byte{0x83, 0xF1, 0x10, 0x01, 0x02, 0x03}
	frame = append(frame, codec.Checksum(frame))

	ft := &fakeTransport{rxQueue: [][]byte{frame}}
	conn := testConn(t, ft)
	conn.firstFrame = true

	var recv Receiver
	msgs, err := recv.Reassemble(context.Background(), conn, 50*time.Millisecond)
	require.Nil(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, msgs[0].Data)
	require.Equal(t, byte(0xF1), msgs[0].Dst)
	require.Equal(t, byte(0x10), msgs[0].Src)
	require.False(t, msgs[0].Format&FmtBadCS != 0)
	require.False(t, conn.firstFrame)
}

func TestReceiver_NoResponseTimesOut(t *testing.T) {
	ft := &fakeTransport{}
	conn := testConn(t, ft)

	var recv Receiver
	_, err := recv.Reassemble(context.Background(), conn, 10*time.Millisecond)
	require.NotNil(t, err)
	require.Equal(t, CodeTimeout, err.Code)
}

func TestReceiver_MultiplexedResponseStream(t *testing.T) {
	var codec HeaderCodec
	frame1 := []byte{0x03, 'A', 'B', 'C'}
	frame1 = append(frame1, codec.Checksum(frame1))
	frame2 := []byte{0x02, 'D', 'E'}
	frame2 = append(frame2, codec.Checksum(frame2))

	both := append(append([]byte{}, frame1...), frame2...)

	ft := &fakeTransport{rxQueue: [][]byte{both}}
	conn := testConn(t, ft)
	conn.firstFrame = false // addressless frames require a prior successful decode

	var recv Receiver
	msgs, err := recv.Reassemble(context.Background(), conn, 50*time.Millisecond)
	require.Nil(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, []byte{'A', 'B', 'C'}, msgs[0].Data)
	require.Equal(t, []byte{'D', 'E'}, msgs[1].Data)
}

func TestReceiver_LeadingZeroScrub(t *testing.T) {
	var codec HeaderCodec
	frame := []byte{0x83, 0xF1, 0x10, 0x01, 0x02, 0x03}
	frame = append(frame, codec.Checksum(frame))
	withZero := append([]byte{0x00}, frame...)

	ft := &fakeTransport{rxQueue: [][]byte{withZero}}
	conn := testConn(t, ft)
	conn.firstFrame = true

	var recv Receiver
	msgs, err := recv.Reassemble(context.Background(), conn, 50*time.Millisecond)
	require.Nil(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, msgs[0].Data)
}

func TestReceiver_BadChecksumMarkedNotDropped(t *testing.T) {
	var codec HeaderCodec
	frame := []byte{0x83, 0xF1, 0x10, 0x01, 0x02, 0x03}
	frame = append(frame, codec.Checksum(frame)^0xFF)

	ft := &fakeTransport{rxQueue: [][]byte{frame}}
	conn := testConn(t, ft)
	conn.firstFrame = true

	var recv Receiver
	msgs, err := recv.Reassemble(context.Background(), conn, 50*time.Millisecond)
	require.Nil(t, err)
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Format&FmtBadCS != 0)
}
