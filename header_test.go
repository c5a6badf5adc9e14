package iso14230

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestHeaderCodec_Decode(t *testing.T) {
	cases := []struct {
		name       string
		data       []byte
		firstFrame bool
		wantErr    Code
		want       decodeResult
	}{
		{
			name: "addressed short form",
			data: []byte{0x83, 0xF1, 0x10, 0x01, 0x02, 0x03, 0xAA},
			want: decodeResult{HdrLen: 3, DataLen: 3, Dst: 0xF1, Src: 0x10},
		},
		{
			name: "addressed functional",
			data: []byte{0xC3, 0xF1, 0x10, 0x01, 0x02, 0x03, 0xAA},
			want: decodeResult{HdrLen: 3, DataLen: 3, Dst: 0xF1, Src: 0x10, Functional: true},
		},
		{
			name: "addressed len-byte form",
			data: []byte{0x80, 0xF1, 0x10, 0x02, 0x01, 0x02, 0xAA},
			want: decodeResult{HdrLen: 4, DataLen: 2, Dst: 0xF1, Src: 0x10},
		},
		{
			name:       "addressless short form",
			data:       []byte{0x03, 0x01, 0x02, 0x03, 0xAA},
			firstFrame: false,
			want:       decodeResult{HdrLen: 1, DataLen: 3},
		},
		{
			name:       "addressless len-byte form",
			data:       []byte{0x00, 0x02, 0x01, 0x02, 0xAA},
			firstFrame: false,
			want:       decodeResult{HdrLen: 2, DataLen: 2},
		},
		{
			name:       "addressless rejected on first frame",
			data:       []byte{0x03, 0x01, 0x02, 0x03, 0xAA},
			firstFrame: true,
			wantErr:    CodeBadData,
		},
		{
			name:    "carb mode rejected",
			data:    []byte{0x41, 0x01, 0x02},
			wantErr: CodeBadData,
		},
		{
			name:    "zero length rejected",
			data:    []byte{0x80, 0xF1, 0x10, 0x00},
			wantErr: CodeBadData,
		},
		{
			name:    "incomplete addressed header",
			data:    []byte{0x83, 0xF1},
			wantErr: CodeIncompleteData,
		},
		{
			name:    "incomplete frame body",
			data:    []byte{0x83, 0xF1, 0x10, 0x01, 0x02},
			wantErr: CodeIncompleteData,
		},
	}

	var codec HeaderCodec
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := codec.Decode(tc.data, tc.firstFrame)
			if tc.wantErr != ErrNone {
				require.Error(t, err)
				assert.Equal(t, tc.wantErr, err.Code)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHeaderCodec_ChecksumVerify(t *testing.T) {
	var codec HeaderCodec
	frame := []byte{0x83, 0xF1, 0x10, 0x01, 0x02, 0x03}
	frame = append(frame, codec.Checksum(frame))
	assert.True(t, codec.VerifyChecksum(frame))

	frame[3] ^= 0x01
	assert.False(t, codec.VerifyChecksum(frame))
}

func TestHeaderCodec_EncodeRejectsOutOfRangeLength(t *testing.T) {
	var codec HeaderCodec
	_, err := codec.Encode(&Message{Data: nil}, LongHdr, 0x33, 0xF1, true)
	require.Error(t, err)
	assert.Equal(t, CodeBadLen, err.Code)
}

func TestHeaderCodec_EncodeLongPayloadNeedsLenByte(t *testing.T) {
	var codec HeaderCodec
	payload := make([]byte, 80)
	for i := range payload {
		payload[i] = byte(i)
	}
	msg := &Message{Data: payload, Dst: 0x33, Src: 0xF1}
	mode := LongHdr | LenByte | FmtLen

	frame, err := codec.Encode(msg, mode, 0, 0, true)
	require.Nil(t, err)
	require.Equal(t, []byte{0x80, 0x33, 0xF1, 0x50}, frame[:4])
	assert.Equal(t, payload, frame[4:4+80])
}

func TestHeaderCodec_EncodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mode := ModeFlags(rapid.IntRange(0, int(FmtLen|LenByte|ShortHdr|LongHdr|FuncAddr|IdleJ1978)).Draw(rt, "mode"))
		n := rapid.IntRange(1, 255).Draw(rt, "len")
		payload := rapid.SliceOfN(rapid.Byte(), n, n).Draw(rt, "payload")
		dst := byte(rapid.IntRange(0, 255).Draw(rt, "dst"))
		src := byte(rapid.IntRange(0, 255).Draw(rt, "src"))

		msg := &Message{Data: payload, Dst: dst, Src: src}
		var codec HeaderCodec

		frame, err := codec.Encode(msg, mode, dst, src, true)
		if err != nil {
			// Only possible failure: LENBYTE unsupported with len>=64.
			if n >= 64 && mode&LenByte == 0 {
				return
			}
			rt.Fatalf("unexpected encode error: %v", err)
		}

		dec, derr := codec.Decode(frame, false)
		if derr != nil {
			rt.Fatalf("decode failed: %v", derr)
		}
		if dec.DataLen != n {
			rt.Fatalf("datalen mismatch: got %d want %d", dec.DataLen, n)
		}
		if !codec.VerifyChecksum(frame) {
			rt.Fatalf("checksum verification failed")
		}
		got := frame[dec.HdrLen : dec.HdrLen+dec.DataLen]
		for i := range got {
			if got[i] != payload[i] {
				rt.Fatalf("payload mismatch at %d", i)
			}
		}
	})
}

func TestHeaderCodec_HeaderFormSelection(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 255).Draw(rt, "len")
		payload := rapid.SliceOfN(rapid.Byte(), n, n).Draw(rt, "payload")
		msg := &Message{Data: payload, Dst: 0x33, Src: 0xF1}
		var codec HeaderCodec

		// FMTLEN without LENBYTE: below 64, no length byte; at/above 64, fails.
		mode := FmtLen | LongHdr
		frame, err := codec.Encode(msg, mode, 0, 0, true)
		if n < 64 {
			if err != nil {
				rt.Fatalf("unexpected error for n=%d: %v", n, err)
			}
			if frame[0]&0x3F != byte(n) {
				rt.Fatalf("expected embedded length %d, got byte0=%x", n, frame[0])
			}
		} else if err == nil {
			rt.Fatalf("expected BadLen for n=%d with no LENBYTE support", n)
		}

		// SHORTHDR only: single-byte header.
		shortMode := ShortHdr | FmtLen
		if n < 64 {
			sframe, serr := codec.Encode(msg, shortMode, 0, 0, true)
			if serr != nil {
				rt.Fatalf("unexpected error in short-header mode: %v", serr)
			}
			if sframe[0]&0xC0 != 0 {
				rt.Fatalf("expected short header, got byte0=%x", sframe[0])
			}
		}
	})
}
