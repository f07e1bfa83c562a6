package transport

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	s := frameOf(t, 0x0001, clientAddr, serverAddr, []byte("hello"))
	frame, err := EncodeFrame(TCPMagic, s)
	require.NoError(t, err)
	assert.Equal(t, TCPMagic, string(frame[:limits.MagicSize]))
	assert.Equal(t, s.Bytes(), frame[limits.MagicSize:])

	big := frameOf(t, 0x0001, clientAddr, serverAddr, make([]byte, limits.MaxDataSize+1))
	_, err = EncodeFrame(TCPMagic, big)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDeframerSplitFrames(t *testing.T) {
	var wire []byte
	var want [][]byte
	for i := 0; i < 5; i++ {
		s := frameOf(t, uint16(i+1), clientAddr, serverAddr, bytes.Repeat([]byte{byte(i)}, 100*i))
		frame, err := EncodeFrame(TCPMagic, s)
		require.NoError(t, err)
		wire = append(wire, frame...)
		want = append(want, s.Bytes())
	}

	for _, chunk := range []int{1, 3, 7, 64, len(wire)} {
		d := NewDeframer(TCPMagic, 0)
		var got [][]byte
		for off := 0; off < len(wire); off += chunk {
			end := off + chunk
			if end > len(wire) {
				end = len(wire)
			}
			for _, s := range d.Feed(wire[off:end]) {
				got = append(got, s.Bytes())
			}
		}
		assert.Equal(t, want, got, "chunk size %d", chunk)
		assert.Zero(t, d.Buffered(), "chunk size %d", chunk)
	}
}

// TestDeframerNoiseResilience interleaves random noise with valid frames and
// checks every frame is still recovered and the buffer stays bounded.
func TestDeframerNoiseResilience(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	noise := func(n int) []byte {
		b := make([]byte, n)
		rng.Read(b)
		return b
	}

	var wire []byte
	var want [][]byte
	for i := 0; i < 50; i++ {
		wire = append(wire, noise(rng.Intn(200))...)
		if i%7 == 0 {
			// A token followed by a header with an invalid data flag.
			bad := append([]byte(TCPMagic), make([]byte, limits.HeaderSize)...)
			bad[len(TCPMagic)+13] = 0x30
			wire = append(wire, bad...)
		}
		s := frameOf(t, uint16(0x1000+i), clientAddr, serverAddr, noise(rng.Intn(500)))
		frame, err := EncodeFrame(TCPMagic, s)
		require.NoError(t, err)
		wire = append(wire, frame...)
		want = append(want, s.Bytes())
	}
	wire = append(wire, noise(64)...)

	d := NewDeframer(TCPMagic, 0)
	var got [][]byte
	maxBuffered := 0
	for off := 0; off < len(wire); off += 97 {
		end := off + 97
		if end > len(wire) {
			end = len(wire)
		}
		for _, s := range d.Feed(wire[off:end]) {
			got = append(got, s.Bytes())
		}
		if d.Buffered() > maxBuffered {
			maxBuffered = d.Buffered()
		}
	}

	require.Len(t, got, len(want))
	assert.Equal(t, want, got)
	assert.LessOrEqual(t, maxBuffered, limits.MaxFrameSize+97)
	assert.Less(t, d.Buffered(), limits.MagicSize)
}

func TestDeframerCorruptionGuard(t *testing.T) {
	d := NewDeframer(TCPMagic, 256)

	// A frame that claims 4000 payload bytes and never delivers them.
	h := jaus.NewHeader(0x0001, clientAddr, serverAddr)
	h.DataSize = 4000
	hdr, err := h.Encode()
	require.NoError(t, err)
	assert.Empty(t, d.Feed(append([]byte(TCPMagic), hdr...)))

	for i := 0; i < 3; i++ {
		assert.Empty(t, d.Feed(make([]byte, 100)))
	}
	assert.Equal(t, 1, d.Resets())
	assert.LessOrEqual(t, d.Buffered(), 256)

	s := frameOf(t, 0x0002, clientAddr, serverAddr, []byte("after"))
	frame, err := EncodeFrame(TCPMagic, s)
	require.NoError(t, err)
	got := d.Feed(frame)
	require.Len(t, got, 1, "reception resumes after a reset")
	assert.Equal(t, s.Bytes(), got[0].Bytes())
}

func TestDeframerIgnoresOtherMagic(t *testing.T) {
	s := frameOf(t, 0x0001, clientAddr, serverAddr, []byte("x"))
	frame, err := EncodeFrame(UDPMagic, s)
	require.NoError(t, err)

	d := NewDeframer(TCPMagic, 0)
	assert.Empty(t, d.Feed(frame))
}

func TestDecodeDatagram(t *testing.T) {
	s := frameOf(t, 0x0001, clientAddr, serverAddr, []byte("payload"))
	frame, err := EncodeFrame(UDPMagic, s)
	require.NoError(t, err)

	got, err := decodeDatagram(UDPMagic, frame)
	require.NoError(t, err)
	assert.Equal(t, s.Bytes(), got.Bytes())

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"wrong token", append([]byte(TCPMagic), s.Bytes()...)},
		{"truncated", frame[:len(frame)-1]},
		{"trailing bytes", append(append([]byte{}, frame...), 0xFF)},
		{"header only", frame[:limits.MagicSize+4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeDatagram(UDPMagic, tt.data)
			assert.ErrorIs(t, err, jaus.ErrMalformedFrame)
		})
	}
}
