package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeak(t *testing.T) {
	assert.Equal(t, 0.0, Peak(nil))
	assert.Equal(t, 0.5, Peak([]int16{100, -16384, 16000}))
	assert.Equal(t, 1.0, Peak([]int16{-32768}))
}

func TestNewOpusEncoder_RejectsFrameDuration(t *testing.T) {
	_, err := NewOpusEncoder(48000, 1, 15, 32000)

	assert.Error(t, err)
}

func TestOpus_EncodeDecode(t *testing.T) {
	enc, err := NewOpusEncoder(48000, 1, 20, 32000)
	require.NoError(t, err)
	assert.Equal(t, 960, enc.FrameSize())

	pcm := make([]int16, enc.FrameSize())
	for i := range pcm {
		if i%48 < 24 {
			pcm[i] = 8000
		} else {
			pcm[i] = -8000
		}
	}
	packet, err := enc.Encode(pcm)
	require.NoError(t, err)
	assert.NotEmpty(t, packet)

	_, err = enc.Encode(pcm[:10])
	assert.Error(t, err)

	dec, err := NewOpusDecoder(48000, 1)
	require.NoError(t, err)
	out, err := dec.Decode(packet)
	require.NoError(t, err)
	assert.Len(t, out, 960)
}
