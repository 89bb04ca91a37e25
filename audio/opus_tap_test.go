package audio

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct {
	size   int
	frames [][]int16
	err    error
}

func (e *fakeEncoder) FrameSize() int { return e.size }

func (e *fakeEncoder) Encode(pcm []int16) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.frames = append(e.frames, append([]int16(nil), pcm...))
	return []byte{byte(len(e.frames))}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpusTap_AccumulatesWholeFrames(t *testing.T) {
	enc := &fakeEncoder{size: 4}
	tap := newTap(enc, 10, discardLogger())

	tap.Write([]int16{1, 2, 3})
	assert.Empty(t, enc.frames)

	tap.Write([]int16{4, 5, 6, 7, 8, 9, 10})
	require.Len(t, enc.frames, 2)
	assert.Equal(t, []int16{1, 2, 3, 4}, enc.frames[0])
	assert.Equal(t, []int16{5, 6, 7, 8}, enc.frames[1])

	assert.Equal(t, []byte{1}, <-tap.Packets())
	assert.Equal(t, []byte{2}, <-tap.Packets())
}

func TestOpusTap_DropsWhenFull(t *testing.T) {
	enc := &fakeEncoder{size: 2}
	tap := newTap(enc, 1, discardLogger())

	tap.Write([]int16{1, 2, 3, 4, 5, 6})

	assert.Len(t, tap.Packets(), 1)
	assert.Equal(t, uint64(2), tap.Dropped())
}

func TestOpusTap_EncodeErrorKeepsGoing(t *testing.T) {
	enc := &fakeEncoder{size: 2, err: errors.New("bad frame")}
	tap := newTap(enc, 4, discardLogger())

	tap.Write([]int16{1, 2, 3})
	enc.err = nil
	tap.Write([]int16{4})

	require.Len(t, enc.frames, 1)
	assert.Equal(t, []int16{3, 4}, enc.frames[0])
}

func TestOpusTap_NilLoggerDefaults(t *testing.T) {
	enc := &fakeEncoder{size: 1, err: errors.New("bad frame")}
	tap := newTap(enc, 1, nil)

	assert.NotPanics(t, func() { tap.Write([]int16{1}) })
}
