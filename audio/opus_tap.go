package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lisuiheng/micrelay/audio/codec"
)

// frameEncoder 编码一帧PCM
type frameEncoder interface {
	FrameSize() int
	Encode(pcm []int16) ([]byte, error)
}

// OpusTap 把路由中的PCM攒成整帧后编码，包写入带缓冲的通道，满了就丢
type OpusTap struct {
	mu      sync.Mutex
	encoder frameEncoder
	pending []int16
	packets chan []byte
	dropped atomic.Uint64
	logger  *slog.Logger
}

var _ Tap = (*OpusTap)(nil)

func NewOpusTap(cfg Config, bitrate int, logger *slog.Logger) (*OpusTap, error) {
	enc, err := codec.NewOpusEncoder(cfg.SampleRate, cfg.Channels, cfg.FrameDuration, bitrate)
	if err != nil {
		return nil, err
	}
	return newTap(enc, 100, logger), nil
}

func newTap(enc frameEncoder, buffered int, logger *slog.Logger) *OpusTap {
	return &OpusTap{
		encoder: enc,
		pending: make([]int16, 0, enc.FrameSize()),
		packets: make(chan []byte, buffered),
		logger:  orDefault(logger),
	}
}

func (t *OpusTap) Write(pcm []int16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := t.encoder.FrameSize()
	for len(pcm) > 0 {
		n := min(size-len(t.pending), len(pcm))
		t.pending = append(t.pending, pcm[:n]...)
		pcm = pcm[n:]
		if len(t.pending) < size {
			return
		}

		packet, err := t.encoder.Encode(t.pending)
		t.pending = t.pending[:0]
		if err != nil {
			t.logger.Error("OPUS encode failed", "error", err)
			continue
		}

		select {
		case t.packets <- packet:
		default:
			if t.dropped.Add(1)%100 == 1 {
				t.logger.Warn("Monitor channel blocked, dropping frame", "dropped", t.dropped.Load())
			}
		}
	}
}

// Packets 返回编码后的OPUS包
func (t *OpusTap) Packets() <-chan []byte {
	return t.packets
}

func (t *OpusTap) Dropped() uint64 {
	return t.dropped.Load()
}
