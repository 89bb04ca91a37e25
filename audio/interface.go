// audio/interface.go
package audio

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lisuiheng/micrelay/routing"
)

var (
	ErrDeviceUnavailable  = errors.New("device no longer available")
	ErrNoDevice           = errors.New("device not set")
	ErrNoPath             = errors.New("microphone path not installed")
	ErrUnsupportedBackend = errors.New("unsupported audio backend")
)

// Config 路由使用的音频参数
type Config struct {
	SampleRate    int
	Channels      int
	FrameDuration int // 毫秒
}

// FrameSize 每帧的采样帧数（不含通道）
func (c Config) FrameSize() int {
	return c.SampleRate * c.FrameDuration / 1000
}

func (c Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.SampleRate)
	}
	if c.Channels < 1 || c.Channels > 2 {
		return fmt.Errorf("invalid channel count: %d", c.Channels)
	}
	if c.FrameSize() <= 0 {
		return fmt.Errorf("invalid frame size: %d", c.FrameSize())
	}
	return nil
}

// Tap 接收被路由的PCM数据。在音频回调线程中调用，不能阻塞
type Tap interface {
	Write(pcm []int16)
}

// Backend 可关闭的路由后端
type Backend interface {
	routing.Backend
	Close() error
}

const (
	BackendMalgo     = "malgo"
	BackendPortAudio = "portaudio"
	BackendPulse     = "pulse"
)

// NewBackend 根据名称创建音频后端，tap 可以为 nil
func NewBackend(name string, cfg Config, tap Tap, logger *slog.Logger) (Backend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger = orDefault(logger)

	switch name {
	case "", BackendMalgo:
		return NewMalgoBackend(cfg, tap, logger)
	case BackendPortAudio:
		return NewPortAudioBackend(cfg, tap, logger)
	case BackendPulse:
		return NewPulseBackend(cfg, tap, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, name)
	}
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
