package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
	"github.com/smallnest/ringbuffer"

	"github.com/lisuiheng/micrelay/routing"
)

var _ Backend = (*PulseBackend)(nil)

// 环形缓冲可容纳的帧数，超过即丢弃
const pulseBufferedFrames = 4

// PulseBackend 通过录音流和播放流完成路由，二者之间用环形缓冲衔接
type PulseBackend struct {
	mu     sync.Mutex
	config Config
	tap    Tap
	logger *slog.Logger

	client   *pulse.Client
	source   *pulse.Source
	sink     *pulse.Sink
	record   *pulse.RecordStream
	playback *pulse.PlaybackStream
}

func NewPulseBackend(cfg Config, tap Tap, logger *slog.Logger) (*PulseBackend, error) {
	logger = orDefault(logger)
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("micrelay"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pulse server: %w", err)
	}

	return &PulseBackend{
		config: cfg,
		tap:    tap,
		logger: logger,
		client: client,
	}, nil
}

func (b *PulseBackend) InputDevices() ([]routing.Device, error) {
	sources, err := b.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defaultID := ""
	if d, err := b.client.DefaultSource(); err == nil {
		defaultID = d.ID()
	}

	devices := make([]routing.Device, 0, len(sources))
	for _, s := range sources {
		devices = append(devices, routing.Device{ID: s.ID(), Name: s.Name(), Default: s.ID() == defaultID})
	}
	return devices, nil
}

func (b *PulseBackend) OutputDevices() ([]routing.Device, error) {
	sinks, err := b.client.ListSinks()
	if err != nil {
		return nil, fmt.Errorf("failed to list sinks: %w", err)
	}
	defaultID := ""
	if d, err := b.client.DefaultSink(); err == nil {
		defaultID = d.ID()
	}

	devices := make([]routing.Device, 0, len(sinks))
	for _, s := range sinks {
		devices = append(devices, routing.Device{ID: s.ID(), Name: s.Name(), Default: s.ID() == defaultID})
	}
	return devices, nil
}

func (b *PulseBackend) SetInputDevice(d routing.Device) error {
	sources, err := b.client.ListSources()
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}
	source, err := findPulseDevice(sources, d)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.source = source
	return nil
}

func (b *PulseBackend) SetOutputDevice(d routing.Device) error {
	sinks, err := b.client.ListSinks()
	if err != nil {
		return fmt.Errorf("failed to list sinks: %w", err)
	}
	sink, err := findPulseDevice(sinks, d)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
	return nil
}

// findPulseDevice 在最新的 source/sink 列表中查找已选设备
func findPulseDevice[T interface{ ID() string }](items []T, d routing.Device) (T, error) {
	for _, item := range items {
		if item.ID() == d.ID {
			return item, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %s", ErrDeviceUnavailable, d.Name)
}

func (b *PulseBackend) InstallMicrophonePath() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.source == nil || b.sink == nil {
		return ErrNoDevice
	}
	b.closeStreamsLocked()

	frameBytes := b.config.FrameSize() * b.config.Channels * 2
	buf := ringbuffer.New(frameBytes * pulseBufferedFrames)

	recordChannels, playbackChannels := pulse.RecordMono, pulse.PlaybackMono
	if b.config.Channels == 2 {
		recordChannels, playbackChannels = pulse.RecordStereo, pulse.PlaybackStereo
	}

	record, err := b.client.NewRecord(
		pulse.NewWriter(&ringWriter{buf: buf, tap: b.tap}, proto.FormatInt16LE),
		pulse.RecordSource(b.source),
		recordChannels,
		pulse.RecordSampleRate(b.config.SampleRate),
		pulse.RecordLatency(float64(b.config.FrameDuration)/1000),
	)
	if err != nil {
		return fmt.Errorf("failed to create record stream: %w", err)
	}

	playback, err := b.client.NewPlayback(
		pulse.NewReader(&ringReader{buf: buf}, proto.FormatInt16LE),
		pulse.PlaybackSink(b.sink),
		playbackChannels,
		pulse.PlaybackSampleRate(b.config.SampleRate),
		pulse.PlaybackLatency(float64(b.config.FrameDuration*2)/1000),
	)
	if err != nil {
		record.Close()
		return fmt.Errorf("failed to create playback stream: %w", err)
	}

	b.record, b.playback = record, playback
	return nil
}

func (b *PulseBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.record == nil || b.playback == nil {
		return ErrNoPath
	}
	b.record.Start()
	b.playback.Start()
	b.logger.Info("Audio routing started",
		"backend", BackendPulse,
		"source", b.source.Name(),
		"sink", b.sink.Name())
	return nil
}

func (b *PulseBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.record == nil {
		return nil
	}
	b.record.Stop()
	b.playback.Stop()
	b.closeStreamsLocked()
	b.logger.Info("Audio routing stopped", "backend", BackendPulse)
	return nil
}

func (b *PulseBackend) closeStreamsLocked() {
	if b.record != nil {
		b.record.Close()
		b.record = nil
	}
	if b.playback != nil {
		b.playback.Close()
		b.playback = nil
	}
}

func (b *PulseBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeStreamsLocked()
	b.client.Close()
	return nil
}

// ringWriter 写满时丢弃多余数据，避免录音流出错
type ringWriter struct {
	buf *ringbuffer.RingBuffer
	tap Tap
}

func (w *ringWriter) Write(p []byte) (int, error) {
	if free := w.buf.Free(); free < len(p) {
		free -= free % 2
		_, _ = w.buf.Write(p[:free])
	} else {
		_, _ = w.buf.Write(p)
	}
	if w.tap != nil {
		w.tap.Write(bytesToInt16(p))
	}
	return len(p), nil
}

// ringReader 数据不足时用静音填充
type ringReader struct {
	buf *ringbuffer.RingBuffer
}

func (r *ringReader) Read(p []byte) (int, error) {
	n, _ := r.buf.Read(p)
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}
