package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/lisuiheng/micrelay/routing"
)

var _ Backend = (*PortAudioBackend)(nil)

// PortAudioBackend 使用一个同时带输入和输出参数的 PortAudio 流完成路由
type PortAudioBackend struct {
	mu     sync.Mutex
	config Config
	tap    Tap
	logger *slog.Logger

	input  *portaudio.DeviceInfo
	output *portaudio.DeviceInfo
	stream *portaudio.Stream
}

func NewPortAudioBackend(cfg Config, tap Tap, logger *slog.Logger) (*PortAudioBackend, error) {
	logger = orDefault(logger)
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	return &PortAudioBackend{
		config: cfg,
		tap:    tap,
		logger: logger,
	}, nil
}

func portAudioID(d *portaudio.DeviceInfo) string {
	if d.HostApi == nil {
		return d.Name
	}
	return d.HostApi.Name + "/" + d.Name
}

// splitDevices 按最大输入/输出通道数把设备分成输入和输出两组
func splitDevices(devices []*portaudio.DeviceInfo) (inputs, outputs []*portaudio.DeviceInfo) {
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, d)
		}
		if d.MaxOutputChannels > 0 {
			outputs = append(outputs, d)
		}
	}
	return inputs, outputs
}

func toRoutingDevices(devices []*portaudio.DeviceInfo, isDefault func(*portaudio.DeviceInfo) bool) []routing.Device {
	out := make([]routing.Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, routing.Device{
			ID:      portAudioID(d),
			Name:    d.Name,
			Default: isDefault(d),
		})
	}
	return out
}

func isDefaultInput(d *portaudio.DeviceInfo) bool {
	return d.HostApi != nil && d.HostApi.DefaultInputDevice == d
}

func isDefaultOutput(d *portaudio.DeviceInfo) bool {
	return d.HostApi != nil && d.HostApi.DefaultOutputDevice == d
}

func (b *PortAudioBackend) InputDevices() ([]routing.Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	inputs, _ := splitDevices(devices)
	return toRoutingDevices(inputs, isDefaultInput), nil
}

func (b *PortAudioBackend) OutputDevices() ([]routing.Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	_, outputs := splitDevices(devices)
	return toRoutingDevices(outputs, isDefaultOutput), nil
}

func findPortAudioDevice(devices []*portaudio.DeviceInfo, d routing.Device) (*portaudio.DeviceInfo, error) {
	for _, info := range devices {
		if portAudioID(info) == d.ID {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, d.Name)
}

func (b *PortAudioBackend) SetInputDevice(d routing.Device) error {
	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}
	inputs, _ := splitDevices(devices)
	info, err := findPortAudioDevice(inputs, d)
	if err != nil {
		return err
	}
	if info.MaxInputChannels < b.config.Channels {
		return fmt.Errorf("device %s supports %d input channels, need %d", d.Name, info.MaxInputChannels, b.config.Channels)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.input = info
	return nil
}

func (b *PortAudioBackend) SetOutputDevice(d routing.Device) error {
	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}
	_, outputs := splitDevices(devices)
	info, err := findPortAudioDevice(outputs, d)
	if err != nil {
		return err
	}
	if info.MaxOutputChannels < b.config.Channels {
		return fmt.Errorf("device %s supports %d output channels, need %d", d.Name, info.MaxOutputChannels, b.config.Channels)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.output = info
	return nil
}

func (b *PortAudioBackend) InstallMicrophonePath() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.input == nil || b.output == nil {
		return ErrNoDevice
	}
	b.closeStreamLocked()

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   b.input,
			Channels: b.config.Channels,
			Latency:  b.input.DefaultLowInputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   b.output,
			Channels: b.config.Channels,
			Latency:  b.output.DefaultLowOutputLatency,
		},
		SampleRate:      float64(b.config.SampleRate),
		FramesPerBuffer: b.config.FrameSize(),
	}

	stream, err := portaudio.OpenStream(params, b.process)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	b.stream = stream
	return nil
}

func (b *PortAudioBackend) process(in, out []int16) {
	n := copy(out, in)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if b.tap != nil {
		pcm := make([]int16, len(in))
		copy(pcm, in)
		b.tap.Write(pcm)
	}
}

func (b *PortAudioBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream == nil {
		return ErrNoPath
	}
	if err := b.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	b.logger.Info("Audio routing started",
		"backend", BackendPortAudio,
		"input", b.input.Name,
		"output", b.output.Name)
	return nil
}

func (b *PortAudioBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream == nil {
		return nil
	}
	if err := b.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop audio stream: %w", err)
	}
	b.closeStreamLocked()
	b.logger.Info("Audio routing stopped", "backend", BackendPortAudio)
	return nil
}

func (b *PortAudioBackend) closeStreamLocked() {
	if b.stream == nil {
		return
	}
	if err := b.stream.Close(); err != nil {
		b.logger.Error("failed to close audio stream", "error", err)
	}
	b.stream = nil
}

func (b *PortAudioBackend) Close() error {
	b.mu.Lock()
	b.closeStreamLocked()
	b.mu.Unlock()

	return portaudio.Terminate()
}
