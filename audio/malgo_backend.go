package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/lisuiheng/micrelay/routing"
)

var _ Backend = (*MalgoBackend)(nil)

// MalgoBackend 基于 miniaudio 的后端，使用一个双工设备把采集数据直接送到播放端
type MalgoBackend struct {
	mu     sync.Mutex
	config Config
	tap    Tap
	logger *slog.Logger

	ctx      *malgo.AllocatedContext
	inputID  malgo.DeviceID
	outputID malgo.DeviceID
	hasInput bool
	hasOut   bool
	device   *malgo.Device
}

func NewMalgoBackend(cfg Config, tap Tap, logger *slog.Logger) (*MalgoBackend, error) {
	logger = orDefault(logger)
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	return &MalgoBackend{
		config: cfg,
		tap:    tap,
		logger: logger,
		ctx:    ctx,
	}, nil
}

func (b *MalgoBackend) InputDevices() ([]routing.Device, error) {
	return b.devices(malgo.Capture)
}

func (b *MalgoBackend) OutputDevices() ([]routing.Device, error) {
	return b.devices(malgo.Playback)
}

func (b *MalgoBackend) devices(kind malgo.DeviceType) ([]routing.Device, error) {
	infos, err := b.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	devices := make([]routing.Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, routing.Device{
			ID:      info.ID.String(),
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return devices, nil
}

func (b *MalgoBackend) lookup(kind malgo.DeviceType, d routing.Device) (malgo.DeviceID, error) {
	infos, err := b.ctx.Devices(kind)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, info := range infos {
		if info.ID.String() == d.ID {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("%w: %s", ErrDeviceUnavailable, d.Name)
}

func (b *MalgoBackend) SetInputDevice(d routing.Device) error {
	id, err := b.lookup(malgo.Capture, d)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputID, b.hasInput = id, true
	return nil
}

func (b *MalgoBackend) SetOutputDevice(d routing.Device) error {
	id, err := b.lookup(malgo.Playback, d)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputID, b.hasOut = id, true
	return nil
}

func (b *MalgoBackend) InstallMicrophonePath() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasInput || !b.hasOut {
		return ErrNoDevice
	}
	b.releaseLocked()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(b.config.Channels)
	deviceConfig.Capture.DeviceID = b.inputID.Pointer()
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(b.config.Channels)
	deviceConfig.Playback.DeviceID = b.outputID.Pointer()
	deviceConfig.SampleRate = uint32(b.config.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(b.config.FrameSize())

	device, err := malgo.InitDevice(b.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: b.onData,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize duplex device: %w", err)
	}
	b.device = device

	b.logger.Debug("Duplex device initialized",
		"sample_rate", b.config.SampleRate,
		"channels", b.config.Channels,
		"period_frames", b.config.FrameSize())
	return nil
}

// onData 双工回调：输入原样拷贝到输出
func (b *MalgoBackend) onData(output, input []byte, _ uint32) {
	n := copy(output, input)
	for i := n; i < len(output); i++ {
		output[i] = 0
	}
	if b.tap != nil {
		b.tap.Write(bytesToInt16(input))
	}
}

func (b *MalgoBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device == nil {
		return ErrNoPath
	}
	if err := b.device.Start(); err != nil {
		return fmt.Errorf("failed to start audio device: %w", err)
	}
	b.logger.Info("Audio routing started", "backend", BackendMalgo)
	return nil
}

func (b *MalgoBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device == nil {
		return nil
	}
	if err := b.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop audio device: %w", err)
	}
	b.releaseLocked()
	b.logger.Info("Audio routing stopped", "backend", BackendMalgo)
	return nil
}

func (b *MalgoBackend) releaseLocked() {
	if b.device != nil {
		b.device.Uninit()
		b.device = nil
	}
}

func (b *MalgoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.releaseLocked()
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}
