// Package routingtest 提供用于测试的后端替身
package routingtest

import (
	"sync"

	"github.com/lisuiheng/micrelay/routing"
)

// 调用记录里使用的名称
const (
	CallSetInput    = "SetInputDevice"
	CallSetOutput   = "SetOutputDevice"
	CallInstallPath = "InstallMicrophonePath"
	CallStart       = "Start"
	CallStop        = "Stop"
)

// Backend 记录调用顺序的假后端，可通过 Fail 为每一步注入错误
type Backend struct {
	mu sync.Mutex

	Inputs  []routing.Device
	Outputs []routing.Device

	errs    map[string]error
	calls   []string
	running bool
}

var _ routing.Backend = (*Backend)(nil)

func NewBackend() *Backend {
	return &Backend{
		Inputs: []routing.Device{
			{ID: "mic", Name: "Built-in Mic", Default: true},
			{ID: "usb-in", Name: "USB Audio In"},
		},
		Outputs: []routing.Device{
			{ID: "speaker", Name: "Built-in Speaker", Default: true},
			{ID: "usb-out", Name: "USB Audio Out"},
		},
	}
}

func (b *Backend) InputDevices() ([]routing.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]routing.Device(nil), b.Inputs...), nil
}

func (b *Backend) OutputDevices() ([]routing.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]routing.Device(nil), b.Outputs...), nil
}

func (b *Backend) SetInputDevice(routing.Device) error {
	return b.record(CallSetInput)
}

func (b *Backend) SetOutputDevice(routing.Device) error {
	return b.record(CallSetOutput)
}

func (b *Backend) InstallMicrophonePath() error {
	return b.record(CallInstallPath)
}

func (b *Backend) Start() error {
	if err := b.record(CallStart); err != nil {
		return err
	}
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
	return nil
}

func (b *Backend) Stop() error {
	if err := b.record(CallStop); err != nil {
		return err
	}
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	return nil
}

// Calls 返回到目前为止的调用记录
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *Backend) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// Fail 让指定调用返回 err，err 为 nil 时恢复成功
func (b *Backend) Fail(call string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.errs == nil {
		b.errs = make(map[string]error)
	}
	b.errs[call] = err
}

func (b *Backend) record(call string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
	return b.errs[call]
}
