package routing

import (
	"log/slog"
	"slices"
	"sync"
)

// State 路由状态
type State string

const (
	StateStopped State = "stopped"
	StateStarted State = "started"
)

const (
	labelRoute = "Route"
	labelStop  = "Stop Routing"
)

// Status 会话快照，供UI层渲染按钮和列表选择
type Status struct {
	State         State   `json:"state"`
	Input         *Device `json:"input,omitempty"`
	Output        *Device `json:"output,omitempty"`
	CanStart      bool    `json:"can_start"`
	ToggleEnabled bool    `json:"toggle_enabled"`
	ActionLabel   string  `json:"action_label"`
}

// Session 记录设备选择和路由状态，实际音频I/O交给 Backend
type Session struct {
	mu        sync.Mutex
	backend   Backend
	logger    *slog.Logger
	input     *Device
	output    *Device
	state     State
	observers []func(Status)
}

// NewSession 创建新的路由会话，初始状态为 stopped
func NewSession(backend Backend, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		backend: backend,
		logger:  logger,
		state:   StateStopped,
	}
}

// OnChange 注册状态变化回调，回调在锁外执行
func (s *Session) OnChange(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Session) InputDevices() ([]Device, error) {
	return s.backend.InputDevices()
}

func (s *Session) OutputDevices() ([]Device, error) {
	return s.backend.OutputDevices()
}

func (s *Session) SelectInput(d Device) {
	s.mu.Lock()
	s.input = &d
	st := s.statusLocked()
	s.mu.Unlock()

	s.logger.Info("Input device selected", "id", d.ID, "name", d.Name)
	s.notify(st)
}

func (s *Session) SelectOutput(d Device) {
	s.mu.Lock()
	s.output = &d
	st := s.statusLocked()
	s.mu.Unlock()

	s.logger.Info("Output device selected", "id", d.ID, "name", d.Name)
	s.notify(st)
}

func (s *Session) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canStartLocked()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Start 开始路由。前置条件不满足时什么都不做
func (s *Session) Start() error {
	s.mu.Lock()
	if !s.canStartLocked() {
		state := s.state
		s.mu.Unlock()
		s.logger.Debug("Start ignored, preconditions not met", "state", state)
		return nil
	}
	err := s.startLocked()
	st := s.statusLocked()
	s.mu.Unlock()

	s.notify(st)
	return err
}

// Stop 停止路由。失败时保持 started 状态
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateStarted {
		s.mu.Unlock()
		s.logger.Debug("Stop ignored, routing not started")
		return nil
	}
	err := s.stopLocked()
	st := s.statusLocked()
	s.mu.Unlock()

	s.notify(st)
	return err
}

// Toggle 对应路由按钮：可启动则启动，已启动则停止
func (s *Session) Toggle() error {
	s.mu.Lock()
	var err error
	switch {
	case s.canStartLocked():
		err = s.startLocked()
	case s.state == StateStarted:
		err = s.stopLocked()
	default:
		s.mu.Unlock()
		return nil
	}
	st := s.statusLocked()
	s.mu.Unlock()

	s.notify(st)
	return err
}

func (s *Session) startLocked() error {
	input, output := *s.input, *s.output
	s.logger.Info("Starting routing", "input", input.Name, "output", output.Name)

	fail := func(kind error, step Step, err error) error {
		s.state = StateStopped
		s.logger.Error("Failed to start routing", "step", step, "error", err)
		return &Error{Kind: kind, Step: step, Err: err}
	}

	if err := s.backend.SetInputDevice(input); err != nil {
		return fail(ErrDeviceSelection, StepSetInput, err)
	}
	if err := s.backend.SetOutputDevice(output); err != nil {
		return fail(ErrDeviceSelection, StepSetOutput, err)
	}
	if err := s.backend.InstallMicrophonePath(); err != nil {
		return fail(ErrEngineStart, StepInstallPath, err)
	}
	if err := s.backend.Start(); err != nil {
		return fail(ErrEngineStart, StepStartEngine, err)
	}

	s.state = StateStarted
	s.logger.Info("State changed", "from", StateStopped, "to", StateStarted)
	return nil
}

func (s *Session) stopLocked() error {
	s.logger.Info("Stopping routing")
	if err := s.backend.Stop(); err != nil {
		s.logger.Error("Failed to stop routing", "error", err)
		return &Error{Kind: ErrEngineStop, Step: StepStopEngine, Err: err}
	}

	s.state = StateStopped
	s.logger.Info("State changed", "from", StateStarted, "to", StateStopped)
	return nil
}

func (s *Session) canStartLocked() bool {
	return s.input != nil && s.output != nil && s.state == StateStopped
}

func (s *Session) statusLocked() Status {
	st := Status{
		State:         s.state,
		CanStart:      s.canStartLocked(),
		ToggleEnabled: s.input != nil && s.output != nil,
		ActionLabel:   labelRoute,
	}
	if s.state == StateStarted {
		st.ActionLabel = labelStop
	}
	if s.input != nil {
		in := *s.input
		st.Input = &in
	}
	if s.output != nil {
		out := *s.output
		st.Output = &out
	}
	return st
}

func (s *Session) notify(st Status) {
	s.mu.Lock()
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(st)
	}
}
