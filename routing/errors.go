package routing

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceSelection = errors.New("device selection failed")
	ErrEngineStart     = errors.New("engine start failed")
	ErrEngineStop      = errors.New("engine stop failed")
)

// Step 标识失败的后端调用
type Step string

const (
	StepSetInput    Step = "set input device"
	StepSetOutput   Step = "set output device"
	StepInstallPath Step = "install microphone path"
	StepStartEngine Step = "start engine"
	StepStopEngine  Step = "stop engine"
)

// Error 包装后端错误，Kind 为上面的哨兵错误之一
type Error struct {
	Kind error
	Step Step
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

const (
	titleStart = "An error occurred when trying to start routing"
	titleStop  = "An error occurred while stopping the routing"
)

// Title 返回适合弹窗显示的错误标题
func Title(err error) string {
	switch {
	case errors.Is(err, ErrEngineStop):
		return titleStop
	case errors.Is(err, ErrDeviceSelection), errors.Is(err, ErrEngineStart):
		return titleStart
	default:
		return "An error occurred"
	}
}
