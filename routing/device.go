package routing

// Device 由音频后端枚举出的设备，只读
type Device struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default,omitempty"`
}

func (d Device) String() string {
	return d.Name
}

// Backend 定义路由会话依赖的音频后端接口
type Backend interface {
	InputDevices() ([]Device, error)
	OutputDevices() ([]Device, error)
	SetInputDevice(d Device) error
	SetOutputDevice(d Device) error
	// InstallMicrophonePath 构建麦克风到输出设备的信号路径
	InstallMicrophonePath() error
	Start() error
	Stop() error
}

// FindDevice 按ID查找设备
func FindDevice(devices []Device, id string) (Device, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}
