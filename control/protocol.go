// Package control 实现守护进程的websocket控制接口，UI层通过它操作路由会话
package control

import (
	"encoding/json"
	"fmt"

	"github.com/lisuiheng/micrelay/routing"
)

// CommandType 客户端发送的命令
type CommandType string

const (
	CmdListDevices  CommandType = "list_devices"
	CmdSelectInput  CommandType = "select_input"
	CmdSelectOutput CommandType = "select_output"
	CmdRoute        CommandType = "route"
	CmdStop         CommandType = "stop"
	CmdToggle       CommandType = "toggle"
	CmdStatus       CommandType = "status"
	CmdMonitor      CommandType = "monitor"
)

// EventType 服务端推送的事件
type EventType string

const (
	EventDevices EventType = "devices"
	EventStatus  EventType = "status"
	EventError   EventType = "error"
)

type Command struct {
	Type     CommandType `json:"type"`
	DeviceID string      `json:"device_id,omitempty"`
	Enable   bool        `json:"enable,omitempty"`
}

// Format 监听流的PCM格式，客户端据此创建解码器
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

type Event struct {
	Type    EventType        `json:"type"`
	Inputs  []routing.Device `json:"inputs,omitempty"`
	Outputs []routing.Device `json:"outputs,omitempty"`
	Format  *Format          `json:"format,omitempty"`
	Status  *routing.Status  `json:"status,omitempty"`
	Title   string           `json:"title,omitempty"`
	Message string           `json:"message,omitempty"`
}

func errorEvent(title string, err error) Event {
	return Event{Type: EventError, Title: title, Message: err.Error()}
}

func statusEvent(st routing.Status) Event {
	return Event{Type: EventStatus, Status: &st}
}

func EncodeCommand(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}
	return data, nil
}

func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return ev, nil
}
