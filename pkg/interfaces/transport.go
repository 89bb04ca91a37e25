// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"errors"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConnected     = errors.New("not connected")
)

// TransportProtocol CLI与守护进程之间的传输层
type TransportProtocol interface {
	Connect(ctx context.Context) error
	Send(data []byte, msgType MessageType) error
	// Receive 返回的通道在连接断开后关闭
	Receive() <-chan Message
	Close() error
	ProtocolType() string
}

type Message struct {
	Payload []byte
	Type    MessageType
}

type MessageType int

const (
	MsgText    MessageType = iota // JSON文本
	MsgBinary                     // 二进制数据（OPUS监听包）
	MsgControl                    // 控制帧
)

func (t MessageType) String() string {
	switch t {
	case MsgText:
		return "text"
	case MsgBinary:
		return "binary"
	case MsgControl:
		return "control"
	default:
		return "unknown"
	}
}
