// protocols/websocket/transport.go
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lisuiheng/micrelay/pkg/interfaces"
)

var _ interfaces.TransportProtocol = (*WSProtocol)(nil)

// WSProtocol 连接守护进程控制接口的websocket客户端
type WSProtocol struct {
	conn    *websocket.Conn
	config  Config
	msgChan chan interfaces.Message
	done    chan struct{}
	mu      sync.Mutex
}

// Config 定义websocket特有的配置
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	Header           http.Header
}

func NewWebSocketProtocol(config Config) *WSProtocol {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	return &WSProtocol{config: config}
}

// Connect 建立连接。断开后可以再次调用
func (p *WSProtocol) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 旧连接可能已被服务端断开，重连前先释放
	_ = p.closeLocked()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: p.config.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, p.config.URL, p.config.Header)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}

	p.conn = conn
	p.msgChan = make(chan interfaces.Message, 100)
	p.done = make(chan struct{})

	go p.readPump(conn, p.msgChan, p.done)
	return nil
}

func (p *WSProtocol) readPump(conn *websocket.Conn, msgChan chan<- interfaces.Message, done <-chan struct{}) {
	defer close(msgChan)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case msgChan <- interfaces.Message{Payload: data, Type: convertMsgType(msgType)}:
		case <-done:
			return
		}
	}
}

func convertMsgType(wsType int) interfaces.MessageType {
	switch wsType {
	case websocket.TextMessage:
		return interfaces.MsgText
	case websocket.BinaryMessage:
		return interfaces.MsgBinary
	default:
		return interfaces.MsgControl
	}
}

func (p *WSProtocol) Send(data []byte, msgType interfaces.MessageType) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return interfaces.ErrNotConnected
	}

	wsType := websocket.TextMessage
	if msgType == interfaces.MsgBinary {
		wsType = websocket.BinaryMessage
	}
	return p.conn.WriteMessage(wsType, data)
}

func (p *WSProtocol) Receive() <-chan interfaces.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msgChan
}

func (p *WSProtocol) ProtocolType() string { return "websocket" }

func (p *WSProtocol) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *WSProtocol) closeLocked() error {
	if p.conn == nil {
		return nil
	}
	close(p.done)
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := p.conn.Close()
	p.conn = nil
	return err
}
