package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lisuiheng/micrelay/routing"
)

const writeWait = 5 * time.Second

var (
	ErrUnknownDevice  = errors.New("unknown device")
	ErrMonitorOff     = errors.New("monitor is not enabled on this server")
	ErrUnknownCommand = errors.New("unknown command")
)

// Server 把websocket命令转换为 routing.Session 调用，并向所有连接广播状态
type Server struct {
	session  *routing.Session
	monitor  <-chan []byte
	format   *Format
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}
}

type conn struct {
	ws      *websocket.Conn
	mu      sync.Mutex
	monitor atomic.Bool
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *conn) writeBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// NewServer 创建控制服务。monitor 为 nil 时不提供监听流
func NewServer(session *routing.Session, monitor <-chan []byte, logger *slog.Logger) *Server {
	s := &Server{
		session: session,
		monitor: monitor,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*conn]struct{}),
	}
	session.OnChange(s.broadcastStatus)
	return s
}

// SetMonitorFormat 设置随设备列表下发的监听流格式，需在开始服务前调用
func (s *Server) SetMonitorFormat(f Format) {
	s.format = &f
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	c := &conn{ws: ws}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("Control client connected", "remote", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = ws.Close()
		s.logger.Info("Control client disconnected", "remote", r.RemoteAddr)
	}()

	s.sendDevices(c)
	s.reply(c, statusEvent(s.session.Status()))

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			s.logger.Debug("Received unexpected binary message", "size", len(data))
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.logger.Error("JSON unmarshal failed", "error", err, "raw_data", string(data))
			s.reply(c, errorEvent("Invalid command", err))
			continue
		}
		s.handle(c, cmd)
	}
}

func (s *Server) handle(c *conn, cmd Command) {
	s.logger.Debug("Received command", "type", cmd.Type, "device_id", cmd.DeviceID)

	switch cmd.Type {
	case CmdListDevices:
		s.sendDevices(c)
	case CmdSelectInput:
		s.selectDevice(c, cmd.DeviceID, s.session.InputDevices, s.session.SelectInput)
	case CmdSelectOutput:
		s.selectDevice(c, cmd.DeviceID, s.session.OutputDevices, s.session.SelectOutput)
	case CmdRoute:
		s.replyErr(c, s.session.Start())
	case CmdStop:
		s.replyErr(c, s.session.Stop())
	case CmdToggle:
		s.replyErr(c, s.session.Toggle())
	case CmdStatus:
		s.reply(c, statusEvent(s.session.Status()))
	case CmdMonitor:
		if s.monitor == nil {
			s.reply(c, errorEvent("Monitor unavailable", ErrMonitorOff))
			return
		}
		c.monitor.Store(cmd.Enable)
		s.logger.Info("Monitor subscription changed", "enable", cmd.Enable)
	default:
		s.reply(c, errorEvent("Invalid command", fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)))
	}
}

func (s *Server) selectDevice(c *conn, id string, list func() ([]routing.Device, error), selectFn func(routing.Device)) {
	devices, err := list()
	if err != nil {
		s.reply(c, errorEvent("Cannot list devices", err))
		return
	}
	d, ok := routing.FindDevice(devices, id)
	if !ok {
		s.reply(c, errorEvent("Cannot select device", fmt.Errorf("%w: %q", ErrUnknownDevice, id)))
		return
	}
	selectFn(d)
}

func (s *Server) sendDevices(c *conn) {
	inputs, err := s.session.InputDevices()
	if err != nil {
		s.reply(c, errorEvent("Cannot list devices", err))
		return
	}
	outputs, err := s.session.OutputDevices()
	if err != nil {
		s.reply(c, errorEvent("Cannot list devices", err))
		return
	}
	s.reply(c, Event{Type: EventDevices, Inputs: inputs, Outputs: outputs, Format: s.format})
}

func (s *Server) replyErr(c *conn, err error) {
	if err == nil {
		return
	}
	s.reply(c, errorEvent(routing.Title(err), err))
}

func (s *Server) reply(c *conn, ev Event) {
	if err := c.writeJSON(ev); err != nil {
		s.logger.Error("Failed to send event", "type", ev.Type, "error", err)
	}
}

func (s *Server) snapshot() []*conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) broadcastStatus(st routing.Status) {
	ev := statusEvent(st)
	for _, c := range s.snapshot() {
		s.reply(c, ev)
	}
}

// Run 把监听包转发给订阅的连接，直到 ctx 结束
func (s *Server) Run(ctx context.Context) {
	if s.monitor == nil {
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-s.monitor:
			if !ok {
				return
			}
			for _, c := range s.snapshot() {
				if !c.monitor.Load() {
					continue
				}
				if err := c.writeBinary(packet); err != nil {
					s.logger.Debug("Failed to send monitor packet", "error", err)
				}
			}
		}
	}
}

// Close 关闭所有连接
func (s *Server) Close() error {
	for _, c := range s.snapshot() {
		c.mu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.mu.Unlock()
		_ = c.ws.Close()
	}
	return nil
}
