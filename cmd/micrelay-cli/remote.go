package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lisuiheng/micrelay/audio/codec"
	"github.com/lisuiheng/micrelay/control"
	"github.com/lisuiheng/micrelay/logger"
	"github.com/lisuiheng/micrelay/pkg/interfaces"
	"github.com/lisuiheng/micrelay/routing"
	"github.com/lisuiheng/micrelay/utils"
)

// 每隔多少个监听包打印一次电平
const meterEvery = 25

type decoder interface {
	Decode(packet []byte) ([]int16, error)
}

type decoderFactory func(control.Format) (decoder, error)

// remote 维护到守护进程的连接，断开后按退避策略重连
type remote struct {
	transport  interfaces.TransportProtocol
	backoff    utils.ReconnectStrategy
	newDecoder decoderFactory

	mu      sync.Mutex
	format  control.Format
	decoder decoder
	inputs  []routing.Device
	outputs []routing.Device
	packets int
	maxPeak float64
}

// newRemote 用 format 创建初始解码器；守护进程下发的格式会覆盖它
func newRemote(transport interfaces.TransportProtocol, backoff utils.ReconnectStrategy, newDecoder decoderFactory, format control.Format) (*remote, error) {
	dec, err := newDecoder(format)
	if err != nil {
		return nil, err
	}
	return &remote{
		transport:  transport,
		backoff:    backoff,
		newDecoder: newDecoder,
		format:     format,
		decoder:    dec,
	}, nil
}

func (r *remote) run(ctx context.Context) {
	for {
		if err := r.transport.Connect(ctx); err != nil {
			logger.Debug("Connect failed", "error", err)
		} else {
			r.backoff.Reset()
			fmt.Printf("\n%s Connected\n", green("✓"))
			for msg := range r.transport.Receive() {
				r.handle(msg)
			}
			if ctx.Err() != nil {
				return
			}
			fmt.Printf("\n%s Connection lost\n", red("✗"))
		}

		delay := r.backoff.NextDelay()
		fmt.Printf("\n%s Cannot reach daemon, retrying in %s\n", red("✗"), delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (r *remote) close() error {
	return r.transport.Close()
}

func (r *remote) send(cmd control.Command) error {
	data, err := control.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return r.transport.Send(data, interfaces.MsgText)
}

// resolve 把 "#n" 形式的序号转换为设备ID
func (r *remote) resolve(input bool, arg string) (string, error) {
	if !strings.HasPrefix(arg, "#") {
		return arg, nil
	}
	idx, err := strconv.Atoi(arg[1:])
	if err != nil {
		return "", fmt.Errorf("invalid device index %q", arg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	devices := r.outputs
	if input {
		devices = r.inputs
	}
	if idx < 0 || idx >= len(devices) {
		return "", fmt.Errorf("device index %d out of range (0-%d)", idx, len(devices)-1)
	}
	return devices[idx].ID, nil
}

func (r *remote) selectDevice(input bool, arg string) error {
	id, err := r.resolve(input, arg)
	if err != nil {
		return err
	}
	cmd := control.Command{Type: control.CmdSelectOutput, DeviceID: id}
	if input {
		cmd.Type = control.CmdSelectInput
	}
	return r.send(cmd)
}

func (r *remote) handle(msg interfaces.Message) {
	switch msg.Type {
	case interfaces.MsgText:
		ev, err := control.DecodeEvent(msg.Payload)
		if err != nil {
			logger.Error("Failed to handle event", "error", err)
			return
		}
		r.handleEvent(ev)
	case interfaces.MsgBinary:
		r.handleMonitor(msg.Payload)
	default:
		logger.Debug("Ignoring message", "type", msg.Type.String(), "size", len(msg.Payload))
	}
}

func (r *remote) handleEvent(ev control.Event) {
	switch ev.Type {
	case control.EventDevices:
		r.mu.Lock()
		r.inputs, r.outputs = ev.Inputs, ev.Outputs
		r.mu.Unlock()
		if ev.Format != nil {
			r.setFormat(*ev.Format)
		}
		fmt.Print(formatDevices(ev.Inputs, ev.Outputs))
	case control.EventStatus:
		if ev.Status != nil {
			fmt.Print(formatStatus(*ev.Status))
		}
	case control.EventError:
		fmt.Printf("\n%s %s\n  %s\n", red("✗"), ev.Title, ev.Message)
	}
}

// setFormat 格式变化时重建解码器，失败则保留旧的
func (r *remote) setFormat(f control.Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f == r.format {
		return
	}
	dec, err := r.newDecoder(f)
	if err != nil {
		logger.Error("Failed to create monitor decoder", "error", err,
			"sample_rate", f.SampleRate, "channels", f.Channels)
		return
	}
	logger.Debug("Monitor format changed", "sample_rate", f.SampleRate, "channels", f.Channels)
	r.format, r.decoder = f, dec
	r.packets, r.maxPeak = 0, 0
}

func (r *remote) handleMonitor(packet []byte) {
	r.mu.Lock()
	dec := r.decoder
	r.mu.Unlock()

	pcm, err := dec.Decode(packet)
	if err != nil {
		logger.Debug("Failed to decode monitor packet", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxPeak = max(r.maxPeak, codec.Peak(pcm))
	r.packets++
	if r.packets%meterEvery == 0 {
		fmt.Printf("\r%s %s", blue("level"), meter(r.maxPeak, 30))
		r.maxPeak = 0
	}
}

func formatDevices(inputs, outputs []routing.Device) string {
	var b strings.Builder
	b.WriteString("\nInput devices:\n")
	for i, d := range inputs {
		fmt.Fprintf(&b, "  #%d %s [%s]\n", i, d.Name, d.ID)
	}
	b.WriteString("Output devices:\n")
	for i, d := range outputs {
		fmt.Fprintf(&b, "  #%d %s [%s]\n", i, d.Name, d.ID)
	}
	return b.String()
}

func formatStatus(st routing.Status) string {
	name := func(d *routing.Device) string {
		if d == nil {
			return "-"
		}
		return d.Name
	}
	button := st.ActionLabel
	if !st.ToggleEnabled {
		button += " (disabled)"
	}
	return fmt.Sprintf("\nState: %s\n  Input:  %s\n  Output: %s\n  Button: %s\n",
		st.State, name(st.Input), name(st.Output), button)
}

func meter(level float64, width int) string {
	n := int(level * float64(width))
	n = min(max(n, 0), width)
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", width-n) + "]"
}
