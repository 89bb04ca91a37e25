package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisuiheng/micrelay/control"
	"github.com/lisuiheng/micrelay/pkg/interfaces"
	"github.com/lisuiheng/micrelay/routing"
	"github.com/lisuiheng/micrelay/utils"
)

type fakeTransport struct {
	connectErrs []error
	connects    int
	sent        [][]byte
	msgs        chan interfaces.Message
}

func (f *fakeTransport) Connect(context.Context) error {
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Send(data []byte, _ interfaces.MessageType) error {
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Receive() <-chan interfaces.Message { return f.msgs }
func (f *fakeTransport) Close() error                       { return nil }
func (f *fakeTransport) ProtocolType() string               { return "fake" }

type fakeDecoder struct {
	format control.Format
}

func (fakeDecoder) Decode([]byte) ([]int16, error) { return []int16{16384}, nil }

// decoderRecorder 记录每次创建解码器时使用的格式
type decoderRecorder struct {
	formats []control.Format
	err     error
}

func (d *decoderRecorder) newDecoder(f control.Format) (decoder, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.formats = append(d.formats, f)
	return fakeDecoder{format: f}, nil
}

var defaultFormat = control.Format{SampleRate: 48000, Channels: 1}

func newTestRemote(t *testing.T, tr *fakeTransport) (*remote, *decoderRecorder) {
	t.Helper()
	rec := &decoderRecorder{}
	r, err := newRemote(tr, utils.NewExponentialBackoffWith(time.Millisecond, 2*time.Millisecond), rec.newDecoder, defaultFormat)
	require.NoError(t, err)
	return r, rec
}

func TestRemote_ResolveIndex(t *testing.T) {
	r, _ := newTestRemote(t, &fakeTransport{})
	r.handleEvent(control.Event{
		Type:    control.EventDevices,
		Inputs:  []routing.Device{{ID: "mic", Name: "Built-in Mic"}},
		Outputs: []routing.Device{{ID: "speaker", Name: "Built-in Speaker"}, {ID: "hdmi", Name: "HDMI"}},
	})

	id, err := r.resolve(true, "#0")
	require.NoError(t, err)
	assert.Equal(t, "mic", id)

	id, err = r.resolve(false, "#1")
	require.NoError(t, err)
	assert.Equal(t, "hdmi", id)

	id, err = r.resolve(false, "raw-id")
	require.NoError(t, err)
	assert.Equal(t, "raw-id", id)

	_, err = r.resolve(true, "#5")
	assert.Error(t, err)
	_, err = r.resolve(true, "#x")
	assert.Error(t, err)
}

func TestRemote_SelectDeviceSendsCommand(t *testing.T) {
	tr := &fakeTransport{}
	r, _ := newTestRemote(t, tr)

	require.NoError(t, r.selectDevice(false, "speaker"))

	require.Len(t, tr.sent, 1)
	var cmd control.Command
	require.NoError(t, json.Unmarshal(tr.sent[0], &cmd))
	assert.Equal(t, control.CmdSelectOutput, cmd.Type)
	assert.Equal(t, "speaker", cmd.DeviceID)
}

func TestRemote_RunReconnects(t *testing.T) {
	tr := &fakeTransport{
		connectErrs: []error{errors.New("refused"), errors.New("refused")},
		msgs:        make(chan interfaces.Message),
	}
	close(tr.msgs)
	r, _ := newTestRemote(t, tr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r.run(ctx)

	assert.GreaterOrEqual(t, tr.connects, 3)
}

func TestRemote_MonitorMeter(t *testing.T) {
	r, _ := newTestRemote(t, &fakeTransport{})

	for i := 0; i < meterEvery; i++ {
		r.handle(interfaces.Message{Type: interfaces.MsgBinary, Payload: []byte{1}})
	}

	assert.Equal(t, meterEvery, r.packets)
	assert.Equal(t, 0.0, r.maxPeak, "reset after printing")
}

func TestRemote_DaemonFormatRebuildsDecoder(t *testing.T) {
	r, rec := newTestRemote(t, &fakeTransport{})
	stereo := control.Format{SampleRate: 24000, Channels: 2}

	r.handleEvent(control.Event{Type: control.EventDevices, Format: &defaultFormat})
	assert.Equal(t, []control.Format{defaultFormat}, rec.formats, "same format keeps the decoder")

	r.handleEvent(control.Event{Type: control.EventDevices, Format: &stereo})
	assert.Equal(t, []control.Format{defaultFormat, stereo}, rec.formats)
	assert.Equal(t, fakeDecoder{format: stereo}, r.decoder)

	r.handleEvent(control.Event{Type: control.EventDevices})
	assert.Equal(t, stereo, r.format, "event without format changes nothing")
}

func TestRemote_BadDaemonFormatKeepsDecoder(t *testing.T) {
	r, rec := newTestRemote(t, &fakeTransport{})
	rec.err = errors.New("invalid channels")

	r.handleEvent(control.Event{Type: control.EventDevices, Format: &control.Format{SampleRate: 48000, Channels: 7}})

	assert.Equal(t, defaultFormat, r.format)
	assert.Equal(t, fakeDecoder{format: defaultFormat}, r.decoder)
}

func TestNewRemote_InvalidFormat(t *testing.T) {
	rec := &decoderRecorder{err: errors.New("invalid sample rate")}

	_, err := newRemote(&fakeTransport{}, utils.NewExponentialBackoff(), rec.newDecoder, control.Format{})

	assert.Error(t, err)
}

func TestFormatStatus(t *testing.T) {
	out := formatStatus(routing.Status{
		State:         routing.StateStarted,
		Input:         &routing.Device{Name: "Built-in Mic"},
		ActionLabel:   "Stop Routing",
		ToggleEnabled: false,
	})

	assert.Contains(t, out, "State: started")
	assert.Contains(t, out, "Input:  Built-in Mic")
	assert.Contains(t, out, "Output: -")
	assert.Contains(t, out, "Stop Routing (disabled)")
}

func TestMeter(t *testing.T) {
	assert.Equal(t, "[##  ]", meter(0.5, 4))
	assert.Equal(t, "[####]", meter(2, 4))
	assert.Equal(t, "[    ]", meter(-1, 4))
}
