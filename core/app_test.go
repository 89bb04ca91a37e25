package core

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisuiheng/micrelay/control"
	"github.com/lisuiheng/micrelay/routing"
	"github.com/lisuiheng/micrelay/routing/routingtest"
)

type closableBackend struct {
	*routingtest.Backend
	closed bool
}

func (b *closableBackend) Close() error {
	b.closed = true
	return nil
}

func testConfig() Config {
	return Config{
		Audio:   AudioConfig{Backend: "malgo", SampleRate: 48000, Channels: 1, FrameDuration: 20},
		Control: ControlConfig{Listen: "127.0.0.1:0", Path: "/control"},
	}
}

func TestNewApp_NilLogger(t *testing.T) {
	_, err := NewApp(testConfig(), nil)

	assert.ErrorIs(t, err, ErrNilLogger)
}

func TestApp_RunServesControl(t *testing.T) {
	backend := &closableBackend{Backend: routingtest.NewBackend()}
	app := newApp(testConfig(), backend, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+app.Addr()+"/control", nil)
	require.NoError(t, err)
	var ev control.Event
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, control.EventDevices, ev.Type)
	assert.Nil(t, ev.Format)
	_ = ws.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_CloseStopsRouting(t *testing.T) {
	backend := &closableBackend{Backend: routingtest.NewBackend()}
	app := newApp(testConfig(), backend, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s := app.Session()
	s.SelectInput(routing.Device{ID: "mic", Name: "Built-in Mic"})
	s.SelectOutput(routing.Device{ID: "speaker", Name: "Built-in Speaker"})
	require.NoError(t, s.Start())

	require.NoError(t, app.Close())

	assert.Equal(t, routing.StateStopped, s.State())
	assert.False(t, backend.Running())
	assert.True(t, backend.closed)
}

func TestNewApp_AnnouncesMonitorFormat(t *testing.T) {
	cfg := testConfig()
	cfg.Audio.SampleRate = 24000
	cfg.Audio.Channels = 2
	backend := &closableBackend{Backend: routingtest.NewBackend()}
	app := newApp(cfg, backend, make(chan []byte), slog.New(slog.NewTextHandler(io.Discard, nil)))

	srv := httptest.NewServer(app.control)
	defer srv.Close()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	var ev control.Event
	require.NoError(t, ws.ReadJSON(&ev))
	require.NotNil(t, ev.Format)
	assert.Equal(t, control.Format{SampleRate: 24000, Channels: 2}, *ev.Format)
}
