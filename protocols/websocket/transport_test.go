package websocket

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisuiheng/micrelay/control"
	"github.com/lisuiheng/micrelay/pkg/interfaces"
	"github.com/lisuiheng/micrelay/routing"
	"github.com/lisuiheng/micrelay/routing/routingtest"
)

func newControlServer(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	session := routing.NewSession(routingtest.NewBackend(), logger)
	server := control.NewServer(session, nil, logger)
	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		_ = server.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, msgs <-chan interfaces.Message) control.Event {
	t.Helper()
	select {
	case msg, ok := <-msgs:
		require.True(t, ok, "channel closed")
		require.Equal(t, interfaces.MsgText, msg.Type)
		ev, err := control.DecodeEvent(msg.Payload)
		require.NoError(t, err)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return control.Event{}
	}
}

func TestWSProtocol_RoundTrip(t *testing.T) {
	p := NewWebSocketProtocol(Config{URL: newControlServer(t)})
	require.NoError(t, p.Connect(context.Background()))

	msgs := p.Receive()
	assert.Equal(t, control.EventDevices, nextEvent(t, msgs).Type)
	assert.Equal(t, control.EventStatus, nextEvent(t, msgs).Type)

	data, err := control.EncodeCommand(control.Command{Type: control.CmdSelectInput, DeviceID: "mic"})
	require.NoError(t, err)
	require.NoError(t, p.Send(data, interfaces.MsgText))

	ev := nextEvent(t, msgs)
	require.Equal(t, control.EventStatus, ev.Type)
	assert.Equal(t, "mic", ev.Status.Input.ID)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Send(data, interfaces.MsgText), interfaces.ErrNotConnected)
	for range msgs {
	}
}

func TestWSProtocol_ReconnectReleasesOldConnection(t *testing.T) {
	p := NewWebSocketProtocol(Config{URL: newControlServer(t)})
	require.NoError(t, p.Connect(context.Background()))
	old := p.Receive()

	require.NoError(t, p.Connect(context.Background()))
	t.Cleanup(func() { _ = p.Close() })

	closed := make(chan struct{})
	go func() {
		for range old {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("previous connection still open after reconnect")
	}

	msgs := p.Receive()
	assert.Equal(t, control.EventDevices, nextEvent(t, msgs).Type)
	assert.Equal(t, control.EventStatus, nextEvent(t, msgs).Type)
}

func TestWSProtocol_ConnectFailure(t *testing.T) {
	p := NewWebSocketProtocol(Config{URL: "ws://127.0.0.1:1/control", HandshakeTimeout: time.Second})

	err := p.Connect(context.Background())

	assert.ErrorIs(t, err, interfaces.ErrConnectionFailed)
	assert.Equal(t, "websocket", p.ProtocolType())
}
