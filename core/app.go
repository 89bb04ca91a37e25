package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lisuiheng/micrelay/audio"
	"github.com/lisuiheng/micrelay/control"
	"github.com/lisuiheng/micrelay/routing"
)

// App 组装音频后端、路由会话和控制接口
type App struct {
	config  Config
	logger  *slog.Logger
	backend audio.Backend
	session *routing.Session
	control *control.Server

	addrMu sync.Mutex
	addr   string
}

// NewApp 根据配置创建后端并组装应用
func NewApp(cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		return nil, ErrNilLogger
	}

	audioCfg := audio.Config{
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		FrameDuration: cfg.Audio.FrameDuration,
	}

	var (
		tap     *audio.OpusTap
		monitor <-chan []byte
	)
	if cfg.Monitor.Enabled {
		var err error
		tap, err = audio.NewOpusTap(audioCfg, cfg.Monitor.Bitrate, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create monitor: %w", err)
		}
		monitor = tap.Packets()
	}

	// tap 为 nil 时必须传入无类型的 nil，否则后端会拿到非空接口
	var t audio.Tap
	if tap != nil {
		t = tap
	}
	backend, err := audio.NewBackend(cfg.Audio.Backend, audioCfg, t, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio backend: %w", err)
	}

	log.Info("Audio backend ready",
		"backend", cfg.Audio.Backend,
		"sample_rate", cfg.Audio.SampleRate,
		"channels", cfg.Audio.Channels,
		"monitor", cfg.Monitor.Enabled)

	return newApp(cfg, backend, monitor, log), nil
}

func newApp(cfg Config, backend audio.Backend, monitor <-chan []byte, log *slog.Logger) *App {
	session := routing.NewSession(backend, log.With("component", "session"))
	server := control.NewServer(session, monitor, log.With("component", "control"))
	if monitor != nil {
		server.SetMonitorFormat(control.Format{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		})
	}
	return &App{
		config:  cfg,
		logger:  log,
		backend: backend,
		session: session,
		control: server,
	}
}

func (a *App) Session() *routing.Session {
	return a.session
}

// Addr 返回控制接口实际监听的地址，Run 之前为空
func (a *App) Addr() string {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// Run 启动控制接口，直到 ctx 结束
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Control.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.config.Control.Listen, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr().String()
	a.addrMu.Unlock()

	mux := http.NewServeMux()
	mux.Handle(a.config.Control.Path, a.control)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.control.Run(runCtx)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	a.logger.Info("Control endpoint listening", "addr", ln.Addr().String(), "path", a.config.Control.Path)

	select {
	case <-ctx.Done():
		a.logger.Info("Context cancelled, stopping control endpoint")
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control endpoint failed: %w", err)
		}
		return nil
	}

	_ = a.control.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down control endpoint: %w", err)
	}
	return nil
}

// Close 停止路由并释放音频后端
func (a *App) Close() error {
	a.logger.Info("Closing application")

	var errs []error
	if a.session.State() == routing.StateStarted {
		if err := a.session.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audio backend: %w", err))
	}
	return errors.Join(errs...)
}
