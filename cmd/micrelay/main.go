package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/lisuiheng/micrelay/core"
	"github.com/lisuiheng/micrelay/logger"
)

func main() {
	cmd := kingpin.New("micrelay", "Routes a microphone to an output device, controlled over websocket.")
	configPath := cmd.Flag("config", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/micrelay/config.yaml).").
		Short('c').
		String()
	debug := cmd.Flag("debug", "Log at debug level to stdout.").
		Bool()
	listDevices := cmd.Flag("list-devices", "Print the available input and output devices and exit.").
		Bool()
	kingpin.MustParse(cmd.Parse(os.Args[1:]))

	// 加载配置
	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Debug = true
	}

	if err := initLogger(cfg); err != nil {
		logger.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logger.Info("Shutting down micrelay")

	app, err := core.NewApp(cfg, logger.Logger())
	if err != nil {
		logger.Error("Failed to create app", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Failed to close app", "error", err)
		}
	}()

	if *listDevices {
		if err := printDevices(app); err != nil {
			logger.Error("Failed to list devices", "error", err)
		}
		return
	}

	// 设置信号处理
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("Starting micrelay service")
		if err := app.Run(ctx); err != nil {
			logger.Error("Service runtime error", "error", err)
			cancel()
		}
	}()

	// 等待终止信号
	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", "signal", sig)
		cancel()
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}
	<-done

	logger.Info("Service shutdown completed")
}

// initLogger 初始化日志系统
func initLogger(cfg core.Config) error {
	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: cfg.Logging.Outputs,
	}

	// 调试模式覆盖配置
	if cfg.Debug {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}

	return logger.Init(logCfg)
}

func printDevices(app *core.App) error {
	inputs, err := app.Session().InputDevices()
	if err != nil {
		return err
	}
	outputs, err := app.Session().OutputDevices()
	if err != nil {
		return err
	}

	fmt.Println("Input devices:")
	for i, d := range inputs {
		fmt.Printf("  %d: %s [%s]%s\n", i, d.Name, d.ID, defaultMark(d.Default))
	}
	fmt.Println("Output devices:")
	for i, d := range outputs {
		fmt.Printf("  %d: %s [%s]%s\n", i, d.Name, d.ID, defaultMark(d.Default))
	}
	return nil
}

func defaultMark(isDefault bool) string {
	if isDefault {
		return " (default)"
	}
	return ""
}
