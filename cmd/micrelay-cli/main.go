package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/lisuiheng/micrelay/audio/codec"
	"github.com/lisuiheng/micrelay/control"
	"github.com/lisuiheng/micrelay/logger"
	"github.com/lisuiheng/micrelay/protocols/websocket"
	"github.com/lisuiheng/micrelay/utils"
)

var (
	blue  = color.New(color.FgBlue).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
)

func main() {
	cmd := kingpin.New("micrelay-cli", "Interactive client for the micrelay daemon.")
	url := cmd.Flag("url", "Control endpoint of the daemon.").
		Default("ws://127.0.0.1:8765/control").
		String()
	monitorRate := cmd.Flag("monitor-rate", "Sample rate of the monitor stream until the daemon announces its own.").
		Default("48000").
		Int()
	monitorChannels := cmd.Flag("monitor-channels", "Channel count of the monitor stream until the daemon announces its own.").
		Default("1").
		Int()
	debug := cmd.Flag("debug", "Enable debug logging.").
		Bool()
	kingpin.MustParse(cmd.Parse(os.Args[1:]))

	logCfg := logger.Config{Level: "warn", Outputs: []string{"stderr"}}
	if *debug {
		logCfg.Level = "debug"
	}
	if err := logger.Init(logCfg); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	r, err := newRemote(
		websocket.NewWebSocketProtocol(websocket.Config{URL: *url}),
		utils.NewExponentialBackoff(),
		newOpusDecoder,
		control.Format{SampleRate: *monitorRate, Channels: *monitorChannels},
	)
	if err != nil {
		logger.Error("Failed to create monitor decoder", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
		_ = r.close()
		os.Exit(0)
	}()

	go r.run(ctx)
	startInteractive(r)
	cancel()
	_ = r.close()
}

func newOpusDecoder(f control.Format) (decoder, error) {
	dec, err := codec.NewOpusDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return nil, err
	}
	return dec, nil
}

func startInteractive(r *remote) {
	reader := bufio.NewReader(os.Stdin)
	printHelp()

	for {
		fmt.Printf("\n%s ", blue("micrelay>"))
		input, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		name, args := parts[0], parts[1:]

		var cmdErr error
		switch name {
		case "inputs", "outputs", "devices":
			cmdErr = r.send(control.Command{Type: control.CmdListDevices})
		case "input", "output":
			if len(args) != 1 {
				fmt.Printf("%s Usage: %s <id|#index>\n", red("✗"), name)
				continue
			}
			cmdErr = r.selectDevice(name == "input", args[0])
		case "route", "start":
			cmdErr = r.send(control.Command{Type: control.CmdRoute})
		case "stop":
			cmdErr = r.send(control.Command{Type: control.CmdStop})
		case "toggle":
			cmdErr = r.send(control.Command{Type: control.CmdToggle})
		case "status":
			cmdErr = r.send(control.Command{Type: control.CmdStatus})
		case "monitor":
			enable := len(args) == 0 || args[0] == "on"
			cmdErr = r.send(control.Command{Type: control.CmdMonitor, Enable: enable})
		case "exit", "quit":
			fmt.Println("Exiting...")
			return
		case "help":
			printHelp()
		default:
			fmt.Printf("%s Unknown command: %s\n", red("✗"), name)
			printHelp()
		}
		if cmdErr != nil {
			fmt.Printf("%s Error: %v\n", red("✗"), cmdErr)
		}
	}
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  devices            - Refresh and show input and output devices")
	fmt.Println("  input <id|#n>      - Select the input device")
	fmt.Println("  output <id|#n>     - Select the output device")
	fmt.Println("  route              - Start routing")
	fmt.Println("  stop               - Stop routing")
	fmt.Println("  toggle             - Route or stop, like the route button")
	fmt.Println("  status             - Show current status")
	fmt.Println("  monitor [on|off]   - Show the level of the routed audio")
	fmt.Println("  exit/quit          - Exit the program")
	fmt.Println("  help               - Show this help message")
}
