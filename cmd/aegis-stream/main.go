package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/pflag"

	"github.com/ghalamif/AegisStream"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "tail":
		err = tailCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		log.Fatalf("aegis-stream %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "Path to stream configuration file")
	addr := fs.String("addr", "", "Override server.addr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := aegisstream.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	flow, err := aegisstream.ConfFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := aegisstream.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good: producer=%s sink=%s stream=%s%s\n",
		*cfgPath, cfg.Producer.Kind, cfg.Sink.Backend, cfg.Server.Addr, cfg.Server.Path)
	return nil
}

func statsCommand(args []string) error {
	fs := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	url := fs.String("url", "http://localhost:8181/status", "Runtime status endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: 5 * time.Second}
	fmt.Printf("Polling %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printStatusSnapshot(client, *url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printStatusSnapshot(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var st aegisstream.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return err
	}

	d := st.Diagnostics
	fmt.Printf("[%s] sink=%s buffer=%s last_ok=%d sent=%d errors=%d dropped=%d subscribers=%d frames=%d\n",
		time.Now().Format(time.RFC3339),
		d.Backend, d.Buffer, d.OK, d.Sent, d.Errors, d.Dropped,
		st.Broadcast.Subscribers, st.Broadcast.Frames,
	)
	return nil
}

func tailCommand(args []string) error {
	fs := pflag.NewFlagSet("tail", pflag.ContinueOnError)
	url := fs.String("url", "ws://localhost:8181/stream", "WebSocket stream endpoint")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.Dial(ctx, *url, nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()
	conn.SetReadLimit(-1)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		events, err := aegisstream.DecodeFrame(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tail: %v\n", err)
			continue
		}
		for _, ev := range events {
			fmt.Printf("%s %s=%v\n", time.UnixMilli(ev.Time).Format(time.RFC3339Nano), ev.Name, ev.Value)
		}
	}
}

func printUsage() {
	fmt.Printf(`AegisStream CLI

Usage:
  aegis-stream <command> [flags]

Commands:
  run        Start the stream runtime using the provided config
  validate   Load and validate a config file without starting the runtime
  stats      Poll the /status endpoint and print sink and broadcast counters
  tail       Connect to the WebSocket stream and print incoming events

Examples:
  aegis-stream run --config ./data/config.yaml
  aegis-stream validate -c ./data/config.yaml
  aegis-stream stats --url http://localhost:8181/status --interval 1s
  aegis-stream tail --url ws://localhost:8181/stream
`)
}
