package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisStream/pkg/aegisstream"
)

func main() {
	flow, err := aegisstream.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(events []aegisstream.Event) error {
		for _, ev := range events {
			fmt.Printf("%s %s=%v\n",
				time.UnixMilli(ev.Time).Format(time.RFC3339Nano),
				ev.Name,
				ev.Value,
			)
		}
		return nil
	}

	if err := flow.Run(ctx, aegisstream.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
