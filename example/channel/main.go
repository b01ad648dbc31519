package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisStream"
)

func main() {
	pub, err := aegisstream.NewPublisher(&aegisstream.PublisherConfig{
		Sink: aegisstream.SinkConfig{Backend: "ring"},
	}, nil)
	if err != nil {
		log.Fatalf("publisher: %v", err)
	}

	sub, frames, closeFrames := aegisstream.NewChannelSubscriber("fanout", 32)
	defer closeFrames()
	pub.Attach(sub)

	go fanoutWorker("dashboard", frames)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var n int64
	for {
		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pub.Close(closeCtx); err != nil {
				log.Printf("close: %v", err)
			}
			return
		case now := <-ticker.C:
			n++
			if err := pub.Publish(aegisstream.Sample{Name: "counter", Time: now, Value: n}); err != nil {
				log.Printf("publish: %v", err)
			}
		}
	}
}

func fanoutWorker(name string, frames <-chan []aegisstream.Event) {
	for events := range frames {
		fmt.Printf("[%s] %d events at %s\n", name, len(events), time.Now().Format(time.RFC3339))
	}
}
