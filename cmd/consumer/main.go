// Command consumer drains the result queue. Run as many replicas as needed;
// row locks keep them from processing the same result twice.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/heartmarshall/taskflow-backend/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsumer(ctx); err != nil {
		log.Fatalf("consumer: %v", err)
	}
}
