package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"riskbot/internal/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := commands.ExecuteContext(ctx); err != nil {
		log.Printf("riskbot: %v", err)
		stop()
		os.Exit(1)
	}
}
