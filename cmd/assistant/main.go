// Package main starts the calendar-scheduling assistant service and
// handles termination.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	assistantcmd "github.com/tailortalk/assistant/internal/cmd/assistant"
)

func main() {
	// Local development keeps credentials in .env.local; absence is fine.
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env.local: %v", err)
	}

	cfg, err := assistantcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[ASSISTANT] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := assistantcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
