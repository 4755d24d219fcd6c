package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Globals are flags shared by every command.
type Globals struct {
	BackendURL string `name:"backend-url" env:"PLANTWATCH_BACKEND_URL" default:"http://localhost:5000" help:"Base URL of the prediction backend."`
}

type CLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Run the dashboard server."`
	Simulate SimulateCmd `cmd:"" help:"Post simulated sensor readings to the backend."`
	Probe    ProbeCmd    `cmd:"" help:"Check that the backend is reachable and print its status."`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("plantwatch"),
		kong.Description("Plant health monitoring dashboard."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}
