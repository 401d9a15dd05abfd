package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/nort-backend/internal/app"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	a, err := app.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	if err := a.Start(gctx, g); err != nil {
		a.Log.Error("Startup failed", "error", err)
		stop()
		_ = g.Wait()
		return
	}
	if err := g.Wait(); err != nil {
		a.Log.Error("Server stopped with error", "error", err)
		return
	}
	a.Log.Info("Shutdown complete")
}
