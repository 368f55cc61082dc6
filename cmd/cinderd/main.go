// Command cinderd runs the cinder HTTP server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yourusername/cinder/internal/config"
	"github.com/yourusername/cinder/internal/logging"
	"github.com/yourusername/cinder/pkg/cinder/server"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("cinderd: %v", err)
	}

	logger := logging.NewStderr(logging.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("cinderd: %v", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("cinderd: shutting down")
		srv.Shutdown(ctx)
	}()

	if err := srv.ListenAndServe(); err != nil {
		logger.Errorf("cinderd: %v", err)
		os.Exit(1)
	}
}
