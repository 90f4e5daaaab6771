package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"nodebase/infrastructure/config"
	"nodebase/infrastructure/di"
	"nodebase/interfaces/rpc"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize dependency container
	container, cleanup, err := di.InitializeContainer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer cleanup()

	errChan := make(chan error, 2)

	// stdio transport for process-piped agents. Logging goes to the zap
	// logger (stderr), never stdout, which belongs to the protocol stream.
	if cfg.EnableStdio {
		transport := rpc.NewStdioTransport(container.RPCServer, os.Stdin, os.Stdout, container.Logger)
		go func() {
			container.Logger.Info("Starting stdio transport")
			errChan <- transport.Run(ctx)
		}()
	}

	// HTTP transport for GUI-hosted agents
	var srv *http.Server
	if cfg.EnableHTTP {
		handler := rpc.NewHTTPHandler(container.RPCServer, container.Logger, rpc.HTTPOptions{
			EnableCORS:     cfg.EnableCORS,
			AllowedOrigins: cfg.AllowedOrigins,
		})
		srv = &http.Server{
			Addr:         cfg.ServerAddress,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: cfg.RequestTimeout + 5*time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			container.Logger.Info("Starting HTTP transport",
				zap.String("address", cfg.ServerAddress),
				zap.String("environment", cfg.Environment),
			)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()
	}

	// Wait for interrupt signal or transport failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		container.Logger.Info("Received signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			container.Logger.Error("Transport failed", zap.Error(err))
		}
	}

	// Graceful shutdown
	container.Logger.Info("Shutting down...")
	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			container.Logger.Error("Server shutdown error", zap.Error(err))
		}
	}

	if err := container.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	log.Println("Server stopped")
}
