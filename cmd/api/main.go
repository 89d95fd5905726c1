package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pairpad/api/internal/app"
	"pairpad/api/internal/collab"
	"pairpad/api/internal/config"
	"pairpad/api/internal/identity"
	"pairpad/api/internal/presence"
	"pairpad/api/internal/realtime"
)

func main() {
	cfg := config.Load()

	var keyspace realtime.Keyspace
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for room state")
		redisKeyspace, err := realtime.NewRedisKeyspace(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		keyspace = redisKeyspace
	} else {
		log.Printf("Using in-memory room state (single instance only)")
		keyspace = realtime.NewMemoryKeyspace()
	}
	defer keyspace.Close()

	service := collab.NewService(keyspace, collab.Config{
		EnforceAuthorship: cfg.EnforceAuthorship,
		Publisher: presence.PublisherConfig{
			DeadBand:         cfg.DeadBandPercent,
			TypingTimeout:    cfg.TypingTimeout,
			PublishPerSecond: cfg.PublishPerSecond,
		},
		Watcher: presence.WatcherConfig{
			FreshFor:   cfg.FreshFor,
			GoneAfter:  cfg.GoneAfter,
			SweepEvery: cfg.SweepEvery,
		},
	})

	verifier := identity.NewVerifier(cfg.IdentitySecret)
	httpServer := app.NewHTTPServer(service, verifier, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("PairPad API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
