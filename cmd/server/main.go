package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"termplex/internal/config"
	"termplex/internal/realtime"
	"termplex/internal/session"
	"termplex/internal/shell"
	"termplex/internal/store"
	"termplex/internal/supervisor"
	"termplex/internal/watcher"
)

const (
	shellsDebounce  = 500 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DataPath)
	if err != nil {
		log.Fatalf("Store error: %v", err)
	}

	catalog, err := shell.NewCatalog(cfg.ShellsFile)
	if err != nil {
		log.Fatalf("Shell catalog error: %v", err)
	}

	// Reload the shell catalog when the custom shells file changes.
	fileWatch := watcher.New(shellsDebounce)
	if err := catalog.Watch(fileWatch); err != nil {
		log.Printf("[main] not watching shells file: %v", err)
	}

	sup := supervisor.New(cfg.TickInterval)
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(ctx)
	}()

	events := session.NewEventQueue(0)
	pushSocket := realtime.NewSocket("", cfg.PushPort)

	sessMgr := session.NewManager(session.ManagerConfig{
		Supervisor: sup,
		Push:       pushSocket,
		AllowPush:  cfg.AllowPush,
		Store:      db,
		Events:     events,
		Options: session.OptionBuilder{
			Shells:          catalog,
			EditFileCommand: cfg.EditFileCommand,
		},
		MaxSessions:    cfg.MaxSessions,
		MaxOutputLines: cfg.MaxOutputLines,
		Tuning: session.Tuning{
			AutoFlushLength: cfg.AutoFlushLength,
			SampleIdle:      cfg.SampleIdle,
			SampleInterval:  cfg.SampleInterval,
			SampleTimeout:   cfg.SampleTimeout,
		},
		DefaultCols: cfg.DefaultCols,
		DefaultRows: cfg.DefaultRows,
	})
	if err := sessMgr.Restore(); err != nil {
		log.Printf("[main] restore sessions: %v", err)
	}

	rtServer := realtime.New(sessMgr, events, cfg.StaticDir).WithShells(catalog)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: rtServer.Handler(),
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		sessMgr.Shutdown()
		<-supDone
		if err := pushSocket.Shutdown(shutdownCtx); err != nil {
			log.Printf("[main] push socket shutdown: %v", err)
		}
		fileWatch.Shutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[main] http shutdown: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("[main] store close: %v", err)
		}
	}()

	log.Printf("termplex server running on http://localhost:%d", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server error: %v", err)
	}
	<-shutdownDone
}
