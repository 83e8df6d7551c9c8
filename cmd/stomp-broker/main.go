package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/config"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/database"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/event"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/server"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/users"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path of the JSON configuration file")
	flag.Parse()

	cfg, err := config.ReadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error occured while reading config: %v\n", err)
		os.Exit(1)
	}

	loggerCallback := logger.Init(cfg.DebugMode, cfg.LogPath)
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)

	fail := func(format string, v ...interface{}) {
		logger.FatalF(format, v...)
		_ = cleaner.Cleanup()
		_ = loggerCallback.Invoke(context.Background())
		os.Exit(1)
	}

	var store database.UserStore = database.NewMemoryStore()
	if cfg.Database.Enabled {
		dbStore, closer, err := database.ConnectDatabase(cfg.AppName, cfg.Database)
		if err != nil {
			fail("Error occured while initializing database, details: %v", err)
		}
		cleaner.Add(closer)
		store = dbStore
	} else {
		logger.Warn("Database disabled, accounts are kept in memory")
	}

	registry := users.NewRegistry(store, users.Options{
		AutoRegister: cfg.Broker.AutoRegister,
		BcryptCost:   cfg.Broker.BcryptCost,
	})
	for _, user := range cfg.Broker.Users {
		if err := registry.Provision(context.Background(), user.Username, user.Password); err != nil {
			fail("Error occured while provisioning users, details: %v", err)
		}
	}

	srv := server.New(cfg, registry)
	cleaner.Add(srv)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, server.ErrServerClosed) {
		fail("STOMP Server Start error: %v", err)
	}

	// The cleaner exits the process once shutdown completes.
	select {}
}
