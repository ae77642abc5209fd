package main

import (
	"fmt"
	"os"

	"stereopipe/internal/cli"
	"stereopipe/internal/config"
	"stereopipe/internal/logging"
	"stereopipe/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		logger.Error("failed to open run store", "path", cfg.Paths.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	rootCmd := cli.NewRootCmd(cfg, logger, store, nil)
	if err := rootCmd.Execute(); err != nil {
		logger.Error("processing failed", "error", err)
		os.Exit(1)
	}
}
