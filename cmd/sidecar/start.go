package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/casper-sidecar/internal/config"
	"github.com/cuemby/casper-sidecar/internal/sidecar"
	"github.com/cuemby/casper-sidecar/internal/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sidecar's ingestion, storage, and broadcast pipeline",
	Long: `Start reads a YAML configuration file describing the upstream
connections and server bind addresses, then runs the ingestion group, the
REST collaborator, and the outbound event stream server until interrupted
or one of them fails.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().String("config", "sidecar.yaml", "Path to the sidecar YAML configuration file")
}

func runStart(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.Storage.StoragePath, 0o755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}

	tuning := store.Tuning{
		BusyTimeoutMS: cfg.Storage.SQLiteConfig.BusyTimeoutMS,
		WALMode:       cfg.Storage.SQLiteConfig.WALMode,
	}
	st, err := store.Open(cfg.Storage.StoragePath, tuning)
	if err != nil {
		return fmt.Errorf("open durable log: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sidecar.New(cfg, st).Run(ctx)
	}()

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
		cancel()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("sidecar exited: %w", err)
		}
		return nil
	}
}

// loadConfig decodes path into a config.Config, seeding unset fields from
// config.Default() first so a minimal file still produces sane queue
// sizes and SQLite tuning.
func loadConfig(path string) (config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return config.Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}
