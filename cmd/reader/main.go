package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rss_reader/internal/config"
	"rss_reader/internal/logging"
	"rss_reader/internal/storage"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string

	cfg       *config.Config
	log       *slog.Logger
	logCloser io.Closer
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "reader",
		Short:        "Syndication feed reader",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logCloser != nil {
				_ = a.logCloser.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file")

	root.AddCommand(
		newServeCmd(a),
		newQueueCmd(a),
		newRulesCmd(a),
		newSourcesCmd(a),
		newRemoveCmd(a),
		newCleanupCmd(a),
		newStatsCmd(a),
		newMigrateCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.log, a.logCloser = logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	return nil
}

// openStore opens the database, creating its directory first.
func (a *app) openStore() (*storage.SQLite, error) {
	if err := ensureDir(a.cfg.DatabasePath); err != nil {
		return nil, err
	}
	store, err := storage.NewSQLite(a.cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", a.cfg.DatabasePath, err)
	}
	return store, nil
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	return nil
}
