package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"rss_reader/migrations"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <" + strings.Join(migrations.Commands, "|") + ">",
		Short:     "Manage the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: migrations.Commands,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ensureDir(a.cfg.DatabasePath); err != nil {
				return err
			}
			// opened without storage.NewSQLite, which would migrate up first
			db, err := sql.Open("sqlite", a.cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open database %s: %w", a.cfg.DatabasePath, err)
			}
			defer func() { _ = db.Close() }()

			return migrations.Apply(db, args[0], cmd.OutOrStdout())
		},
	}
}
