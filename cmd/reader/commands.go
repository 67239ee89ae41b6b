package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"rss_reader/internal/entries"
	"rss_reader/internal/filter"
	"rss_reader/internal/model"
	"rss_reader/internal/pending"
	"rss_reader/internal/query"
	"rss_reader/internal/security"
	"rss_reader/internal/sources"
)

func newQueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queue [url...]",
		Short: "Queue source URLs for registration (reads stdin when no url is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := args
			if len(urls) == 0 {
				var err error
				if urls, err = readLines(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if err := ensureDir(a.cfg.PendingPath); err != nil {
				return err
			}
			n, err := pending.New(a.cfg.PendingPath).Enqueue(urls...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %d source(s).\n", n)

			if !a.cfg.RulesEnabled {
				return nil
			}
			blocked, err := a.blocked(cmd, urls)
			if err != nil {
				a.log.Warn("check queued urls against rules", "error", err)
				return nil
			}
			if len(blocked) > 0 {
				fmt.Fprint(cmd.OutOrStdout(), FormatBlocked(blocked))
			}
			return nil
		},
	}
}

// blocked returns the urls a block rule will veto at registration.
func (a *app) blocked(cmd *cobra.Command, urls []string) ([]string, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()
	return filter.New(store, a.log).Blocked(cmd.Context(), urls)
}

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Show or replace source block rules",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rules, err := filter.New(store, a.log).Rules(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), FormatRuleList(rules))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set [file]",
		Short: "Replace all rules with one trigger URL per line (stdin when no file or -)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := filter.New(store, a.log).ReplaceRules(cmd.Context(), input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %d rule(s).\n", n)
			return nil
		},
	})
	return cmd
}

func newSourcesCmd(a *app) *cobra.Command {
	var (
		search string
		page   int
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List sources ordered by title",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			res, err := query.New(store).Sources(cmd.Context(), model.SourceQuery{
				Search: search,
				Limit:  limit,
				Offset: query.PageOffset(page, limit),
			})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), FormatSourceList(res))
			return nil
		},
	}
	cmd.Flags().StringVarP(&search, "query", "q", "", "substring to search in title and url")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.AddCommand(
		newSourcesSetCmd(a),
		newSourcesToggleCmd(a, true),
		newSourcesToggleCmd(a, false),
	)
	return cmd
}

func newSourcesToggleCmd(a *app, enabled bool) *cobra.Command {
	use, verb := "enable <id>", "enabled"
	if !enabled {
		use, verb = "disable <id>", "disabled"
	}
	return &cobra.Command{
		Use:   use,
		Short: "Mark a source as " + verb,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ParseIDArg(args[0])
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := sources.New(store, a.log).SetEnabled(cmd.Context(), id, enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Source #%d %s.\n", id, verb)
			return nil
		},
	}
}

func newSourcesSetCmd(a *app) *cobra.Command {
	var (
		enabled         bool
		xpath           string
		fetchPeriod     int
		removeAfterDays int
		autoTag         string
	)
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Change the settings of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ParseIDArg(args[0])
			if err != nil {
				return err
			}
			var set sources.Settings
			flags := cmd.Flags()
			if flags.Changed("enabled") {
				set.Enabled = &enabled
			}
			if flags.Changed("xpath") {
				set.XPath = &xpath
			}
			if flags.Changed("fetch-period") {
				set.FetchPeriod = &fetchPeriod
			}
			if flags.Changed("remove-after-days") {
				set.RemoveAfterDays = &removeAfterDays
			}
			if flags.Changed("auto-tag") {
				set.AutoTag = &autoTag
			}
			if set.Empty() {
				return errors.New("nothing to change: pass at least one setting flag")
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			src, err := sources.New(store, a.log).Configure(cmd.Context(), id, set)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), FormatSourceSettings(src))
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", true, "take part in fetch rounds")
	cmd.Flags().StringVar(&xpath, "xpath", "", "regular expression entry links must match (empty accepts all)")
	cmd.Flags().IntVar(&fetchPeriod, "fetch-period", 0, "seconds between fetches when HONOR_FETCH_PERIOD is on")
	cmd.Flags().IntVar(&removeAfterDays, "remove-after-days", 0, "entry retention in days, 0 keeps forever")
	cmd.Flags().StringVar(&autoTag, "auto-tag", "", "tag attached to the source")
	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove sources or entries",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "source <id>",
		Short: "Remove a source and its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ParseIDArg(args[0])
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := sources.New(store, a.log).Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Source #%d removed.\n", id)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "entry <id>",
		Short: "Remove a single entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ParseIDArg(args[0])
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := entries.New(store, security.NewSanitizer(), a.log).Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Entry #%d removed.\n", id)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Remove every entry and source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ne, err := entries.New(store, security.NewSanitizer(), a.log).RemoveAll(cmd.Context())
			if err != nil {
				return err
			}
			ns, err := sources.New(store, a.log).RemoveAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries and %d sources.\n", ne, ns)
			return nil
		},
	})
	return cmd
}

func newCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired entries and trim the store to MAX_ENTRIES",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			es := entries.New(store, security.NewSanitizer(), a.log)
			es.SetMaxEntries(a.cfg.MaxEntries)
			res, err := es.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), FormatCleanup(res))
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show source and entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			st, err := query.New(store).Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), FormatStats(st))
			return nil
		},
	}
}

// readInput returns the content of the file named in args, or of r when
// args is empty or "-".
func readInput(r io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read %s: %w", args[0], err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return out, nil
}
