package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rss_reader/internal/model"
	"rss_reader/internal/storage"
)

var commandEnv = []string{
	"DATABASE_PATH", "SCHEDULE_PATH", "PENDING_PATH", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
	"MAX_ENTRIES", "CONFIG_FILE",
}

// run executes the root command with args and returns its output.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&app{})
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func setupEnv(t *testing.T) {
	t.Helper()
	for _, key := range commandEnv {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "data", "reader.db"))
	t.Setenv("PENDING_PATH", filepath.Join(dir, "data", "pending.txt"))
	t.Setenv("LOG_LEVEL", "error")
}

func TestCommands(t *testing.T) {
	setupEnv(t)

	steps := []struct {
		name         string
		stdin        string
		args         []string
		wantContains string
	}{
		{name: "queue args", args: []string{"queue", "https://a.example/rss", "https://b.example/rss"}, wantContains: "Queued 2 source(s)."},
		{name: "queue stdin", stdin: "https://c.example/rss\n\n", args: []string{"queue"}, wantContains: "Queued 1 source(s)."},
		{name: "rules set", stdin: "https://spam.example\n# note\n", args: []string{"rules", "set"}, wantContains: "Stored 1 rule(s)."},
		{name: "rules list", args: []string{"rules", "list"}, wantContains: "https://spam.example (block)"},
		{name: "queue blocked", args: []string{"queue", "https://spam.example/"}, wantContains: "1 URL(s) match a block rule"},
		{name: "sources empty", args: []string{"sources"}, wantContains: "No sources yet"},
		{name: "stats", args: []string{"stats"}, wantContains: "Sources: 0\nEntries: 0"},
		{name: "cleanup", args: []string{"cleanup"}, wantContains: "Expired entries removed: 0"},
		{name: "remove all", args: []string{"remove", "all"}, wantContains: "Removed 0 entries and 0 sources."},
	}

	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			out, err := run(t, st.stdin, st.args...)
			if err != nil {
				t.Fatalf("%v: %v\n%s", st.args, err, out)
			}
			if !strings.Contains(out, st.wantContains) {
				t.Errorf("output missing %q:\n%s", st.wantContains, out)
			}
		})
	}
}

func TestRemoveErrors(t *testing.T) {
	setupEnv(t)

	if _, err := run(t, "", "remove", "source", "abc"); err == nil {
		t.Error("remove source abc: expected error")
	}
	if _, err := run(t, "", "remove", "source", "99"); err == nil {
		t.Error("remove missing source: expected error")
	}
	if _, err := run(t, "", "remove", "entry", "99"); err == nil {
		t.Error("remove missing entry: expected error")
	}
}

func TestInvalidConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("MAX_ENTRIES", "-1")

	if _, err := run(t, "", "stats"); err == nil {
		t.Error("expected config error")
	}
}

func TestSourcesSet(t *testing.T) {
	setupEnv(t)

	store, err := storage.NewSQLite(os.Getenv("DATABASE_PATH"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	src := &model.Source{URL: "https://example.com/rss", Enabled: true, FetchPeriod: 3600, RemoveAfterDays: 5}
	if err := store.CreateSource(context.Background(), src); err != nil {
		t.Fatalf("create source: %v", err)
	}
	_ = store.Close()

	out, err := run(t, "", "sources", "set", "1", "--enabled=false", "--xpath", ".*/news/.*", "--fetch-period", "600", "--remove-after-days", "0")
	if err != nil {
		t.Fatalf("sources set: %v\n%s", err, out)
	}
	for _, want := range []string{"Source #1 [disabled]", "fetch period: 600s", "keep entries: forever", "pattern: .*/news/.*"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "", "sources")
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if !strings.Contains(out, "[disabled]") || !strings.Contains(out, "pattern: .*/news/.*") {
		t.Errorf("listing does not show new settings:\n%s", out)
	}

	out, err = run(t, "", "sources", "enable", "1")
	if err != nil || !strings.Contains(out, "Source #1 enabled.") {
		t.Fatalf("sources enable: %v\n%s", err, out)
	}
	if out, _ = run(t, "", "sources"); strings.Contains(out, "[disabled]") {
		t.Errorf("source still disabled after enable:\n%s", out)
	}

	for _, args := range [][]string{
		{"sources", "disable", "99"},
		{"sources", "set", "1"},
		{"sources", "set", "1", "--xpath", "(["},
		{"sources", "set", "1", "--fetch-period", "-1"},
		{"sources", "set", "99", "--enabled=true"},
	} {
		if _, err := run(t, "", args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestMigrate(t *testing.T) {
	setupEnv(t)

	if out, err := run(t, "", "migrate", "up"); err != nil {
		t.Fatalf("migrate up: %v\n%s", err, out)
	}
	out, err := run(t, "", "migrate", "version")
	if err != nil {
		t.Fatalf("migrate version: %v", err)
	}
	if !strings.Contains(out, "version 2") {
		t.Errorf("migrate version output = %q, want version 2", out)
	}
	if out, err := run(t, "", "stats"); err != nil {
		t.Fatalf("stats after migrate: %v\n%s", err, out)
	}

	if _, err := run(t, "", "migrate", "sideways"); err == nil {
		t.Error("unknown migrate command: expected error")
	}
}

func TestMigrateUsesConfigFile(t *testing.T) {
	setupEnv(t)
	t.Setenv("DATABASE_PATH", "")
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "configured.db")
	cfgPath := filepath.Join(dir, "reader.yaml")
	if err := os.WriteFile(cfgPath, []byte("database_path: "+dbPath+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if out, err := run(t, "", "--config", cfgPath, "migrate", "up"); err != nil {
		t.Fatalf("migrate up: %v\n%s", err, out)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("configured database not created: %v", err)
	}
}
