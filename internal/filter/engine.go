// Package filter implements the rule engine: source URL block rules and
// per-source entry link patterns.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"rss_reader/internal/model"
)

// RuleStore is the persistence needed by the engine.
type RuleStore interface {
	ListRules(ctx context.Context) ([]model.Rule, error)
	ReplaceRules(ctx context.Context, rules []model.Rule) error
}

// Engine evaluates block rules against source URLs and link patterns
// against entries. It is safe for concurrent use.
type Engine struct {
	store RuleStore
	log   *slog.Logger

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// New creates an Engine reading rules from store.
func New(store RuleStore, log *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		log:      log,
		patterns: make(map[string]*regexp.Regexp),
	}
}

// IsTriggered reports whether url is vetoed by an enabled block rule.
// An enabled trust rule for the same url overrides any block rule.
func (e *Engine) IsTriggered(ctx context.Context, url string) (bool, error) {
	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return false, fmt.Errorf("list rules: %w", err)
	}

	blocked := false
	for _, r := range rules {
		if !r.Enabled || !matchesTrigger(r.TriggerURL, url) {
			continue
		}
		if r.Trust {
			return false, nil
		}
		if r.Block {
			blocked = true
		}
	}
	return blocked, nil
}

// Blocked returns the subset of urls vetoed by the current rules, preserving order.
func (e *Engine) Blocked(ctx context.Context, urls []string) ([]string, error) {
	var out []string
	for _, u := range urls {
		ok, err := e.IsTriggered(ctx, u)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func matchesTrigger(trigger, url string) bool {
	trigger = normalizeURL(trigger)
	url = normalizeURL(url)
	if trigger == "" {
		return false
	}
	if prefix, ok := strings.CutSuffix(trigger, "*"); ok {
		return prefix != "" && strings.HasPrefix(url, prefix)
	}
	return trigger == url
}

func normalizeURL(u string) string {
	return strings.TrimSuffix(strings.TrimSpace(u), "/")
}

// AcceptEntry reports whether entry passes the link pattern of src.
// An empty pattern accepts everything. A pattern that does not compile
// rejects every entry.
func (e *Engine) AcceptEntry(entry model.RawEntry, src *model.Source) bool {
	if src == nil || strings.TrimSpace(src.XPath) == "" {
		return true
	}
	re, err := e.compile(src.XPath)
	if err != nil {
		e.log.Error("compile entry pattern", "source_id", src.ID, "pattern", src.XPath, "error", err)
		return false
	}
	return re.MatchString(entry.Link)
}

func (e *Engine) compile(pattern string) (*regexp.Regexp, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if re, ok := e.patterns[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.patterns[pattern] = re
	return re, nil
}

// Rules returns the stored rules in evaluation order.
func (e *Engine) Rules(ctx context.Context) ([]model.Rule, error) {
	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// ReplaceRules parses newline-delimited input and replaces the stored rule
// set with one enabled block rule per distinct line. It returns the number
// of rules stored.
func (e *Engine) ReplaceRules(ctx context.Context, input string) (int, error) {
	lines := ParseRuleLines(input)
	rules := make([]model.Rule, 0, len(lines))
	for _, l := range lines {
		rules = append(rules, model.Rule{TriggerURL: l, Enabled: true, Block: true})
	}
	if err := e.store.ReplaceRules(ctx, rules); err != nil {
		return 0, fmt.Errorf("replace rules: %w", err)
	}
	e.log.Info("rules replaced", "count", len(rules))
	return len(rules), nil
}

// ParseRuleLines splits input into trimmed, distinct rule lines.
// Blank lines and lines starting with # are skipped.
func ParseRuleLines(input string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(input, "\n") {
		line = normalizeURL(line)
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return out
}

// ValidatePattern checks whether pattern compiles as an entry link pattern.
func ValidatePattern(pattern string) error {
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}
	return nil
}
