package main

import (
	"fmt"
	"strings"

	"rss_reader/internal/entries"
	"rss_reader/internal/model"
	"rss_reader/internal/query"
)

const (
	statusEnabled  = "enabled"
	statusDisabled = "disabled"
)

// FormatSourceList formats a page of sources for display.
func FormatSourceList(page query.Page[query.SourceView]) string {
	if len(page.Items) == 0 {
		return "No sources yet. Use `reader queue <url>` to add one.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sources %d-%d of %d:\n", page.Offset+1, page.Offset+len(page.Items), page.Total)
	for _, s := range page.Items {
		status := statusEnabled
		if !s.Enabled {
			status = statusDisabled
		}
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "\n#%d %s [%s]\n", s.ID, title, status)
		fmt.Fprintf(&b, "   %s\n", s.URL)
		if s.Language != "" {
			fmt.Fprintf(&b, "   language: %s\n", s.Language)
		}
		if s.XPath != "" {
			fmt.Fprintf(&b, "   pattern: %s\n", s.XPath)
		}
	}
	return b.String()
}

// FormatSourceSettings formats the editable settings of a source.
func FormatSourceSettings(s *model.Source) string {
	status := statusEnabled
	if !s.Enabled {
		status = statusDisabled
	}
	keep := "forever"
	if s.RemoveAfterDays > 0 {
		keep = fmt.Sprintf("%d days", s.RemoveAfterDays)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Source #%d [%s]\n", s.ID, status)
	fmt.Fprintf(&b, "   fetch period: %ds\n", s.FetchPeriod)
	fmt.Fprintf(&b, "   keep entries: %s\n", keep)
	if s.XPath != "" {
		fmt.Fprintf(&b, "   pattern: %s\n", s.XPath)
	}
	if s.AutoTag != "" {
		fmt.Fprintf(&b, "   auto tag: %s\n", s.AutoTag)
	}
	return b.String()
}

// FormatRuleList formats block rules, one per line.
func FormatRuleList(rules []model.Rule) string {
	if len(rules) == 0 {
		return "No rules.\n"
	}
	var b strings.Builder
	for _, r := range rules {
		fmt.Fprintf(&b, "R%d: %s (%s)\n", r.ID, r.TriggerURL, ruleLabel(r))
	}
	return b.String()
}

func ruleLabel(r model.Rule) string {
	var parts []string
	switch {
	case r.Trust:
		parts = append(parts, "trust")
	case r.Block:
		parts = append(parts, "block")
	default:
		parts = append(parts, "no action")
	}
	if !r.Enabled {
		parts = append(parts, statusDisabled)
	}
	return strings.Join(parts, ", ")
}

// FormatBlocked warns about queued URLs that match a block rule.
func FormatBlocked(urls []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Warning: %d URL(s) match a block rule and will be skipped:\n", len(urls))
	for _, u := range urls {
		fmt.Fprintf(&b, "   %s\n", u)
	}
	return b.String()
}

// FormatStats formats store-wide counts.
func FormatStats(st query.Stats) string {
	return fmt.Sprintf("Sources: %d\nEntries: %d\n", st.Sources, st.Entries)
}

// FormatCleanup formats the result of a cleanup pass.
func FormatCleanup(res entries.CleanupResult) string {
	return fmt.Sprintf("Expired entries removed: %d\nEntries trimmed: %d\n", res.Expired, res.Trimmed)
}
