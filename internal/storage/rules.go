package storage

import (
	"context"
	"fmt"
	"time"

	"rss_reader/internal/model"
)

// ReplaceRules deletes every stored rule and inserts rules in one transaction.
func (s *SQLite) ReplaceRules(ctx context.Context, rules []model.Rule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
		return fmt.Errorf("delete rules: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO rules (trigger_url, enabled, block, trust, auto_tag, priority, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert rule: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.timestamp()
	for _, r := range rules {
		_, err := stmt.ExecContext(ctx, r.TriggerURL, boolToInt(r.Enabled), boolToInt(r.Block),
			boolToInt(r.Trust), r.AutoTag, r.Priority, now)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert rule %q: %w", r.TriggerURL, ErrDuplicate)
			}
			return fmt.Errorf("insert rule: %w", err)
		}
	}
	return tx.Commit()
}

// ListRules returns all rules ordered by priority, then ID.
func (s *SQLite) ListRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trigger_url, enabled, block, trust, auto_tag, priority, created_at
		 FROM rules ORDER BY priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.Rule
	for rows.Next() {
		var r model.Rule
		var enabled, block, trust int
		var created string
		if err := rows.Scan(&r.ID, &r.TriggerURL, &enabled, &block, &trust, &r.AutoTag, &r.Priority, &created); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Enabled = enabled == 1
		r.Block = block == 1
		r.Trust = trust == 1
		r.CreatedAt, _ = time.Parse(timeLayout, created)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
