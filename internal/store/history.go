package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNothingToCommit is returned by Commit when the working set is clean.
var ErrNothingToCommit = errors.New("nothing to commit")

// Commit stages every table and records a Dolt commit with msg, returning
// its hash.
func (s *Store) Commit(ctx context.Context, msg string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, "CALL DOLT_COMMIT('-Am', ?)", msg).Scan(&hash)
	if err != nil {
		if strings.Contains(err.Error(), "nothing to commit") {
			return "", ErrNothingToCommit
		}
		return "", fmt.Errorf("dolt commit: %w", err)
	}
	return hash, nil
}

// commitCount returns the number of commits in the Dolt log.
func (s *Store) commitCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dolt_log").Scan(&count)
	return count, err
}

// LogEntry is one Dolt commit.
type LogEntry struct {
	CommitHash string `json:"commit_hash" yaml:"commit_hash"`
	Committer  string `json:"committer" yaml:"committer"`
	Date       string `json:"date" yaml:"date"`
	Message    string `json:"message" yaml:"message"`
}

// Log returns recent Dolt commits, newest first.
func (s *Store) Log(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT commit_hash, committer, date, message
		FROM dolt_log
		ORDER BY date DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("dolt log query: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var entry LogEntry
		var date any
		if err := rows.Scan(&entry.CommitHash, &entry.Committer, &date, &entry.Message); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry.Date = fmt.Sprint(date)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// DiffSummary counts the function rows added, modified and removed between
// two refs. Missing history yields zeros.
type DiffSummary struct {
	FromRef  string `json:"from" yaml:"from"`
	ToRef    string `json:"to" yaml:"to"`
	Added    int    `json:"added" yaml:"added"`
	Modified int    `json:"modified" yaml:"modified"`
	Removed  int    `json:"removed" yaml:"removed"`
}

// Diff summarizes changes to the functions table between fromRef (default
// HEAD~1) and toRef (default WORKING).
func (s *Store) Diff(ctx context.Context, fromRef, toRef string) (*DiffSummary, error) {
	if fromRef == "" {
		fromRef = "HEAD~1"
	}
	if toRef == "" {
		toRef = "WORKING"
	}
	summary := &DiffSummary{FromRef: fromRef, ToRef: toRef}

	// Validate refs to prevent SQL injection
	if !isValidRef(fromRef) || !isValidRef(toRef) {
		return nil, fmt.Errorf("invalid ref format")
	}

	// Check if we have enough commit history for HEAD~N refs
	if strings.HasPrefix(fromRef, "HEAD~") {
		count, err := s.commitCount(ctx)
		if err != nil {
			return summary, nil
		}
		var n int
		if _, err := fmt.Sscanf(fromRef, "HEAD~%d", &n); err == nil && count <= n {
			return summary, nil
		}
	}

	// Note: DOLT_DIFF doesn't support bind variables
	query := fmt.Sprintf(`
		SELECT
			SUM(CASE WHEN diff_type = 'added' THEN 1 ELSE 0 END),
			SUM(CASE WHEN diff_type = 'modified' THEN 1 ELSE 0 END),
			SUM(CASE WHEN diff_type = 'removed' THEN 1 ELSE 0 END)
		FROM DOLT_DIFF('%s', '%s', 'functions')
	`, fromRef, toRef)

	var added, modified, removed sql.NullInt64
	err := s.db.QueryRowContext(ctx, query).Scan(&added, &modified, &removed)
	if err != nil {
		if isMissingHistory(err) {
			return summary, nil
		}
		return nil, fmt.Errorf("diff summary: %w", err)
	}
	summary.Added = int(added.Int64)
	summary.Modified = int(modified.Int64)
	summary.Removed = int(removed.Int64)
	return summary, nil
}

func isMissingHistory(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "cannot resolve") ||
		strings.Contains(msg, "HEAD~") ||
		strings.Contains(msg, "no such commit") ||
		strings.Contains(msg, "invalid ancestor spec") ||
		strings.Contains(msg, "table not found")
}

// isValidRef checks if a ref string is safe to use in a query.
// Refs can contain alphanumeric, _, -, ., /, ~, and ^ characters.
func isValidRef(ref string) bool {
	if ref == "" {
		return false
	}
	for _, c := range ref {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '_' || c == '-' ||
			c == '.' || c == '/' || c == '~' || c == '^') {
			return false
		}
	}
	return true
}
