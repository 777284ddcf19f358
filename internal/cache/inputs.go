package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Input is one trace file a cached graph was built from.
type Input struct {
	Path string
	Hash string
}

// HashFile returns the content hash of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}

// HashInputs hashes every path. Missing files are an error.
func HashInputs(paths []string) ([]Input, error) {
	inputs := make([]Input, 0, len(paths))
	for _, p := range paths {
		h, err := HashFile(p)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, Input{Path: p, Hash: h})
	}
	return inputs, nil
}

// RecordInputs replaces the inputs recorded for key.
func (c *Cache) RecordInputs(ctx context.Context, key Key, inputs []Input) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM inputs WHERE subject = ? AND release_name = ? AND granularity = ?",
		key.Subject, key.Release, string(key.Granularity))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("reset inputs %s: %w", key, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO inputs (subject, release_name, granularity, path, hash)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, in := range inputs {
		if _, err := stmt.ExecContext(ctx, key.Subject, key.Release, string(key.Granularity), in.Path, in.Hash); err != nil {
			tx.Rollback()
			return fmt.Errorf("save input %s: %w", in.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ChangedInputs compares current against the inputs recorded for key and
// returns the sorted paths that are new, changed or no longer used.
func (c *Cache) ChangedInputs(ctx context.Context, key Key, current []Input) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT path, hash FROM inputs
		WHERE subject = ? AND release_name = ? AND granularity = ?`,
		key.Subject, key.Release, string(key.Granularity))
	if err != nil {
		return nil, fmt.Errorf("query inputs %s: %w", key, err)
	}
	defer rows.Close()

	recorded := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		recorded[path] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	var changed []string
	for _, in := range current {
		if old, ok := recorded[in.Path]; !ok || old != in.Hash {
			changed = append(changed, in.Path)
		}
		delete(recorded, in.Path)
	}
	for path := range recorded {
		changed = append(changed, path)
	}
	sort.Strings(changed)
	return changed, nil
}
