package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/metrics"
)

// NewRunID returns a fresh identifier for one analysis run.
func NewRunID() string {
	return uuid.NewString()
}

// Release is the stored summary of one analysis run over a release.
type Release struct {
	RunID       string           `json:"run_id" yaml:"run_id"`
	Subject     string           `json:"subject" yaml:"subject"`
	Release     string           `json:"release" yaml:"release"`
	Granularity call.Granularity `json:"granularity" yaml:"granularity"`

	Stats metrics.GraphStats `json:"stats" yaml:"stats"`

	Damping            float64 `json:"damping" yaml:"damping"`
	PageRankIterations int     `json:"pagerank_iterations" yaml:"pagerank_iterations"`
	PageRankConverged  bool    `json:"pagerank_converged" yaml:"pagerank_converged"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

const releaseColumns = `run_id, subject, release_name, granularity,
	nodes, edges, entry_points, exit_points, num_fragments, monolithicity, call_cycles,
	vulnerable, dangerous, defenses, tested,
	damping, pagerank_iterations, pagerank_converged, created_at`

// SaveRelease stores r, replacing any run with the same id. A missing run
// id or creation time is filled in.
func (s *Store) SaveRelease(ctx context.Context, r *Release) error {
	if r.RunID == "" {
		r.RunID = NewRunID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	st := r.Stats
	_, err := s.db.ExecContext(ctx, `
		REPLACE INTO releases (`+releaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Subject, r.Release, string(r.Granularity),
		st.NodeCount, st.EdgeCount, st.EntryCount, st.ExitCount,
		st.NumFragments, st.Monolithicity, st.CallCycles,
		st.Vulnerable, st.Dangerous, st.Defenses, st.Tested,
		r.Damping, r.PageRankIterations, r.PageRankConverged,
		r.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save release %s/%s: %w", r.Subject, r.Release, err)
	}
	return nil
}

// Releases returns every run recorded for subject, oldest first. An empty
// subject returns all runs.
func (s *Store) Releases(ctx context.Context, subject string) ([]Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases`
	var args []any
	if subject != "" {
		query += ` WHERE subject = ?`
		args = append(args, subject)
	}
	query += ` ORDER BY created_at, run_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query releases: %w", err)
	}
	defer rows.Close()

	var out []Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// LatestRun returns the most recent run for a subject release.
// Returns sql.ErrNoRows if the release was never analyzed.
func (s *Store) LatestRun(ctx context.Context, subject, release string) (*Release, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+releaseColumns+` FROM releases
		WHERE subject = ? AND release_name = ?
		ORDER BY created_at DESC, run_id DESC LIMIT 1`, subject, release)
	r, err := scanRelease(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("latest run for %s/%s: %w", subject, release, err)
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRelease(row scanner) (*Release, error) {
	var r Release
	var gran, createdAt string
	st := &r.Stats
	err := row.Scan(
		&r.RunID, &r.Subject, &r.Release, &gran,
		&st.NodeCount, &st.EdgeCount, &st.EntryCount, &st.ExitCount,
		&st.NumFragments, &st.Monolithicity, &st.CallCycles,
		&st.Vulnerable, &st.Dangerous, &st.Defenses, &st.Tested,
		&r.Damping, &r.PageRankIterations, &r.PageRankConverged, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	r.Granularity = call.Granularity(gran)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &r, nil
}
