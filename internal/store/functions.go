package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/attack-surface/asm/internal/metrics"
)

const functionColumns = `name, file,
	is_entry, is_exit, is_tested, is_defense, is_dangerous, calls_dangerous,
	is_vulnerable, becomes_vulnerable,
	sloc, fan_in, fan_out, frequency, page_rank,
	proximity_to_entry, proximity_to_exit, proximity_to_defense, proximity_to_dangerous,
	surface_coupling_with_entry, surface_coupling_with_exit`

// SaveFunctions stores a batch of function rows for a run in one
// transaction. Rows already stored for the same run and identity are
// replaced.
func (s *Store) SaveFunctions(ctx context.Context, runID string, rows []metrics.FunctionMetrics) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		REPLACE INTO functions (run_id, `+functionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range rows {
		_, err := stmt.ExecContext(ctx, runID, f.Name, f.File,
			f.IsEntry, f.IsExit, f.IsTested, f.IsDefense, f.IsDangerous, f.CallsDangerous,
			f.IsVulnerable, f.BecomesVulnerable,
			nullInt(f.SLOC), f.FanIn, f.FanOut, f.Frequency, f.PageRank,
			nullFloat(f.ProximityToEntry), nullFloat(f.ProximityToExit),
			nullFloat(f.ProximityToDefense), nullFloat(f.ProximityToDangerous),
			nullInt(f.SurfaceCouplingWithEntry), nullInt(f.SurfaceCouplingWithExit),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("save function %s: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Sink returns a metrics.Sink writing rows under runID.
func (s *Store) Sink(runID string) metrics.Sink {
	return &functionSink{store: s, runID: runID}
}

type functionSink struct {
	store *Store
	runID string
}

func (f *functionSink) WriteBatch(ctx context.Context, rows []metrics.FunctionMetrics) error {
	return f.store.SaveFunctions(ctx, f.runID, rows)
}

// Functions returns the function rows of a run ordered by descending PageRank.
// A limit of zero or less returns every row.
func (s *Store) Functions(ctx context.Context, runID string, limit int) ([]metrics.FunctionMetrics, error) {
	query := `SELECT ` + functionColumns + ` FROM functions
		WHERE run_id = ? ORDER BY page_rank DESC, name, file`
	args := []any{runID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query functions: %w", err)
	}
	defer rows.Close()

	var out []metrics.FunctionMetrics
	for rows.Next() {
		var f metrics.FunctionMetrics
		var sloc, couplingEntry, couplingExit sql.NullInt64
		var proxEntry, proxExit, proxDefense, proxDangerous sql.NullFloat64
		err := rows.Scan(&f.Name, &f.File,
			&f.IsEntry, &f.IsExit, &f.IsTested, &f.IsDefense, &f.IsDangerous, &f.CallsDangerous,
			&f.IsVulnerable, &f.BecomesVulnerable,
			&sloc, &f.FanIn, &f.FanOut, &f.Frequency, &f.PageRank,
			&proxEntry, &proxExit, &proxDefense, &proxDangerous,
			&couplingEntry, &couplingExit,
		)
		if err != nil {
			return nil, fmt.Errorf("scan function: %w", err)
		}
		f.SLOC = intPtr(sloc)
		f.SurfaceCouplingWithEntry = intPtr(couplingEntry)
		f.SurfaceCouplingWithExit = intPtr(couplingExit)
		f.ProximityToEntry = floatPtr(proxEntry)
		f.ProximityToExit = floatPtr(proxExit)
		f.ProximityToDefense = floatPtr(proxDefense)
		f.ProximityToDangerous = floatPtr(proxDangerous)
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return &n.Float64
}
