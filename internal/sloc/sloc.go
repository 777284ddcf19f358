// Package sloc looks up source-lines-of-code counts for call-graph nodes.
package sloc

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/graph"
)

// Lookup resolves the SLOC of a function or file.
//
// At function granularity the lookup matches (name, file) first and falls
// back to the name alone when exactly one function carries it. At file
// granularity only the file is used.
type Lookup interface {
	SLOC(ctx context.Context, k call.Key, g call.Granularity) (int, bool, error)
}

// Map is an in-memory Lookup.
type Map struct {
	functions map[call.Key]int
	byName    map[string][]int
	files     map[string]int
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{
		functions: make(map[call.Key]int),
		byName:    make(map[string][]int),
		files:     make(map[string]int),
	}
}

// AddFunction records the SLOC of a function.
func (m *Map) AddFunction(k call.Key, sloc int) {
	if _, ok := m.functions[k]; !ok {
		m.byName[k.Name] = append(m.byName[k.Name], sloc)
	}
	m.functions[k] = sloc
}

// AddFile records the SLOC of a file.
func (m *Map) AddFile(file string, sloc int) {
	m.files[file] = sloc
}

// SLOC implements Lookup.
func (m *Map) SLOC(_ context.Context, k call.Key, g call.Granularity) (int, bool, error) {
	if g == call.File {
		v, ok := m.files[k.File]
		return v, ok, nil
	}
	if v, ok := m.functions[k]; ok {
		return v, true, nil
	}
	if rows := m.byName[k.Name]; len(rows) == 1 {
		return rows[0], true, nil
	}
	return 0, false, nil
}

// ReadCSV loads "name,file,sloc" function rows into a Map. File totals are
// accumulated from the function rows.
func ReadCSV(r io.Reader) (*Map, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	m := NewMap()
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read sloc: %w", err)
		}
		if len(row) < 3 {
			return nil, fmt.Errorf("read sloc: line %d: expected name,file,sloc", line)
		}
		n, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil {
			if line == 1 {
				// header
				continue
			}
			return nil, fmt.Errorf("read sloc: line %d: %w", line, err)
		}
		k := call.Key{Name: strings.TrimSpace(row[0]), File: strings.TrimSpace(row[1])}
		m.AddFunction(k, n)
		if k.File != "" {
			m.files[k.File] += n
		}
	}
	return m, nil
}

const (
	functionPrimaryQuery   = `SELECT sloc FROM function WHERE name = ? AND file = ?`
	functionSecondaryQuery = `SELECT sloc FROM function WHERE name = ?`
	fileQuery              = `SELECT sloc FROM file WHERE name = ?`
)

// DB is a Lookup over a SQLite database with tables
// function(name, file, sloc) and file(name, sloc).
type DB struct {
	db *sql.DB
}

// OpenDB opens the SQLite SLOC database at path.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sloc db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sloc db: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// SLOC implements Lookup. A query matching several rows counts as no match.
func (d *DB) SLOC(ctx context.Context, k call.Key, g call.Granularity) (int, bool, error) {
	if g == call.File {
		return d.single(ctx, fileQuery, k.File)
	}
	v, ok, err := d.single(ctx, functionPrimaryQuery, k.Name, k.File)
	if err != nil || ok {
		return v, ok, err
	}
	return d.single(ctx, functionSecondaryQuery, k.Name)
}

func (d *DB) single(ctx context.Context, query string, args ...any) (int, bool, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, false, fmt.Errorf("query sloc: %w", err)
	}
	defer rows.Close()

	var v, n int
	for rows.Next() {
		if err := rows.Scan(&v); err != nil {
			return 0, false, fmt.Errorf("scan sloc: %w", err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, false, err
	}
	return v, n == 1, nil
}

// Assign sets the SLOC attribute of every node found in l and returns how
// many nodes were assigned.
func Assign(ctx context.Context, g *graph.Graph, l Lookup) (int, error) {
	if l == nil {
		return 0, nil
	}
	assigned := 0
	for i := range g.Nodes() {
		n := g.NodeAt(i)
		v, ok, err := l.SLOC(ctx, n.Call.Key(), g.Granularity())
		if err != nil {
			return assigned, err
		}
		if !ok {
			continue
		}
		n.Attrs.SLOC = &v
		assigned++
	}
	return assigned, nil
}
