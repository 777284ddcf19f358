// Package store provides Dolt-backed release history for attack-surface
// metrics. The store is located at .asm/history/ (a Dolt repository); every
// analysis run writes its release statistics and per-function metrics there,
// and commits give a versioned history that can be diffed between runs.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/dolthub/driver"
)

const databaseName = "asm"

// Store manages the .asm/history/ Dolt database.
type Store struct {
	db     *sql.DB
	dbPath string // Path to the Dolt repo directory (.asm/history/)
}

// Open opens or creates the store in the given .asm directory.
// It auto-creates the directory if it doesn't exist and initializes the schema
// if the database is new.
func Open(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, "history")

	// Create the Dolt repo directory if needed
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("create dolt directory: %w", err)
	}

	// First, connect without specifying database to create it if needed
	initDSN := fmt.Sprintf("file://%s?commitname=asm&commitemail=asm@local", dbPath)
	initDB, err := sql.Open("dolt", initDSN)
	if err != nil {
		return nil, fmt.Errorf("open dolt for init: %w", err)
	}

	_, err = initDB.Exec("CREATE DATABASE IF NOT EXISTS " + databaseName)
	if err != nil {
		initDB.Close()
		return nil, fmt.Errorf("create database: %w", err)
	}
	initDB.Close()

	dsn := fmt.Sprintf("file://%s?commitname=asm&commitemail=asm@local&database=%s", dbPath, databaseName)
	db, err := sql.Open("dolt", dsn)
	if err != nil {
		return nil, fmt.Errorf("open dolt db: %w", err)
	}

	store := &Store{db: db, dbPath: dbPath}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the Dolt repository path.
func (s *Store) Path() string {
	return s.dbPath
}
