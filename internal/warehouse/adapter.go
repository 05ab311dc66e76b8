// Package warehouse provides database adapters for the analytics warehouse
// that backs the pipeline. Adapters register themselves by type name; the
// default is DuckDB.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Config holds connection configuration for a warehouse adapter.
type Config struct {
	// Type selects the registered adapter ("duckdb", "postgres").
	Type string
	// Path is the database file path for file-backed adapters.
	// Empty or ":memory:" means in-memory for DuckDB.
	Path string

	// Network database fields (postgres).
	Host     string
	Port     int
	Database string
	Schema   string
	User     string
	Password string

	Options map[string]string
}

// Column describes a single table column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// Metadata describes a warehouse table.
type Metadata struct {
	Schema   string
	Name     string
	Columns  []Column
	RowCount int64
}

// Adapter is the interface all warehouse backends implement.
type Adapter interface {
	// Connect establishes the connection described by cfg.
	Connect(ctx context.Context, cfg Config) error
	// Close releases the connection.
	Close() error
	// Exec executes a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...any) error
	// Query executes a statement that returns rows. The caller owns the
	// returned rows and must check rows.Err() after iteration.
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	// QueryRow executes a statement expected to return at most one row.
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	// LoadCSV loads a CSV file into the named table, replacing it.
	// Column names are normalized (lowercase, underscores).
	LoadCSV(ctx context.Context, table, path string) error
	// TableMetadata returns column and row-count information for a table.
	TableMetadata(ctx context.Context, table string) (*Metadata, error)
}

// Factory creates an unconnected adapter instance.
type Factory func() Adapter

var registry = make(map[string]Factory)

// Register makes an adapter type available by name. Called from adapter
// init() functions.
func Register(name string, f Factory) {
	registry[name] = f
}

// New creates an adapter for the configured type. The adapter is not yet
// connected.
func New(cfg Config) (Adapter, error) {
	name := cfg.Type
	if name == "" {
		name = "duckdb"
	}

	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown warehouse type %q (registered: %s)", name, strings.Join(Registered(), ", "))
	}
	return f(), nil
}

// Registered returns the sorted list of registered adapter type names.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
