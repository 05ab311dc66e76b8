package warehouse

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

func init() {
	Register("postgres", func() Adapter { return NewPostgres() })
}

// Postgres implements the Adapter interface against PostgreSQL via pgx.
type Postgres struct {
	db     *sql.DB
	config Config
}

// NewPostgres creates a new Postgres adapter instance.
func NewPostgres() *Postgres {
	return &Postgres{}
}

// Connect establishes a connection to PostgreSQL.
func (a *Postgres) Connect(ctx context.Context, cfg Config) error {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=prefer",
		cfg.Host, port, cfg.Database, cfg.User, cfg.Password)
	if mode, ok := cfg.Options["sslmode"]; ok {
		dsn = strings.Replace(dsn, "sslmode=prefer", "sslmode="+mode, 1)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.db = db
	a.config = cfg

	return nil
}

// Close closes the PostgreSQL connection.
func (a *Postgres) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (a *Postgres) Exec(ctx context.Context, query string, args ...any) error {
	if a.db == nil {
		return fmt.Errorf("database connection not established")
	}

	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Query executes a SQL statement that returns rows.
func (a *Postgres) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if a.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return rows, nil
}

// QueryRow executes a SQL statement expected to return at most one row.
func (a *Postgres) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return a.db.QueryRowContext(ctx, query, args...)
}

// LoadCSV loads a CSV file into a table, replacing it. Postgres has no
// read_csv_auto, so the file is parsed in Go: headers are normalized,
// column types inferred from the data (double precision when every non-empty
// value parses as a number, text otherwise), and rows inserted in batches.
func (a *Postgres) LoadCSV(ctx context.Context, table, path string) error {
	if a.db == nil {
		return fmt.Errorf("database connection not established")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open CSV: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged rows, mirrors read_csv_auto ignore_errors

	records, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("CSV file %s is empty", path)
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = NormalizeName(h)
	}
	rows := records[1:]

	numeric := inferNumericColumns(headers, rows)

	// Build CREATE TABLE
	defs := make([]string, len(headers))
	for i, h := range headers {
		typ := "text"
		if numeric[i] {
			typ = "double precision"
		}
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(h), typ)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(table))); err != nil {
		return fmt.Errorf("failed to drop existing table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	placeholders := make([]string, len(headers))
	for i := range headers {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(table), strings.Join(placeholders, ", ")) //nolint:gosec // identifiers quoted above

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range rows {
		args := make([]any, len(headers))
		for i := range headers {
			var val string
			if i < len(rec) {
				val = strings.TrimSpace(rec[i])
			}
			switch {
			case val == "":
				args[i] = nil
			case numeric[i]:
				f, _ := strconv.ParseFloat(val, 64)
				args[i] = f
			default:
				args[i] = val
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert CSV row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit CSV load: %w", err)
	}
	return nil
}

// TableMetadata retrieves metadata for a specified table.
func (a *Postgres) TableMetadata(ctx context.Context, table string) (*Metadata, error) {
	if a.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	schema := "public"
	tableName := table
	if parts := strings.Split(table, "."); len(parts) == 2 {
		schema = parts[0]
		tableName = parts[1]
	}

	query := `
		SELECT
			column_name,
			data_type,
			is_nullable,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := a.db.QueryContext(ctx, query, schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	var rowCount int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", quoteIdent(schema), quoteIdent(tableName)) //nolint:gosec // identifiers quoted
	if err := a.db.QueryRowContext(ctx, countQuery).Scan(&rowCount); err != nil {
		rowCount = 0
	}

	return &Metadata{
		Schema:   schema,
		Name:     tableName,
		Columns:  columns,
		RowCount: rowCount,
	}, nil
}

// inferNumericColumns reports, per column, whether every non-empty value
// parses as a float.
func inferNumericColumns(headers []string, rows [][]string) []bool {
	numeric := make([]bool, len(headers))
	seen := make([]bool, len(headers))
	for i := range numeric {
		numeric[i] = true
	}
	for _, rec := range rows {
		for i := range headers {
			if i >= len(rec) {
				continue
			}
			val := strings.TrimSpace(rec[i])
			if val == "" {
				continue
			}
			seen[i] = true
			if _, err := strconv.ParseFloat(val, 64); err != nil {
				numeric[i] = false
			}
		}
	}
	// Columns with no data stay text
	for i := range numeric {
		if !seen[i] {
			numeric[i] = false
		}
	}
	return numeric
}

// NormalizeName lowercases an identifier and replaces spaces and other
// non-alphanumeric runs with underscores, matching DuckDB's normalize_names.
func NormalizeName(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(strings.ToLower(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Ensure Postgres implements the Adapter interface
var _ Adapter = (*Postgres)(nil)
