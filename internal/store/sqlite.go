// Package store persists the matched-join projection of a run to SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vehicle-reconciliation-service/pkg/errors"
	"vehicle-reconciliation-service/pkg/logger"
)

const (
	// DefaultTable receives the projection unless configured otherwise
	DefaultTable = "model_no_mod"
	// RunsTable keeps one row per exported run
	RunsTable = "reconciliation_runs"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds the SQLite export settings
type Config struct {
	Path  string `json:"path"`
	Table string `json:"table"`
	// IntegerColumns are stored as INTEGER; empty values become NULL
	IntegerColumns []string `json:"integer_columns"`
}

// DefaultConfig returns the default export configuration without a path
func DefaultConfig() *Config {
	return &Config{
		Table:          DefaultTable,
		IntegerColumns: []string{"VIN_ID", "EPA_ID", "counts"},
	}
}

// Validate checks the database path and table name
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("database path is required")
	}
	if !identifierPattern.MatchString(c.Table) {
		return fmt.Errorf("invalid table name %q", c.Table)
	}
	if c.Table == RunsTable {
		return fmt.Errorf("table name %q is reserved", c.Table)
	}
	return nil
}

// RunRecord describes one run in the runs table
type RunRecord struct {
	RunID            string
	CompletedAt      time.Time
	Duration         time.Duration
	EPAFile          string
	VINFile          string
	WeightsFile      string
	Pairs            int
	MatchedVINs      int
	WeightedFraction string
}

// Exporter writes projections into a SQLite database. Every Export opens and
// closes its own connection.
type Exporter struct {
	config *Config
	logger logger.Logger
}

// NewExporter creates a SQLite exporter
func NewExporter(config *Config) (*Exporter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "sqlite", config.Path, err)
	}
	for _, c := range config.IntegerColumns {
		if !identifierPattern.MatchString(c) {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "sqlite.integer_columns", c,
				fmt.Errorf("invalid column name %q", c))
		}
	}

	return &Exporter{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("store"),
	}, nil
}

// Export replaces the configured table with rows and records the run, in one
// transaction
func (e *Exporter) Export(ctx context.Context, run RunRecord, columns []string, rows [][]string) error {
	if len(columns) == 0 {
		return errors.ExportError(errors.CodeDatabaseFailed, e.config.Path, fmt.Errorf("projection has no columns"))
	}
	for _, c := range columns {
		if !identifierPattern.MatchString(c) {
			return errors.ExportError(errors.CodeDatabaseFailed, e.config.Path, fmt.Errorf("invalid column name %q", c))
		}
	}

	if dir := filepath.Dir(e.config.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.FileError(errors.CodeDirectoryError, dir, err)
		}
	}

	db, err := sql.Open("sqlite", e.config.Path)
	if err != nil {
		return errors.ExportError(errors.CodeDatabaseFailed, e.config.Path, fmt.Errorf("open sqlite db: %w", err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			e.logger.WithError(err).Warn("Failed to close database")
		}
	}()

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		return errors.ExportError(errors.CodeDatabaseFailed, e.config.Path, fmt.Errorf("apply pragma: %w", err))
	}

	if err := e.write(ctx, db, run, columns, rows); err != nil {
		return errors.ExportError(errors.CodeDatabaseFailed, e.config.Path, err)
	}

	e.logger.WithFields(logger.Fields{
		"database": e.config.Path,
		"table":    e.config.Table,
		"rows":     len(rows),
		"run_id":   run.RunID,
	}).Info("Exported matches to SQLite")

	return nil
}

func (e *Exporter) write(ctx context.Context, db *sql.DB, run RunRecord, columns []string, rows [][]string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// no-op after a successful commit
		_ = tx.Rollback()
	}()

	table := quote(e.config.Table)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, e.createStatement(columns)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quote(c)
		placeholders[i] = "?"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(quoted, ", "), strings.Join(placeholders, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	integer := e.integerColumns()
	args := make([]interface{}, len(columns))
	for n, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("row %d has %d values, want %d", n+1, len(row), len(columns))
		}
		for i, v := range row {
			switch {
			case integer[columns[i]] && v == "":
				args[i] = nil
			default:
				args[i] = v
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row %d: %w", n+1, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+quote(RunsTable)+` (
            run_id TEXT PRIMARY KEY,
            completed_at TEXT NOT NULL,
            duration_ms INTEGER NOT NULL,
            table_name TEXT NOT NULL,
            epa_file TEXT,
            vin_file TEXT,
            weights_file TEXT,
            pairs INTEGER NOT NULL,
            matched_vins INTEGER NOT NULL,
            weighted_fraction TEXT
        )`); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+quote(RunsTable)+` (
            run_id, completed_at, duration_ms, table_name, epa_file, vin_file,
            weights_file, pairs, matched_vins, weighted_fraction
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.CompletedAt.UTC().Format(time.RFC3339Nano),
		run.Duration.Milliseconds(),
		e.config.Table,
		run.EPAFile,
		run.VINFile,
		run.WeightsFile,
		run.Pairs,
		run.MatchedVINs,
		run.WeightedFraction,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (e *Exporter) createStatement(columns []string) string {
	integer := e.integerColumns()
	defs := make([]string, len(columns))
	for i, c := range columns {
		kind := "TEXT"
		if integer[c] {
			kind = "INTEGER"
		}
		defs[i] = quote(c) + " " + kind
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quote(e.config.Table), strings.Join(defs, ", "))
}

func (e *Exporter) integerColumns() map[string]bool {
	set := make(map[string]bool, len(e.config.IntegerColumns))
	for _, c := range e.config.IntegerColumns {
		set[c] = true
	}
	return set
}

// quote makes an identifier safe; callers validate names first
func quote(identifier string) string {
	return `"` + identifier + `"`
}
