package duckdb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/finquery/finquery/internal/dataset"
)

// Dataset binds one analytical table to its flat file.
type Dataset struct {
	Table string
	File  string
}

// Loader materializes the analytical tables from flat files at startup.
// Loading is idempotent: tables that already exist are left untouched.
type Loader struct {
	Store    *Store
	Source   dataset.Source
	Logger   *slog.Logger
	Datasets []Dataset
}

var nonWordRuns = regexp.MustCompile(`\W+`)

// NormalizeColumn collapses non-word runs to a single underscore and
// lowercases, so "Client Name" becomes client_name.
func NormalizeColumn(name string) string {
	return strings.ToLower(nonWordRuns.ReplaceAllString(name, "_"))
}

func (l *Loader) Load(ctx context.Context) error {
	if l.Store == nil {
		return fmt.Errorf("store is required")
	}
	if l.Source == nil {
		return fmt.Errorf("dataset source is required")
	}

	existing, err := l.Store.Tables(ctx)
	if err != nil {
		return fmt.Errorf("list existing tables: %w", err)
	}

	for _, ds := range l.Datasets {
		if slices.Contains(existing, ds.Table) {
			if l.Logger != nil {
				l.Logger.Info("table already exists, skipping load", slog.String("table", ds.Table))
			}
			continue
		}
		if err := l.loadTable(ctx, ds); err != nil {
			return fmt.Errorf("load table %q: %w", ds.Table, err)
		}
		if l.Logger != nil {
			l.Logger.Info("table loaded", slog.String("table", ds.Table), slog.String("file", ds.File))
		}
	}
	return nil
}

func (l *Loader) loadTable(ctx context.Context, ds Dataset) error {
	localPath, cleanup, err := l.materialize(ctx, ds.File)
	if err != nil {
		return err
	}
	defer cleanup()

	readExpr, err := readExprFor(localPath)
	if err != nil {
		return err
	}

	sourceColumns, err := l.sourceColumns(ctx, readExpr)
	if err != nil {
		return err
	}
	if len(sourceColumns) == 0 {
		return fmt.Errorf("dataset file %q has no columns", ds.File)
	}

	selections := make([]string, 0, len(sourceColumns))
	for _, column := range sourceColumns {
		selections = append(selections, fmt.Sprintf("%s AS %s", quoteIdent(column), quoteIdent(NormalizeColumn(column))))
	}

	createSQL := fmt.Sprintf(
		"CREATE TABLE %s AS SELECT %s FROM %s",
		quoteIdent(ds.Table),
		strings.Join(selections, ", "),
		readExpr,
	)
	if _, err := l.Store.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create table from %q: %w", ds.File, err)
	}
	return nil
}

// materialize copies the dataset file to a local temp path so DuckDB can
// scan it regardless of which source it came from.
func (l *Loader) materialize(ctx context.Context, name string) (string, func(), error) {
	reader, err := l.Source.Open(ctx, name)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = reader.Close() }()

	tmp, err := os.CreateTemp("", "finquery-dataset-*"+filepath.Ext(name))
	if err != nil {
		return "", nil, fmt.Errorf("create temp dataset file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("copy dataset file %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp dataset file: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

func (l *Loader) sourceColumns(ctx context.Context, readExpr string) ([]string, error) {
	describeSQL := fmt.Sprintf("SELECT column_name FROM (DESCRIBE SELECT * FROM %s)", readExpr)
	rows, err := l.Store.db.QueryContext(ctx, describeSQL)
	if err != nil {
		return nil, fmt.Errorf("describe dataset file: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan dataset column name: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset column names: %w", err)
	}
	return columns, nil
}

func readExprFor(localPath string) (string, error) {
	quoted := quoteString(localPath)
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".csv":
		return fmt.Sprintf("read_csv_auto(%s)", quoted), nil
	case ".parquet":
		return fmt.Sprintf("read_parquet(%s)", quoted), nil
	default:
		return "", fmt.Errorf("unsupported dataset file type: %q", filepath.Ext(localPath))
	}
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
