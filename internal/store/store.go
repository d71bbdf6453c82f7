package store

import (
	"context"
	"errors"
	"time"
)

// ErrTableNotFound distinguishes a missing table (store not initialized)
// from a malformed query.
var ErrTableNotFound = errors.New("table not found")

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Record maps normalized column names to scalar values for one result row.
type Record = map[string]any

// Result preserves the query's column order in Columns; Records keep row
// order but, being maps, carry no key order of their own.
type Result struct {
	Columns  []string
	Records  []Record
	Duration time.Duration
}

type Store interface {
	Schema(ctx context.Context, table string) ([]Column, error)
	Execute(ctx context.Context, sqlText string) (Result, error)
	Tables(ctx context.Context) ([]string, error)
	HealthCheck(ctx context.Context) error
}
