// Package query executes validator-accepted SQL with a wall-clock timeout and
// a hard row cap, and serializes rows to a JSON-safe shape.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/finsight-ai/finsight/internal/database"
	"github.com/finsight-ai/finsight/internal/observability"
)

// ErrTimeout is returned when a query exceeds the configured wall-clock
// timeout. The connection is released back to the pool when this happens.
var ErrTimeout = errors.New("query execution timed out")

// DatabaseError wraps a driver failure with the message already sanitized of
// credential-looking substrings. Safe to surface to callers.
type DatabaseError struct {
	Message string
}

func (e *DatabaseError) Error() string {
	return e.Message
}

func newDatabaseError(err error) *DatabaseError {
	return &DatabaseError{Message: Redact(err.Error())}
}

// ExecutionResult holds the serialized rows of a successful execution.
// Row values are JSON-safe scalars only.
type ExecutionResult struct {
	Rows      []map[string]any `json:"data"`
	RowCount  int              `json:"row_count"`
	ElapsedMs float64          `json:"elapsed_ms"`
}

// Executor runs accepted statements against the pool. It never re-validates;
// callers must pass only validator-accepted SQL.
type Executor struct {
	db      *database.Connection
	metrics *observability.Metrics
	maxRows int
	timeout time.Duration
}

// NewExecutor creates an executor with the given row cap and timeout.
func NewExecutor(db *database.Connection, metrics *observability.Metrics, maxRows int, timeout time.Duration) *Executor {
	return &Executor{
		db:      db,
		metrics: metrics,
		maxRows: maxRows,
		timeout: timeout,
	}
}

// Run executes sql inside a read-only transaction. It returns ErrTimeout when
// the wall clock expires, or a *DatabaseError for any driver failure.
func (e *Executor) Run(ctx context.Context, sql string) (*ExecutionResult, error) {
	queryCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.db.Pool().BeginTx(queryCtx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, e.mapError(queryCtx, err, sql, time.Duration(0))
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	start := time.Now()
	rows, err := tx.Query(queryCtx, sql)
	if err != nil {
		return nil, e.mapError(queryCtx, err, sql, time.Since(start))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = string(fd.Name)
	}

	result := &ExecutionResult{Rows: []map[string]any{}}
	for rows.Next() {
		// The validator caps LIMIT, but the executor enforces the row
		// bound on its own as well.
		if result.RowCount >= e.maxRows {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, e.mapError(queryCtx, err, sql, time.Since(start))
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, e.mapError(queryCtx, err, sql, time.Since(start))
	}

	result.ElapsedMs = float64(time.Since(start).Microseconds()) / 1000.0

	if e.metrics != nil {
		e.metrics.RecordQuery("executed", time.Since(start))
	}
	log.Debug().
		Str("sql", sql).
		Int("rows", result.RowCount).
		Float64("elapsed_ms", result.ElapsedMs).
		Msg("Query executed")

	return result, nil
}

func (e *Executor) mapError(ctx context.Context, err error, sql string, elapsed time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		if e.metrics != nil {
			e.metrics.RecordQuery("timeout", elapsed)
		}
		log.Warn().Str("sql", sql).Dur("elapsed", elapsed).Msg("Query timed out")
		return ErrTimeout
	}
	if e.metrics != nil {
		e.metrics.RecordQuery("error", elapsed)
	}
	log.Error().Err(err).Str("sql", sql).Msg("Query failed")
	return newDatabaseError(err)
}

// convertValue maps driver values to JSON-safe scalars: timestamps become
// ISO-8601 strings, numerics become float64 (documented precision loss),
// bytes become valid-UTF-8 strings, NULL stays nil.
func convertValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte: // uuid
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case []byte:
		return toValidUTF8(val)
	default:
		return val
	}
}
