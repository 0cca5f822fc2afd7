// internal/datalayer/datalayer.go
package datalayer

import (
	"context"
	"database/sql"

	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/common/logger"
	"nlq-router/internal/models"
)

// Executor runs a compiled query and returns its rows.
type Executor interface {
	Execute(ctx context.Context, query *models.CompiledQuery) ([]map[string]interface{}, error)
}

// PostgresExecutor runs compiled queries against the Postgres-backed data
// layers. It trusts the query builder: by the time a CompiledQuery arrives
// here, validation already happened.
type PostgresExecutor struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresExecutor(db *sql.DB, log logger.Logger) *PostgresExecutor {
	return &PostgresExecutor{
		db: db,
		logger: log.WithFields(map[string]interface{}{
			"component": "data-layer",
		}),
	}
}

// Execute runs the query and materializes rows into generic maps. Any driver
// failure becomes a retryable QUERY_EXECUTION_FAILED.
func (e *PostgresExecutor) Execute(ctx context.Context, query *models.CompiledQuery) ([]map[string]interface{}, error) {
	rows, err := e.db.QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError(query.Relation, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError(query.Relation, err)
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError(query.Relation, err)
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// lib/pq scans text columns as []byte; normalize to string so
			// JSON encoding does not base64 them.
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewQueryExecutionFailedError(query.Relation, err)
	}

	e.logger.Debug("query executed", map[string]interface{}{
		"relation": query.Relation,
		"layer":    string(query.Layer),
		"rows":     len(results),
	})

	return results, nil
}
