package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/labstack/gommon/log"
)

var writePrefixes = []string{"INSERT", "UPDATE", "DELETE", "REPLACE"}

// Result is the outcome of Execute. Write statements fill RowsAffected and
// LastInsertID; everything else fills Rows.
type Result struct {
	Write        bool
	FetchAll     bool
	Rows         []map[string]any
	RowsAffected int64
	LastInsertID int64
}

// Value is the result shape handed to callers: the affected row count for
// writes, every row when FetchAll is set, otherwise the first row or nil.
func (r *Result) Value() any {
	switch {
	case r.Write:
		return r.RowsAffected
	case r.FetchAll:
		return r.Rows
	case len(r.Rows) > 0:
		return r.Rows[0]
	default:
		return nil
	}
}

// IsWrite reports whether stmt is executed as a data modifying statement.
func IsWrite(stmt string) bool {
	upper := strings.ToUpper(strings.TrimSpace(stmt))
	for _, p := range writePrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

// Execute runs stmt with positional params. Write statements run in their
// own transaction, rolled back on failure.
func (c *Connector) Execute(ctx context.Context, stmt string, params []any, fetchAll bool) (*Result, error) {
	if c.readOnly {
		if err := ValidateReadOnly(stmt); err != nil {
			return nil, err
		}
	}

	if c.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}

	if IsWrite(stmt) {
		return c.execWrite(ctx, stmt, params)
	}
	return c.query(ctx, stmt, params, fetchAll)
}

func (c *Connector) execWrite(ctx context.Context, stmt string, params []any) (*Result, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	res, err := tx.ExecContext(ctx, stmt, params...)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warnf("database: rollback failed: %v", rbErr)
		}
		return nil, fmt.Errorf("statement failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	result := &Result{Write: true}
	if result.RowsAffected, err = res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	// not every driver reports insert ids
	if id, err := res.LastInsertId(); err == nil {
		result.LastInsertID = id
	}
	return result, nil
}

func (c *Connector) query(ctx context.Context, stmt string, params []any, fetchAll bool) (*Result, error) {
	rows, err := c.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	data, err := scanRows(rows, fetchAll)
	if err != nil {
		return nil, err
	}
	return &Result{FetchAll: fetchAll, Rows: data}, nil
}

// scanRows decodes rows into maps keyed by lower-cased column name. Byte
// slices become strings. With all unset only the first row is read.
func scanRows(rows *sql.Rows, all bool) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	keys := make([]string, len(columns))
	for i, col := range columns {
		keys[i] = strings.ToLower(col)
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	results := []map[string]any{}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, key := range keys {
			if b, ok := values[i].([]byte); ok {
				row[key] = string(b)
			} else {
				row[key] = values[i]
			}
		}
		results = append(results, row)

		if !all {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return results, nil
}
