// Package query runs agent supplied SQL through the connector and reports
// how long it took.
package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kaz/mcpsql/internal/database"
	"github.com/labstack/gommon/log"
)

var ErrEmptyQuery = errors.New("query is required")

// Executor runs statements. *database.Connector implements it.
type Executor interface {
	Execute(ctx context.Context, stmt string, params []any, fetchAll bool) (*database.Result, error)
}

// Outcome is reported for failed statements too, so the caller can learn from
// both.
type Outcome struct {
	Query         string  `json:"query"`
	Result        any     `json:"result"`
	ExecutionTime float64 `json:"execution_time"`
	Success       bool    `json:"success"`
	RowsAffected  int64   `json:"rows_affected"`
	LastInsertID  *int64  `json:"last_insert_id,omitempty"`
	Error         string  `json:"error,omitempty"`
}

type Service struct {
	executor Executor
	since    func(time.Time) time.Duration
}

func NewService(executor Executor) *Service {
	return &Service{executor: executor, since: time.Since}
}

// Execute runs q with params. The returned error is only non-nil for invalid
// input; statement failures are described by the Outcome.
func (s *Service) Execute(ctx context.Context, q string, params []any, fetchAll bool) (*Outcome, error) {
	if strings.TrimSpace(q) == "" {
		return nil, ErrEmptyQuery
	}

	start := time.Now()
	res, err := s.executor.Execute(ctx, q, params, fetchAll)
	elapsed := s.since(start).Seconds()

	out := &Outcome{Query: q, ExecutionTime: elapsed, Success: err == nil}
	if err != nil {
		log.Warnf("query: failed after %.4fs: %v", elapsed, err)
		out.Error = err.Error()
		return out, nil
	}

	out.Result = res.Value()
	if res.Write {
		out.RowsAffected = res.RowsAffected
		id := res.LastInsertID
		out.LastInsertID = &id
	} else {
		out.RowsAffected = int64(len(res.Rows))
	}
	log.Debugf("query: ok in %.4fs, %d rows", elapsed, out.RowsAffected)
	return out, nil
}
