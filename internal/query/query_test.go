package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kaz/mcpsql/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type executorFunc func(ctx context.Context, stmt string, params []any, fetchAll bool) (*database.Result, error)

func (f executorFunc) Execute(ctx context.Context, stmt string, params []any, fetchAll bool) (*database.Result, error) {
	return f(ctx, stmt, params, fetchAll)
}

func fixedElapsed(d time.Duration) func(time.Time) time.Duration {
	return func(time.Time) time.Duration { return d }
}

func TestExecuteRead(t *testing.T) {
	var gotParams []any
	s := NewService(executorFunc(func(_ context.Context, stmt string, params []any, fetchAll bool) (*database.Result, error) {
		gotParams = params
		assert.True(t, fetchAll)
		return &database.Result{FetchAll: true, Rows: []map[string]any{{"id": int64(1)}, {"id": int64(2)}}}, nil
	}))
	s.since = fixedElapsed(250 * time.Millisecond)

	out, err := s.Execute(context.Background(), "SELECT id FROM t WHERE a = ?", []any{"x"}, true)
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, 0.25, out.ExecutionTime)
	assert.EqualValues(t, 2, out.RowsAffected)
	assert.Nil(t, out.LastInsertID)
	assert.Len(t, out.Result, 2)
	assert.Equal(t, []any{"x"}, gotParams)
}

func TestExecuteWrite(t *testing.T) {
	s := NewService(executorFunc(func(context.Context, string, []any, bool) (*database.Result, error) {
		return &database.Result{Write: true, RowsAffected: 3, LastInsertID: 9}, nil
	}))

	out, err := s.Execute(context.Background(), "UPDATE t SET a = 1", nil, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Result)
	assert.EqualValues(t, 3, out.RowsAffected)
	require.NotNil(t, out.LastInsertID)
	assert.EqualValues(t, 9, *out.LastInsertID)
}

func TestExecuteFailureIsReported(t *testing.T) {
	s := NewService(executorFunc(func(context.Context, string, []any, bool) (*database.Result, error) {
		return nil, errors.New("Table 'shop.nope' doesn't exist")
	}))
	s.since = fixedElapsed(time.Second)

	out, err := s.Execute(context.Background(), "SELECT * FROM nope", nil, true)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Nil(t, out.Result)
	assert.Equal(t, 1.0, out.ExecutionTime)
	assert.Contains(t, out.Error, "doesn't exist")
}

func TestExecuteEmpty(t *testing.T) {
	s := NewService(executorFunc(func(context.Context, string, []any, bool) (*database.Result, error) {
		t.Fatal("executor must not be called")
		return nil, nil
	}))
	_, err := s.Execute(context.Background(), "   ", nil, true)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}
