package learning

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS query_notes (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	query TEXT NOT NULL,
	query_type TEXT NOT NULL,
	execution_time REAL NOT NULL,
	rows_affected INTEGER NOT NULL,
	success INTEGER NOT NULL,
	note TEXT NOT NULL,
	tags TEXT NOT NULL,
	created_at TEXT NOT NULL,
	complexity TEXT NOT NULL
);
`

// SQLiteStore keeps notes in an embedded sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialise sqlite store: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, query_type, execution_time, rows_affected, success,
		       note, tags, created_at, complexity
		FROM query_notes
		ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	notes := []Note{}
	for rows.Next() {
		var (
			n         Note
			tags      string
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.Query, &n.QueryType, &n.ExecutionTime, &n.RowsAffected,
			&n.Success, &n.Note, &tags, &createdAt, &n.Complexity); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
			return nil, fmt.Errorf("%w: tags of %s: %v", ErrCorruptStore, n.ID, err)
		}
		ts, err := ParseTimestamp(createdAt)
		if err != nil {
			return nil, fmt.Errorf("%w: created_at of %s: %v", ErrCorruptStore, n.ID, err)
		}
		n.CreatedAt = Timestamp{ts}
		notes = append(notes, normalize(n))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	return notes, nil
}

func (s *SQLiteStore) Append(ctx context.Context, note Note) error {
	note = normalize(note)
	tags, err := json.Marshal(note.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_notes (id, query, query_type, execution_time, rows_affected,
		                         success, note, tags, created_at, complexity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		note.ID, note.Query, note.QueryType, note.ExecutionTime, note.RowsAffected,
		note.Success, note.Note, string(tags), note.CreatedAt.String(), note.Complexity)
	if err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
