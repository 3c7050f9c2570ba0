package database

import (
	"context"
	"database/sql"
	"fmt"
)

type (
	DatabaseInfo struct {
		Version      string `json:"version"`
		CurrentDB    string `json:"current_db"`
		UserInfo     string `json:"user_info"`
		ConnectionID int64  `json:"connection_id"`
	}

	Column struct {
		Name     string  `json:"name"`
		Type     string  `json:"type"`
		Nullable bool    `json:"nullable"`
		Default  *string `json:"default"`
		Key      string  `json:"key,omitempty"`
		Extra    string  `json:"extra,omitempty"`
	}

	ForeignKey struct {
		Column           string `json:"column"`
		ReferencesTable  string `json:"references_table"`
		ReferencesColumn string `json:"references_column"`
		ConstraintName   string `json:"constraint_name"`
	}

	Index struct {
		Name       string `json:"name"`
		Column     string `json:"column"`
		NonUnique  bool   `json:"non_unique"`
		SeqInIndex int    `json:"seq_in_index"`
	}

	TableSize struct {
		Rows    int64   `json:"rows"`
		SizeMB  float64 `json:"size_mb"`
		DataMB  float64 `json:"data_mb"`
		IndexMB float64 `json:"index_mb"`
	}
)

// DatabaseInfo describes the server and the session.
func (c *Connector) DatabaseInfo(ctx context.Context) (*DatabaseInfo, error) {
	var (
		info    DatabaseInfo
		current sql.NullString
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT VERSION(), DATABASE(), USER(), CONNECTION_ID()`,
	).Scan(&info.Version, &current, &info.UserInfo, &info.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read database info: %w", err)
	}
	info.CurrentDB = current.String
	return &info, nil
}

// Tables lists the base tables and views of the connected schema.
func (c *Connector) Tables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = ? ORDER BY table_name`,
		c.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (c *Connector) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		c.name, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", table, err)
	}
	return n > 0, nil
}

// Columns returns the columns of table in ordinal order.
func (c *Connector) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, column_default, column_key, extra
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, c.name, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	columns := []Column{}
	for rows.Next() {
		var (
			col        Column
			isNullable string
			def        sql.NullString
			key, extra sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.Type, &isNullable, &def, &key, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		col.Nullable = isNullable == "YES"
		if def.Valid {
			col.Default = &def.String
		}
		col.Key = key.String
		col.Extra = extra.String
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// ForeignKeys returns the outgoing references of table.
func (c *Connector) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT column_name, referenced_table_name, referenced_column_name, constraint_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND referenced_table_name IS NOT NULL
		ORDER BY constraint_name, ordinal_position`, c.name, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	fks := []ForeignKey{}
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Column, &fk.ReferencesTable, &fk.ReferencesColumn, &fk.ConstraintName); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key of %s: %w", table, err)
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func (c *Connector) Indexes(ctx context.Context, table string) ([]Index, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT index_name, column_name, non_unique, seq_in_index
		FROM information_schema.statistics
		WHERE table_schema = ? AND table_name = ?
		ORDER BY index_name, seq_in_index`, c.name, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexes of %s: %w", table, err)
	}
	defer rows.Close()

	indexes := []Index{}
	for rows.Next() {
		var (
			idx    Index
			column sql.NullString
		)
		if err := rows.Scan(&idx.Name, &column, &idx.NonUnique, &idx.SeqInIndex); err != nil {
			return nil, fmt.Errorf("failed to scan index of %s: %w", table, err)
		}
		idx.Column = column.String
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

// TableSize reports the estimated row count and on-disk size of table.
func (c *Connector) TableSize(ctx context.Context, table string) (*TableSize, error) {
	var (
		rows                 sql.NullInt64
		total, data, indexMB sql.NullFloat64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT table_rows,
		       ROUND((data_length + index_length) / 1024 / 1024, 2),
		       ROUND(data_length / 1024 / 1024, 2),
		       ROUND(index_length / 1024 / 1024, 2)
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?`, c.name, table,
	).Scan(&rows, &total, &data, &indexMB)
	if err != nil {
		return nil, fmt.Errorf("failed to read size of %s: %w", table, err)
	}
	// views report no sizes
	return &TableSize{
		Rows:    rows.Int64,
		SizeMB:  total.Float64,
		DataMB:  data.Float64,
		IndexMB: indexMB.Float64,
	}, nil
}
