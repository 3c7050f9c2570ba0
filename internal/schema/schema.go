// Package schema builds the table and relationship overview of the connected
// database.
package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/kaz/mcpsql/internal/database"
	"github.com/labstack/gommon/log"
	"golang.org/x/sync/errgroup"
)

const fanOut = 4

var (
	ErrNoTables      = errors.New("no tables found in database")
	ErrTableNotFound = errors.New("table not found")
)

// Inspector reads catalog information. *database.Connector implements it.
type Inspector interface {
	DatabaseInfo(ctx context.Context) (*database.DatabaseInfo, error)
	Tables(ctx context.Context) ([]string, error)
	TableExists(ctx context.Context, table string) (bool, error)
	Columns(ctx context.Context, table string) ([]database.Column, error)
	ForeignKeys(ctx context.Context, table string) ([]database.ForeignKey, error)
	Indexes(ctx context.Context, table string) ([]database.Index, error)
	TableSize(ctx context.Context, table string) (*database.TableSize, error)
}

type (
	Summary struct {
		NumTables          int      `json:"num_tables"`
		Tables             []string `json:"tables"`
		NumRelationships   int      `json:"num_relationships"`
		MostRelatedTable   *string  `json:"most_related_table"`
		MostRelationsCount int      `json:"most_relations_count"`
	}

	TableStructure struct {
		Columns     []database.Column     `json:"columns"`
		PrimaryKeys []string              `json:"primary_keys"`
		ForeignKeys []database.ForeignKey `json:"foreign_keys"`
	}

	Relationship struct {
		FromTable  string `json:"from_table"`
		FromColumn string `json:"from_column"`
		ToTable    string `json:"to_table"`
		ToColumn   string `json:"to_column"`
		Constraint string `json:"constraint"`
	}

	Information struct {
		DatabaseInfo  *database.DatabaseInfo    `json:"database_info"`
		Summary       Summary                   `json:"summary"`
		Structure     map[string]TableStructure `json:"structure"`
		Relationships map[string]Relationship   `json:"relationships"`
	}

	TableDetail struct {
		Name        string                `json:"name"`
		Columns     []database.Column     `json:"columns"`
		PrimaryKeys []string              `json:"primary_keys"`
		ForeignKeys []database.ForeignKey `json:"foreign_keys"`
		Indexes     []database.Index      `json:"indexes"`
		Size        *database.TableSize   `json:"size"`
	}

	Service struct {
		inspector Inspector
	}
)

func NewService(inspector Inspector) *Service {
	return &Service{inspector: inspector}
}

// RelationKey names a relationship as "table.column → table.column".
func RelationKey(table string, fk database.ForeignKey) string {
	return fmt.Sprintf("%s.%s → %s.%s", table, fk.Column, fk.ReferencesTable, fk.ReferencesColumn)
}

// Information collects the structure of every table and the foreign key
// graph between them.
func (s *Service) Information(ctx context.Context) (*Information, error) {
	info, err := s.inspector.DatabaseInfo(ctx)
	if err != nil {
		return nil, err
	}

	tables, err := s.inspector.Tables(ctx)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, ErrNoTables
	}

	structures := make([]TableStructure, len(tables))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(fanOut)
	for i, table := range tables {
		eg.Go(func() error {
			st, err := s.structure(egCtx, table)
			if err != nil {
				return err
			}
			structures[i] = *st
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	result := &Information{
		DatabaseInfo:  info,
		Structure:     make(map[string]TableStructure, len(tables)),
		Relationships: map[string]Relationship{},
	}

	outgoing := make(map[string]int)
	for i, table := range tables {
		result.Structure[table] = structures[i]
		for _, fk := range structures[i].ForeignKeys {
			key := RelationKey(table, fk)
			if _, dup := result.Relationships[key]; !dup {
				outgoing[table]++
			}
			result.Relationships[key] = Relationship{
				FromTable:  table,
				FromColumn: fk.Column,
				ToTable:    fk.ReferencesTable,
				ToColumn:   fk.ReferencesColumn,
				Constraint: fk.ConstraintName,
			}
		}
	}

	result.Summary = Summary{
		NumTables:        len(tables),
		Tables:           tables,
		NumRelationships: len(result.Relationships),
	}
	for _, table := range tables {
		if n := outgoing[table]; n > result.Summary.MostRelationsCount {
			result.Summary.MostRelatedTable = &table
			result.Summary.MostRelationsCount = n
		}
	}

	log.Debugf("schema: %d tables, %d relationships", len(tables), len(result.Relationships))
	return result, nil
}

func (s *Service) structure(ctx context.Context, table string) (*TableStructure, error) {
	columns, err := s.inspector.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	fks, err := s.inspector.ForeignKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	return &TableStructure{
		Columns:     columns,
		PrimaryKeys: primaryKeys(columns),
		ForeignKeys: fks,
	}, nil
}

// Table describes a single table including its indexes and size.
func (s *Service) Table(ctx context.Context, table string) (*TableDetail, error) {
	exists, err := s.inspector.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	st, err := s.structure(ctx, table)
	if err != nil {
		return nil, err
	}
	indexes, err := s.inspector.Indexes(ctx, table)
	if err != nil {
		return nil, err
	}
	size, err := s.inspector.TableSize(ctx, table)
	if err != nil {
		return nil, err
	}

	return &TableDetail{
		Name:        table,
		Columns:     st.Columns,
		PrimaryKeys: st.PrimaryKeys,
		ForeignKeys: st.ForeignKeys,
		Indexes:     indexes,
		Size:        size,
	}, nil
}

func primaryKeys(columns []database.Column) []string {
	keys := []string{}
	for _, c := range columns {
		if c.Key == "PRI" {
			keys = append(keys, c.Name)
		}
	}
	return keys
}
