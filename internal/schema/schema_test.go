package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/kaz/mcpsql/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	tables  []string
	columns map[string][]database.Column
	fks     map[string][]database.ForeignKey
	err     error
}

func (f *fakeInspector) DatabaseInfo(context.Context) (*database.DatabaseInfo, error) {
	return &database.DatabaseInfo{Version: "8.0.36", CurrentDB: "shop", UserInfo: "app@localhost", ConnectionID: 7}, nil
}

func (f *fakeInspector) Tables(context.Context) ([]string, error) { return f.tables, nil }

func (f *fakeInspector) TableExists(_ context.Context, table string) (bool, error) {
	for _, t := range f.tables {
		if t == table {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeInspector) Columns(_ context.Context, table string) ([]database.Column, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.columns[table], nil
}

func (f *fakeInspector) ForeignKeys(_ context.Context, table string) ([]database.ForeignKey, error) {
	fks := f.fks[table]
	if fks == nil {
		fks = []database.ForeignKey{}
	}
	return fks, nil
}

func (f *fakeInspector) Indexes(context.Context, string) ([]database.Index, error) {
	return []database.Index{{Name: "PRIMARY", Column: "id", SeqInIndex: 1}}, nil
}

func (f *fakeInspector) TableSize(context.Context, string) (*database.TableSize, error) {
	return &database.TableSize{Rows: 10, SizeMB: 0.02}, nil
}

func shop() *fakeInspector {
	id := database.Column{Name: "id", Type: "int", Key: "PRI"}
	return &fakeInspector{
		tables: []string{"customers", "order_items", "orders", "products"},
		columns: map[string][]database.Column{
			"customers":   {id, {Name: "name", Type: "varchar"}},
			"orders":      {id, {Name: "customer_id", Type: "int", Key: "MUL"}},
			"order_items": {{Name: "order_id", Type: "int", Key: "PRI"}, {Name: "product_id", Type: "int", Key: "PRI"}},
			"products":    {id, {Name: "supplier_id", Type: "int", Nullable: true}},
		},
		fks: map[string][]database.ForeignKey{
			"orders": {{Column: "customer_id", ReferencesTable: "customers", ReferencesColumn: "id", ConstraintName: "fk_orders_customer"}},
			"order_items": {
				{Column: "order_id", ReferencesTable: "orders", ReferencesColumn: "id", ConstraintName: "fk_items_order"},
				{Column: "product_id", ReferencesTable: "products", ReferencesColumn: "id", ConstraintName: "fk_items_product"},
			},
		},
	}
}

func TestInformation(t *testing.T) {
	info, err := NewService(shop()).Information(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "shop", info.DatabaseInfo.CurrentDB)
	assert.Equal(t, 4, info.Summary.NumTables)
	assert.Equal(t, []string{"customers", "order_items", "orders", "products"}, info.Summary.Tables)
	assert.Equal(t, 3, info.Summary.NumRelationships)
	require.NotNil(t, info.Summary.MostRelatedTable)
	assert.Equal(t, "order_items", *info.Summary.MostRelatedTable)
	assert.Equal(t, 2, info.Summary.MostRelationsCount)

	assert.Equal(t, []string{"order_id", "product_id"}, info.Structure["order_items"].PrimaryKeys)
	assert.Equal(t, []string{"id"}, info.Structure["customers"].PrimaryKeys)
	assert.Empty(t, info.Structure["customers"].ForeignKeys)

	rel, ok := info.Relationships["orders.customer_id → customers.id"]
	require.True(t, ok)
	assert.Equal(t, Relationship{
		FromTable: "orders", FromColumn: "customer_id",
		ToTable: "customers", ToColumn: "id", Constraint: "fk_orders_customer",
	}, rel)
}

func TestInformationTieGoesToFirstTable(t *testing.T) {
	f := shop()
	f.fks["orders"] = append(f.fks["orders"], database.ForeignKey{
		Column: "billing_id", ReferencesTable: "customers", ReferencesColumn: "id", ConstraintName: "fk_orders_billing",
	})

	info, err := NewService(f).Information(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "order_items", *info.Summary.MostRelatedTable)
	assert.Equal(t, 2, info.Summary.MostRelationsCount)
}

func TestInformationWithoutRelationships(t *testing.T) {
	f := shop()
	f.fks = nil

	info, err := NewService(f).Information(context.Background())
	require.NoError(t, err)
	assert.Nil(t, info.Summary.MostRelatedTable)
	assert.Zero(t, info.Summary.MostRelationsCount)
	assert.Empty(t, info.Relationships)
}

func TestInformationNoTables(t *testing.T) {
	_, err := NewService(&fakeInspector{}).Information(context.Background())
	assert.ErrorIs(t, err, ErrNoTables)
}

func TestInformationPropagatesErrors(t *testing.T) {
	f := shop()
	f.err = errors.New("connection reset")

	_, err := NewService(f).Information(context.Background())
	assert.ErrorContains(t, err, "connection reset")
}

func TestTable(t *testing.T) {
	s := NewService(shop())

	detail, err := s.Table(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", detail.Name)
	assert.Equal(t, []string{"id"}, detail.PrimaryKeys)
	assert.Len(t, detail.ForeignKeys, 1)
	assert.Len(t, detail.Indexes, 1)
	assert.EqualValues(t, 10, detail.Size.Rows)

	_, err = s.Table(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTableNotFound)
}
