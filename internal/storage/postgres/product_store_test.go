package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/normalize"
)

func TestUpsertProductsWritesEveryRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProductStoreWithPool(mock, "products")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	records := []normalize.Record{
		{CreateDate: now, Link: "https://example.com/p/1", ID: "1", Name: "Кофе", RegularPrice: "199"},
		{CreateDate: now, Link: "https://example.com/p/2", ID: "2", Name: "Чай", Brand: "Greenfield"},
	}
	for _, rec := range records {
		mock.ExpectExec("INSERT INTO products").
			WithArgs(rec.Link, "run-1", rec.CreateDate, rec.ID, rec.Name, rec.RegularPrice, rec.PromotionalPrice, rec.Brand).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	require.NoError(t, store.UpsertProducts(context.Background(), "run-1", records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProductsStopsOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProductStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO products").WillReturnError(errors.New("connection lost"))

	err = store.UpsertProducts(context.Background(), "run-1", []normalize.Record{
		{Link: "https://example.com/p/1"},
		{Link: "https://example.com/p/2"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://example.com/p/1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProductStoreWithPool(mock, "metro_products")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS metro_products").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewProductStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewProductStoreWithPool(nil, "products")
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewProductStoreWithPool(mock, "products; DROP TABLE x")
	assert.Error(t, err)

	_, err = NewProductStore(context.Background(), ProductStoreConfig{})
	assert.Error(t, err)

	var nilStore *ProductStore
	assert.Error(t, nilStore.UpsertProducts(context.Background(), "run-1", nil))
	nilStore.Close()
}
