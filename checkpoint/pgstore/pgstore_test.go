package pgstore

import (
	"context"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetInsertsOnConflictUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newWithPool(mock)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs("c1", []byte("payload")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Set(context.Background(), "c1", []byte("payload")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newWithPool(mock)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM checkpoints")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, exists, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newWithPool(mock)

	rows := pgxmock.NewRows([]string{"data"}).AddRow([]byte("payload"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM checkpoints")).
		WithArgs("c1").
		WillReturnRows(rows)

	data, exists, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, []byte("payload"), data)
}

func TestEnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newWithPool(mock)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS checkpoints")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
