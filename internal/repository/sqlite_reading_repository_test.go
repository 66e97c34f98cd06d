package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*SQLiteReadingRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &SQLiteReadingRepository{db: db}, mock
}

func TestSQLitePutReadingIfAbsentReportsConflictAsFalse(t *testing.T) {
	repo, mock := newMockRepository(t)
	r := reading("22039", 1704103200, "1.22")

	mock.ExpectExec("INSERT INTO readings").
		WithArgs("22039", int64(1704103200), "1.22").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.PutReadingIfAbsent(context.Background(), r)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLitePutReadingIfAbsentPropagatesStoreErrors(t *testing.T) {
	repo, mock := newMockRepository(t)
	diskErr := errors.New("disk I/O error")

	mock.ExpectExec("INSERT INTO readings").WillReturnError(diskErr)

	inserted, err := repo.PutReadingIfAbsent(context.Background(), reading("22039", 100, "1.1"))
	assert.False(t, inserted)
	assert.ErrorIs(t, err, diskErr)
}

func TestSQLitePutReadingsBatchRollsBackOnError(t *testing.T) {
	repo, mock := newMockRepository(t)
	lockErr := errors.New("database is locked")

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO readings")
	prep.ExpectExec().WithArgs("22039", int64(100), "1.1").WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("22039", int64(200), "1.2").WillReturnError(lockErr)
	mock.ExpectRollback()

	err := repo.PutReadingsBatch(context.Background(), "22039", []entities.Reading{
		reading("22039", 100, "1.1"),
		reading("22039", 200, "1.2"),
	})
	assert.ErrorIs(t, err, lockErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteGetAllReadingsRejectsCorruptLevels(t *testing.T) {
	repo, mock := newMockRepository(t)

	rows := sqlmock.NewRows([]string{"station_id", "timestamp", "level"}).
		AddRow("22039", int64(300), "not-a-number")
	mock.ExpectQuery("SELECT station_id, timestamp, level").WillReturnRows(rows)

	_, err := repo.GetAllReadings(context.Background(), "22039")
	assert.Error(t, err)
}

func TestSQLiteReadingsSurviveReopen(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "river-levels-test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "test-readings.db")
	ctx := context.Background()

	repo, err := NewSQLiteReadingRepository(dbPath)
	require.NoError(t, err)
	inserted, err := repo.PutReadingIfAbsent(ctx, reading("22039", 1704103200, "1.22"))
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, repo.Close())

	repo, err = NewSQLiteReadingRepository(dbPath)
	require.NoError(t, err)
	defer repo.Close()

	inserted, err = repo.PutReadingIfAbsent(ctx, reading("22039", 1704103200, "1.22"))
	require.NoError(t, err)
	assert.False(t, inserted)

	all, err := repo.GetAllReadings(ctx, "22039")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "1.22", all[0].Level.String())
}

func TestSQLiteCreatesMissingDirectories(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "data", "readings.db")

	repo, err := NewSQLiteReadingRepository(dbPath)
	require.NoError(t, err)
	defer repo.Close()

	inserted, err := repo.PutReadingIfAbsent(context.Background(), reading("22039", 1704103200, "1.22"))
	require.NoError(t, err)
	assert.True(t, inserted)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}
