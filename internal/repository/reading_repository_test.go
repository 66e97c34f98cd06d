package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reading(station string, unix int64, level string) entities.Reading {
	return entities.NewReading(station, time.Unix(unix, 0), decimal.RequireFromString(level))
}

func levels(readings []entities.Reading) []string {
	out := make([]string, len(readings))
	for i, r := range readings {
		out[i] = r.Level.String()
	}
	return out
}

func unixes(readings []entities.Reading) []int64 {
	out := make([]int64, len(readings))
	for i, r := range readings {
		out[i] = r.Timestamp.Unix()
	}
	return out
}

// repositoryContract is satisfied by every backend
func repositoryContract(t *testing.T, open func(t *testing.T) ReadingRepository) {
	ctx := context.Background()

	t.Run("conditional put is idempotent", func(t *testing.T) {
		repo := open(t)
		r := reading("22039", 1704103200, "1.22")

		inserted, err := repo.PutReadingIfAbsent(ctx, r)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = repo.PutReadingIfAbsent(ctx, r)
		require.NoError(t, err)
		assert.False(t, inserted)

		all, err := repo.GetAllReadings(ctx, "22039")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("conditional put keeps the first value", func(t *testing.T) {
		repo := open(t)

		_, err := repo.PutReadingIfAbsent(ctx, reading("22039", 100, "1.00"))
		require.NoError(t, err)
		inserted, err := repo.PutReadingIfAbsent(ctx, reading("22039", 100, "2.00"))
		require.NoError(t, err)
		assert.False(t, inserted)

		all, err := repo.GetAllReadings(ctx, "22039")
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, levels(all))
	})

	t.Run("batch put overwrites and the last value wins", func(t *testing.T) {
		repo := open(t)

		_, err := repo.PutReadingIfAbsent(ctx, reading("22039", 100, "1.00"))
		require.NoError(t, err)

		err = repo.PutReadingsBatch(ctx, "22039", []entities.Reading{
			reading("22039", 100, "1.50"),
			reading("22039", 200, "1.60"),
			reading("22039", 200, "1.70"),
		})
		require.NoError(t, err)

		all, err := repo.GetAllReadings(ctx, "22039")
		require.NoError(t, err)
		assert.Equal(t, []int64{100, 200}, unixes(all))
		assert.Equal(t, []string{"1.5", "1.7"}, levels(all))
	})

	t.Run("repeated batch put adds nothing", func(t *testing.T) {
		repo := open(t)
		batch := []entities.Reading{reading("22039", 100, "1.1"), reading("22039", 200, "1.2")}

		require.NoError(t, repo.PutReadingsBatch(ctx, "22039", batch))
		require.NoError(t, repo.PutReadingsBatch(ctx, "22039", batch))

		all, err := repo.GetAllReadings(ctx, "22039")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("range query is strictly greater than since", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.PutReadingsBatch(ctx, "22039", []entities.Reading{
			reading("22039", 300, "1.3"),
			reading("22039", 100, "1.1"),
			reading("22039", 200, "1.2"),
		}))
		require.NoError(t, repo.PutReadingsBatch(ctx, "other", []entities.Reading{
			reading("other", 400, "9.9"),
		}))

		got, err := repo.GetReadingsSince(ctx, "22039", time.Unix(200, 0))
		require.NoError(t, err)
		assert.Equal(t, []int64{300}, unixes(got))

		all, err := repo.GetAllReadings(ctx, "22039")
		require.NoError(t, err)
		assert.Equal(t, []int64{100, 200, 300}, unixes(all))
	})

	t.Run("unknown station is empty", func(t *testing.T) {
		repo := open(t)
		got, err := repo.GetAllReadings(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestMemoryReadingRepository(t *testing.T) {
	repositoryContract(t, func(t *testing.T) ReadingRepository {
		return NewMemoryReadingRepository()
	})
}

func TestSQLiteReadingRepository(t *testing.T) {
	repositoryContract(t, func(t *testing.T) ReadingRepository {
		repo, err := NewSQLiteReadingRepository(filepath.Join(t.TempDir(), "test-readings.db"))
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}

func TestDynamoDBReadingRepository(t *testing.T) {
	repositoryContract(t, func(t *testing.T) ReadingRepository {
		return NewDynamoDBReadingRepositoryWithClient(newFakeDynamoDB(2), "river_levels")
	})
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "cassandra"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestOpenMemoryBackend(t *testing.T) {
	repo, err := Open(context.Background(), Options{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryReadingRepository{}, repo)
}

func TestDedupeByKeyKeepsLastValueInFirstSeenOrder(t *testing.T) {
	got := dedupeByKey([]entities.Reading{
		reading("a", 1, "1"),
		reading("a", 2, "2"),
		reading("a", 1, "3"),
	})
	assert.Equal(t, []int64{1, 2}, unixes(got))
	assert.Equal(t, []string{"3", "2"}, levels(got))
}
