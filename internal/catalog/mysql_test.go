package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/heap-analysis/pkg/errors"
)

func TestMySQLCatalog_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cat := NewMySQLCatalog(db)

	t.Run("Save_Success", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO heap_dumps").
			WillReturnResult(sqlmock.NewResult(1, 1))

		rec := sampleRecord(t, "/data/app.hprof")
		err := cat.Save(context.Background(), rec)
		require.NoError(t, err)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCatalog_GetByPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cat := NewMySQLCatalog(db)
	columns := []string{
		"id", "path", "size_bytes", "id_size", "timestamp", "parse_mode",
		"class_count", "object_count", "gc_root_count",
		"index_dir", "duration_ms", "summary", "created_at", "updated_at",
	}

	t.Run("GetByPath_Success", func(t *testing.T) {
		now := time.Now()
		rows := sqlmock.NewRows(columns).AddRow(
			int64(1), "/data/app.hprof", int64(4096), uint32(8), now, "indexed",
			3, 42, 5, "/data/app.hprof.idx", int64(1500),
			[]byte(`{"dump_path":"/data/app.hprof"}`), now, now,
		)

		mock.ExpectQuery("SELECT id, path, size_bytes").
			WithArgs("/data/app.hprof").
			WillReturnRows(rows)

		rec, err := cat.GetByPath(context.Background(), "/data/app.hprof")
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.ID)
		assert.Equal(t, 42, rec.ObjectCount)
		assert.Equal(t, "indexed", rec.ParseMode)
	})

	t.Run("GetByPath_NotFound", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, path, size_bytes").
			WithArgs("/data/missing.hprof").
			WillReturnRows(sqlmock.NewRows(columns))

		rec, err := cat.GetByPath(context.Background(), "/data/missing.hprof")
		assert.Nil(t, rec)
		assert.True(t, apperrors.IsNotFound(err))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCatalog_Recent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cat := NewMySQLCatalog(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "path", "size_bytes", "id_size", "timestamp", "parse_mode",
		"class_count", "object_count", "gc_root_count",
		"index_dir", "duration_ms", "summary", "created_at", "updated_at",
	}).AddRow(
		int64(2), "/data/b.hprof", int64(2048), uint32(8), now, "in-memory",
		1, 10, 2, "", int64(50), []byte(`{}`), now, now,
	).AddRow(
		int64(1), "/data/a.hprof", int64(1024), uint32(4), now, "indexed",
		2, 20, 3, "/data/a.hprof.idx", int64(900), []byte(`{}`), now, now,
	)

	mock.ExpectQuery("SELECT id, path, size_bytes").
		WithArgs(10).
		WillReturnRows(rows)

	recs, err := cat.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "/data/b.hprof", recs[0].Path)
	assert.Equal(t, "/data/a.hprof", recs[1].Path)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCatalog_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cat := NewMySQLCatalog(db)

	t.Run("Delete_Success", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM heap_dumps").
			WithArgs("/data/app.hprof").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := cat.Delete(context.Background(), "/data/app.hprof")
		require.NoError(t, err)
	})

	t.Run("Delete_NotFound", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM heap_dumps").
			WithArgs("/data/missing.hprof").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := cat.Delete(context.Background(), "/data/missing.hprof")
		assert.True(t, apperrors.IsNotFound(err))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}
