package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
)

func setupMockRepository(t *testing.T) (*GormRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := openGorm(mysql.New(mysql.Config{Conn: db, SkipInitializeWithVersion: true}))
	require.NoError(t, err)
	return NewGormRepository(gdb), mock
}

func TestMySQLRepository_Save(t *testing.T) {
	repo, mock := setupMockRepository(t)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO `compiled_classes`").
			WillReturnResult(sqlmock.NewResult(42, 1))
		mock.ExpectCommit()

		rec := record("com/example/Foo", "h1", "")
		require.NoError(t, repo.Save(context.Background(), rec))
		assert.Equal(t, int64(42), rec.ID)
	})

	t.Run("Failure", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO `compiled_classes`").
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err := repo.Save(context.Background(), record("com/example/Foo", "h1", ""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "com/example/Foo")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLRepository_FindBySourceHash(t *testing.T) {
	repo, mock := setupMockRepository(t)
	columns := []string{"id", "class_name", "source_hash", "options_hash", "rom_size", "result_code", "message", "artifact_key", "compression", "duration_ms", "created_at"}

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery("SELECT \\* FROM `compiled_classes` WHERE").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(int64(7), "com/example/Foo", "h1", "opts", 96, "", "", "rom/com/example/Foo/h1.rom", "zstd", int64(3), time.Now()))

		got, err := repo.FindBySourceHash(context.Background(), "h1", "opts")
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.ID)
		assert.Equal(t, "zstd", got.Compression)
		assert.True(t, got.Succeeded())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery("SELECT \\* FROM `compiled_classes` WHERE").
			WillReturnRows(sqlmock.NewRows(columns))

		_, err := repo.FindBySourceHash(context.Background(), "h2", "opts")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("QueryError", func(t *testing.T) {
		mock.ExpectQuery("SELECT \\* FROM `compiled_classes` WHERE").
			WillReturnError(errors.New("timeout"))

		_, err := repo.FindBySourceHash(context.Background(), "h3", "opts")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLRepository_CountByResult(t *testing.T) {
	repo, mock := setupMockRepository(t)

	mock.ExpectQuery("SELECT result_code, count\\(\\*\\) AS count FROM `compiled_classes` GROUP BY").
		WillReturnRows(sqlmock.NewRows([]string{"result_code", "count"}).
			AddRow("", int64(5)).
			AddRow("INVALID_BYTECODE", int64(2)))

	counts, err := repo.CountByResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{ResultOK: 5, "INVALID_BYTECODE": 2}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
