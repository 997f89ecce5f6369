package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func mockPool(t *testing.T, cfg PoolConfig, opts ...PoolOption) (*PoolManager, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	pm, err := NewPoolManager(gormDB, cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	return pm, mock
}

type statsSpy struct {
	mu    sync.Mutex
	calls []string
}

func (s *statsSpy) RecordDBConnections(database string, open, idle int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, database)
}

func (s *statsSpy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestNewPoolManager(t *testing.T) {
	pm, _ := mockPool(t, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5})
	assert.Equal(t, 10, pm.Stats().MaxOpenConnections)
	assert.Equal(t, "postgres", pm.Driver())

	_, err := NewPoolManager(nil, PoolConfig{}, nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	pm, mock := mockPool(t, PoolConfig{})

	mock.ExpectPing()
	assert.NoError(t, pm.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.ErrorIs(t, pm.Ping(context.Background()), sql.ErrConnDone)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	pm, mock := mockPool(t, PoolConfig{})

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close())

	assert.ErrorIs(t, pm.Ping(context.Background()), ErrPoolClosed)
	assert.ErrorIs(t, pm.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }), ErrPoolClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WatchReportsStats(t *testing.T) {
	spy := &statsSpy{}
	pm, mock := mockPool(t, PoolConfig{HealthCheckInterval: 5 * time.Millisecond}, WithStatsRecorder(spy))
	mock.MatchExpectationsInOrder(false)
	for range 200 {
		mock.ExpectPing()
	}

	require.Eventually(t, func() bool { return spy.count() >= 2 }, time.Second, 5*time.Millisecond)

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	seen := spy.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, seen, spy.count(), "no probes after Close")
	assert.Equal(t, "postgres", spy.calls[0])
}

func TestPoolManager_WithTransaction(t *testing.T) {
	pm, mock := mockPool(t, PoolConfig{})

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, pm.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.ErrorIs(t, pm.WithTransaction(context.Background(), func(*gorm.DB) error {
		return assert.AnError
	}), assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	deadlock := errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")

	t.Run("retries lock conflicts", func(t *testing.T) {
		pm, mock := mockPool(t, PoolConfig{})
		mock.ExpectBegin()
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectCommit()

		attempts := 0
		err := pm.WithTransactionRetry(context.Background(), 3, func(*gorm.DB) error {
			attempts++
			if attempts == 1 {
				return deadlock
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		pm, mock := mockPool(t, PoolConfig{})
		mock.ExpectBegin()
		mock.ExpectRollback()

		attempts := 0
		err := pm.WithTransactionRetry(context.Background(), 3, func(*gorm.DB) error {
			attempts++
			return errors.New("duplicate key value violates unique constraint")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		pm, mock := mockPool(t, PoolConfig{})
		for range 2 {
			mock.ExpectBegin()
			mock.ExpectRollback()
		}

		attempts := 0
		err := pm.WithTransactionRetry(context.Background(), 2, func(*gorm.DB) error {
			attempts++
			return deadlock
		})
		assert.ErrorIs(t, err, deadlock)
		assert.ErrorContains(t, err, "after 2 attempts")
		assert.Equal(t, 2, attempts)
	})
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("deadlock detected"), true},
		{errors.New("pq: could not serialize access due to concurrent update (SQLSTATE 40001)"), true},
		{errors.New("Error 1205: Lock wait timeout exceeded"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("UNIQUE constraint failed: provider_attendances.user_num"), false},
		{ErrPoolClosed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "postgresql", "mysql", "sqlite", "sqlite3", "SQLite"} {
		d, err := Dialector(driver, "dsn")
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}

	_, err := Dialector("", "dsn")
	assert.Error(t, err)
	_, err = Dialector("mongodb", "dsn")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestConnect_SQLite(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "attendance.db")
	pm, err := Connect("sqlite", dsn, PoolConfig{MaxOpenConns: 1}, nil)
	require.NoError(t, err)
	defer pm.Close()

	assert.Equal(t, "sqlite", pm.Driver())
	require.NoError(t, pm.Ping(context.Background()))
	var one int
	require.NoError(t, pm.DB().Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)

	_, err = Connect("oracle", "dsn", PoolConfig{}, nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}
