package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bazaarhq/bazaar-backend/pkg/config"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
)

type payoutRow struct {
	ID     int
	Amount decimal.Decimal `gorm:"type:text"`
}

func openClient(t *testing.T) *Client {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&payoutRow{}))
	return Wrap(conn)
}

func countPayouts(t *testing.T, client *Client) int64 {
	t.Helper()
	var count int64
	require.NoError(t, client.DB().Model(&payoutRow{}).Count(&count).Error)
	return count
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	client := openClient(t)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&payoutRow{Amount: decimal.RequireFromString("45.00")}).Error
	}))
	assert.EqualValues(t, 1, countPayouts(t, client))

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&payoutRow{Amount: decimal.RequireFromString("5.00")}).Error; err != nil {
			return err
		}
		return errors.New("transfer rejected")
	})
	require.EqualError(t, err, "transfer rejected")
	assert.EqualValues(t, 1, countPayouts(t, client))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	client := openClient(t)

	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			tx.Create(&payoutRow{Amount: decimal.RequireFromString("1.00")})
			panic("mid-transaction")
		})
	})
	assert.EqualValues(t, 0, countPayouts(t, client))
}

func TestPingAndClose(t *testing.T) {
	client := openClient(t)
	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, client.Close())
	assert.Error(t, client.Ping(context.Background()))
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{DSN: "x", Driver: "mysql"}, nil)
	require.ErrorContains(t, err, "unsupported database driver")

	_, err = New(context.Background(), config.DBConfig{}, nil)
	require.Error(t, err)
}

func TestNewOpensSQLite(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{DSN: "file::memory:", Driver: "sqlite"}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()))
}

func TestQueryLoggerSkipsNotFoundAndReportsSlow(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf, Level: zerolog.DebugLevel})
	ql := newQueryLogger(logg)
	sql := func() (string, int64) { return "SELECT * FROM settlement_records", 0 }

	ql.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	ql.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	assert.Contains(t, buf.String(), "db.slow_query")

	buf.Reset()
	ql.Trace(context.Background(), time.Now(), sql, errors.New("relation does not exist"))
	assert.True(t, strings.Contains(buf.String(), "db.query_failed"))

	buf.Reset()
	ql.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), sql, errors.New("ignored"))
	assert.Empty(t, buf.String())
}
