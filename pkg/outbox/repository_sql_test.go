package outbox

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	require.NoError(t, err)
	return db, mock
}

func TestFetchUnsentForDispatchSkipsLockedRows(t *testing.T) {
	db, mock := newMockGorm(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT \* FROM "outbox_events" WHERE sent = .+ AND quarantined_at IS NULL ORDER BY created_at ASC,id ASC LIMIT .+ FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "aggregate_type", "aggregate_id", "payload", "version"}).
			AddRow(uuid.NewString(), "PaymentInitiated", "payment", uuid.NewString(), []byte(`{}`), 0))
	mock.ExpectCommit()

	tx := db.Begin()
	rows, err := repo.FetchUnsentForDispatch(tx, 10)
	require.NoError(t, err)
	require.NoError(t, tx.Commit().Error)

	assert.Len(t, rows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSentTxUsesVersionGuard(t *testing.T) {
	db, mock := newMockGorm(t)
	repo := NewRepository(db)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "outbox_events" SET "sent"=.+,"sent_at"=.+,"version"=version \+ 1 WHERE \(?id = .+ AND version = .+ AND sent = .+`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx := db.Begin()
	ok, err := repo.MarkSentTx(tx, id, 3, time.Now())
	require.NoError(t, err)
	require.NoError(t, tx.Commit().Error)

	assert.False(t, ok, "zero rows affected means another dispatcher already marked it")
	assert.NoError(t, mock.ExpectationsWereMet())
}
