package refreshtoken

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGormRepoWithMock(t *testing.T) (RecordRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewRecordRepository(gdb), mock
}

var recordColumns = []string{
	"id", "created_at", "updated_at", "deleted_at",
	"user_id", "token", "family_id", "is_revoked", "revoked_reason", "compromised", "expires_at",
}

func TestGormFindByToken(t *testing.T) {
	repo, mock := newGormRepoWithMock(t)
	exp := epoch.Add(time.Hour)

	mock.ExpectQuery(`SELECT \* FROM "refresh_token_records" WHERE token = \$1`).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(3, epoch, epoch, nil, 42, Digest("r0"), "fam", false, "", false, exp))

	got, err := repo.FindByToken(context.Background(), Digest("r0"))
	require.NoError(t, err)
	assert.Equal(t, uint(3), got.ID)
	assert.Equal(t, uint(42), got.UserID)
	assert.Equal(t, "fam", got.FamilyID)
	assert.True(t, got.ExpiresAt.Equal(exp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormFindByTokenNotFound(t *testing.T) {
	repo, mock := newGormRepoWithMock(t)

	mock.ExpectQuery(`SELECT \* FROM "refresh_token_records" WHERE token = \$1`).
		WillReturnRows(sqlmock.NewRows(recordColumns))

	_, err := repo.FindByToken(context.Background(), Digest("r0"))
	assert.ErrorIs(t, err, ErrRecordNotFoundByGivenToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormFindByTokenDatabaseDown(t *testing.T) {
	repo, mock := newGormRepoWithMock(t)

	mock.ExpectQuery(`SELECT \* FROM "refresh_token_records"`).
		WillReturnError(errors.New("db down"))

	_, err := repo.FindByToken(context.Background(), Digest("r0"))
	assert.ErrorIs(t, err, ErrUnresponsiveDatabase)
	assert.NotErrorIs(t, err, ErrRecordNotFoundByGivenToken)
}

func TestGormMarkRevoked(t *testing.T) {
	repo, mock := newGormRepoWithMock(t)
	rec := &RefreshTokenRecord{Token: Digest("r0")}
	rec.ID = 3

	mock.ExpectExec(`UPDATE "refresh_token_records" SET .* WHERE \(id = \$\d+ AND is_revoked = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "refresh_token_records" SET .* WHERE \(id = \$\d+ AND is_revoked = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.MarkRevoked(context.Background(), rec, ReasonConsumed)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, rec.IsRevoked)
	assert.Equal(t, ReasonConsumed, rec.RevokedReason)

	stale := &RefreshTokenRecord{Token: Digest("r0")}
	stale.ID = 3
	changed, err = repo.MarkRevoked(context.Background(), stale, ReasonConsumed)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, stale.IsRevoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRevokeFamily(t *testing.T) {
	repo, mock := newGormRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("fam").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "refresh_token_records" SET .* WHERE \(family_id = \$\d+ AND is_revoked = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE "refresh_token_records" SET "compromised"=\$\d+.* WHERE \(family_id = \$\d+ AND compromised = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.RevokeFamily(context.Background(), "fam")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRevokeFamilyRollsBackOnFailure(t *testing.T) {
	repo, mock := newGormRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "refresh_token_records"`).
		WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	_, err := repo.RevokeFamily(context.Background(), "fam")
	assert.ErrorIs(t, err, ErrUnresponsiveDatabase)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormSaveRefusesCompromisedFamily(t *testing.T) {
	repo, mock := newGormRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs("fam").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "refresh_token_records" WHERE \(family_id = \$1 AND compromised = \$2\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), &RefreshTokenRecord{
		UserID:    42,
		Token:     Digest("r1"),
		FamilyID:  "fam",
		ExpiresAt: epoch.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrFamilyCompromised)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormSaveInsertsRecord(t *testing.T) {
	repo, mock := newGormRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "refresh_token_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO "refresh_token_records" .* ON CONFLICT \("token"\) DO NOTHING RETURNING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
	mock.ExpectCommit()

	rec := &RefreshTokenRecord{
		UserID:    42,
		Token:     Digest("r1"),
		FamilyID:  "fam",
		ExpiresAt: epoch.Add(time.Hour),
	}
	require.NoError(t, repo.Save(context.Background(), rec))
	assert.Equal(t, uint(9), rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
