package sessionsecrets

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mlenoir/authvault/internal/common"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestGetByUserID_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "user_id", "encrypted_bio", "encrypted_refresh_token"}).
		AddRow("s-1", "u-1", "bio-blob", "rt-blob")
	mock.ExpectQuery(`SELECT .* FROM user_sensitive_data WHERE user_id = \$1`).
		WithArgs("u-1").
		WillReturnRows(rows)

	got, err := repo.GetByUserID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("GetByUserID error: %v", err)
	}
	if got.EncryptedRefreshToken != "rt-blob" || got.EncryptedBio != "bio-blob" {
		t.Fatalf("unexpected secret: %+v", got)
	}
}

func TestGetByUserID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM user_sensitive_data WHERE user_id = \$1`).
		WithArgs("u-ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByUserID(context.Background(), "u-ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGetByUserIDForUpdate_LocksRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "user_id", "encrypted_bio", "encrypted_refresh_token"}).
		AddRow("s-1", "u-1", "bio-blob", "rt-blob")
	mock.ExpectQuery(`(?s)SELECT .* FROM user_sensitive_data WHERE user_id = \$1.*FOR UPDATE`).
		WithArgs("u-1").
		WillReturnRows(rows)

	got, err := repo.GetByUserIDForUpdate(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("GetByUserIDForUpdate error: %v", err)
	}
	if got.EncryptedRefreshToken != "rt-blob" {
		t.Fatalf("unexpected secret: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestGetByUserIDForUpdate_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)SELECT .* FROM user_sensitive_data WHERE user_id = \$1.*FOR UPDATE`).
		WithArgs("u-ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByUserIDForUpdate(context.Background(), "u-ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestSaveRefreshToken_Upserts(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)INSERT\s+INTO\s+user_sensitive_data\s*\(user_id,\s*encrypted_refresh_token\).*ON\s+CONFLICT\s*\(user_id\)`
	mock.ExpectExec(q).
		WithArgs("u-1", "new-blob").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SaveRefreshToken(context.Background(), "u-1", "new-blob"); err != nil {
		t.Fatalf("SaveRefreshToken error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestSaveBio_Upserts(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)INSERT\s+INTO\s+user_sensitive_data\s*\(user_id,\s*encrypted_bio\).*ON\s+CONFLICT\s*\(user_id\)`
	mock.ExpectExec(q).
		WithArgs("u-1", "bio-blob").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SaveBio(context.Background(), "u-1", "bio-blob"); err != nil {
		t.Fatalf("SaveBio error: %v", err)
	}
}

func TestSaveRefreshToken_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+user_sensitive_data`).
		WillReturnError(errors.New("db down"))

	err := repo.SaveRefreshToken(context.Background(), "u-1", "blob")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
