package collection

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*DBRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDBRepository(sqlx.NewDb(db, "mysql")), mock
}

func TestDBRepository_Create(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	repo, mock := newMockRepository(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO collections (id, owner_id, kind, title, status, item_count, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")).
		WithArgs("col-1", "owner-1", "exam", "Cardiology", "generating", 0, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &Collection{
		ID: "col-1", OwnerID: "owner-1", Kind: KindExam, Title: "Cardiology",
		Status: StatusGenerating, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRepository_FindByID(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta("SELECT * FROM collections WHERE owner_id = ? AND id = ?")

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		want      *Collection
		wantErrIs error
		wantErr   bool
	}{
		{
			name: "found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("owner-1", "col-1").
					WillReturnRows(sqlmock.NewRows(collectionColumns).
						AddRow("col-1", "owner-1", "deck", "Biology", "ready", 12, now, now))
			},
			want: &Collection{
				ID: "col-1", OwnerID: "owner-1", Kind: KindDeck, Title: "Biology",
				Status: StatusReady, ItemCount: 12, CreatedAt: now, UpdatedAt: now,
			},
		},
		{
			name: "not found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("owner-1", "col-1").WillReturnError(sql.ErrNoRows)
			},
			wantErrIs: ErrCollectionNotFound,
		},
		{
			name: "db error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("owner-1", "col-1").WillReturnError(fmt.Errorf("bad connection"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepository(t)
			tt.setupMock(mock)

			got, err := repo.FindByID(context.Background(), "owner-1", "col-1")
			switch {
			case tt.wantErrIs != nil:
				assert.ErrorIs(t, err, tt.wantErrIs)
			case tt.wantErr:
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrCollectionNotFound)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDBRepository_Updates(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		call      func(r *DBRepository) error
		setupMock func(mock sqlmock.Sqlmock)
		wantErrIs error
		wantErr   bool
	}{
		{
			name: "mark ready",
			call: func(r *DBRepository) error { return r.MarkReady(context.Background(), "col-1", 7, now) },
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE collections SET status = ?, item_count = ?, updated_at = ? WHERE id = ?")).
					WithArgs("ready", 7, now, "col-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "set status on missing collection",
			call: func(r *DBRepository) error {
				return r.SetStatus(context.Background(), "col-1", StatusGenerating, now)
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE collections SET status = ?, updated_at = ? WHERE id = ?")).
					WithArgs("generating", now, "col-1").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErrIs: ErrCollectionNotFound,
		},
		{
			name: "delete",
			call: func(r *DBRepository) error { return r.Delete(context.Background(), "col-1") },
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("DELETE FROM collections WHERE id = ?")).
					WithArgs("col-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "delete failure",
			call: func(r *DBRepository) error { return r.Delete(context.Background(), "col-1") },
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("DELETE FROM collections").WillReturnError(fmt.Errorf("lock wait timeout"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepository(t)
			tt.setupMock(mock)

			err := tt.call(repo)
			switch {
			case tt.wantErrIs != nil:
				assert.ErrorIs(t, err, tt.wantErrIs)
			case tt.wantErr:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestKind_Valid(t *testing.T) {
	assert.True(t, KindDeck.Valid())
	assert.True(t, KindExam.Valid())
	assert.False(t, Kind("quiz").Valid())
}
