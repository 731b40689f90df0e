package learning

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

	"github.com/at-ishikawa/studycore/internal/srs"
)

func newMockRepository(t *testing.T) (*DBRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDBRepository(sqlx.NewDb(db, "mysql")), mock
}

func TestDBRepository_FindByID(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta("SELECT * FROM learning_items WHERE owner_id = ? AND id = ?")

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		want      *Item
		wantErrIs error
		wantErr   bool
	}{
		{
			name: "returns the item",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(itemColumns).
					AddRow("item-1", "owner-1", "deck-1", "mitochondria", "powerhouse", "biology", "cells", "",
						2.6, 1, 1, now, 5, 1, 0, "learning", now, now)
				mock.ExpectQuery(query).WithArgs("owner-1", "item-1").WillReturnRows(rows)
			},
			want: &Item{
				ID:             "item-1",
				OwnerID:        "owner-1",
				CollectionID:   sql.NullString{String: "deck-1", Valid: true},
				Front:          "mitochondria",
				Back:           "powerhouse",
				Subject:        "biology",
				Topic:          "cells",
				EaseFactor:     2.6,
				IntervalDays:   1,
				Repetitions:    1,
				NextReviewDate: now,
				LastQuality:    sql.NullInt64{Int64: 5, Valid: true},
				CorrectCount:   1,
				Status:         srs.StatusLearning,
				CreatedAt:      now,
				UpdatedAt:      now,
			},
		},
		{
			name: "missing item",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("owner-1", "item-1").WillReturnError(sql.ErrNoRows)
			},
			wantErrIs: ErrItemNotFound,
		},
		{
			name: "db error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("owner-1", "item-1").WillReturnError(fmt.Errorf("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepository(t)
			tt.setupMock(mock)

			got, err := repo.FindByID(context.Background(), "owner-1", "item-1")
			switch {
			case tt.wantErrIs != nil:
				assert.ErrorIs(t, err, tt.wantErrIs)
			case tt.wantErr:
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrItemNotFound)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDBRepository_BatchCreate(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first := NewItemRecord("item-1", "owner-1", NewItem{Front: "a", Back: "b", Topic: "t"}, now)
	second := NewItemRecord("item-2", "owner-1", NewItem{Front: "c", Back: "d", CollectionID: "deck-1"}, now)

	tests := []struct {
		name      string
		items     []*Item
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   bool
	}{
		{
			name:  "creates multiple items with multi-row insert",
			items: []*Item{first, second},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO learning_items \(id, owner_id, collection_id, .*\) VALUES \(.*\), \(.*\)`).
					WithArgs(
						"item-1", "owner-1", nil, "a", "b", "", "t", "", 2.5, 1, 0, now, nil, 0, 0, "new", now, now,
						"item-2", "owner-1", "deck-1", "c", "d", "", "", "", 2.5, 1, 0, now, nil, 0, 0, "new", now, now,
					).
					WillReturnResult(sqlmock.NewResult(0, 2))
				mock.ExpectCommit()
			},
		},
		{
			name:      "empty slice returns nil",
			items:     []*Item{},
			setupMock: func(mock sqlmock.Sqlmock) {},
		},
		{
			name:  "db error rolls back",
			items: []*Item{first},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO learning_items").WillReturnError(fmt.Errorf("duplicate entry"))
				mock.ExpectRollback()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepository(t)
			tt.setupMock(mock)

			err := repo.BatchCreate(context.Background(), tt.items)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDBRepository_RecordReview(t *testing.T) {
	now := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	item := &Item{
		ID:             "item-1",
		OwnerID:        "owner-1",
		EaseFactor:     2.6,
		IntervalDays:   1,
		Repetitions:    1,
		NextReviewDate: time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
		LastQuality:    sql.NullInt64{Int64: 5, Valid: true},
		CorrectCount:   1,
		Status:         srs.StatusLearning,
		UpdatedAt:      now,
	}
	log := &ReviewLog{
		ID: "log-1", ItemID: "item-1", OwnerID: "owner-1", Quality: 5, Correct: true,
		EaseFactor: 2.6, IntervalDays: 1, Repetitions: 1, Status: srs.StatusLearning,
		ResponseTimeMs: 1200, ReviewedAt: now,
	}

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantErrIs error
		wantErr   bool
	}{
		{
			name: "updates item and appends log",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE learning_items SET ease_factor = \\?").
					WithArgs(2.6, 1, 1, item.NextReviewDate, int64(5), 1, 0, "learning", now, "item-1", "owner-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO review_logs").
					WithArgs("log-1", "item-1", "owner-1", 5, true, 2.6, 1, 1, "learning", int64(1200), now).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "no matching row",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE learning_items").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			wantErrIs: ErrItemNotFound,
		},
		{
			name: "log insert failure rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE learning_items").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO review_logs").WillReturnError(fmt.Errorf("disk full"))
				mock.ExpectRollback()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepository(t)
			tt.setupMock(mock)

			err := repo.RecordReview(context.Background(), item, log)
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

func TestDBRepository_CountByStatus(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM learning_items WHERE owner_id = ? GROUP BY status")).
		WithArgs("owner-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("new", 3).
			AddRow("review", 2))

	got, err := repo.CountByStatus(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, map[srs.Status]int{srs.StatusNew: 3, srs.StatusReview: 2}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRepository_FindDue(t *testing.T) {
	today := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM learning_items WHERE owner_id = ? AND next_review_date <= ? ORDER BY next_review_date, created_at LIMIT ?")).
		WithArgs("owner-1", today, 10).
		WillReturnRows(sqlmock.NewRows(itemColumns).
			AddRow("item-1", "owner-1", nil, "a", "b", "", "", "", 2.5, 1, 0, today, nil, 0, 0, "new", today, today))

	got, err := repo.FindDue(context.Background(), "owner-1", today, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "item-1", got[0].ID)
	assert.False(t, got[0].CollectionID.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}
