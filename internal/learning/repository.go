// Package learning stores learning items and applies ratings to them.
package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/studycore/internal/database"
	"github.com/at-ishikawa/studycore/internal/srs"
)

// Repository defines operations for managing learning items.
type Repository interface {
	Create(ctx context.Context, item *Item) error
	BatchCreate(ctx context.Context, items []*Item) error
	FindByID(ctx context.Context, ownerID, id string) (*Item, error)
	FindDue(ctx context.Context, ownerID string, today time.Time, limit int) ([]Item, error)
	RecordReview(ctx context.Context, item *Item, log *ReviewLog) error
	CountByStatus(ctx context.Context, ownerID string) (map[srs.Status]int, error)
	CountDue(ctx context.Context, ownerID string, today time.Time) (int, error)
}

// DBRepository implements Repository on a *sqlx.DB or inside a *sqlx.Tx.
type DBRepository struct {
	db database.Queryer
}

// NewDBRepository creates a new DBRepository.
func NewDBRepository(db database.Queryer) *DBRepository {
	return &DBRepository{db: db}
}

var itemColumns = []string{
	"id", "owner_id", "collection_id", "front", "back", "subject", "topic", "subtopic",
	"ease_factor", "interval_days", "repetitions", "next_review_date", "last_quality",
	"correct_count", "incorrect_count", "status", "created_at", "updated_at",
}

func (r *DBRepository) Create(ctx context.Context, item *Item) error {
	return r.BatchCreate(ctx, []*Item{item})
}

// BatchCreate inserts items in a single transaction using a multi-row INSERT.
func (r *DBRepository) BatchCreate(ctx context.Context, items []*Item) error {
	if len(items) == 0 {
		return nil
	}

	return database.WithinTx(ctx, r.db, func(ctx context.Context, tx database.Queryer) error {
		query := database.BuildMultiRowInsert("learning_items", itemColumns, len(items))

		var args []interface{}
		for _, i := range items {
			args = append(args,
				i.ID, i.OwnerID, i.CollectionID, i.Front, i.Back, i.Subject, i.Topic, i.Subtopic,
				i.EaseFactor, i.IntervalDays, i.Repetitions, i.NextReviewDate, i.LastQuality,
				i.CorrectCount, i.IncorrectCount, i.Status, i.CreatedAt, i.UpdatedAt,
			)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("insert learning items: %w", err)
		}
		return nil
	})
}

func (r *DBRepository) FindByID(ctx context.Context, ownerID, id string) (*Item, error) {
	var item Item
	query := r.db.Rebind("SELECT * FROM learning_items WHERE owner_id = ? AND id = ?")
	if err := sqlx.GetContext(ctx, r.db, &item, query, ownerID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		return nil, fmt.Errorf("find learning item(%s): %w", id, err)
	}
	return &item, nil
}

// FindDue returns items due on or before today, the longest overdue first.
func (r *DBRepository) FindDue(ctx context.Context, ownerID string, today time.Time, limit int) ([]Item, error) {
	var items []Item
	query := r.db.Rebind("SELECT * FROM learning_items WHERE owner_id = ? AND next_review_date <= ? ORDER BY next_review_date, created_at LIMIT ?")
	if err := sqlx.SelectContext(ctx, r.db, &items, query, ownerID, today, limit); err != nil {
		return nil, fmt.Errorf("find due learning items: %w", err)
	}
	return items, nil
}

// RecordReview persists the rated item and appends its review log atomically.
func (r *DBRepository) RecordReview(ctx context.Context, item *Item, log *ReviewLog) error {
	return database.WithinTx(ctx, r.db, func(ctx context.Context, tx database.Queryer) error {
		result, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE learning_items
SET ease_factor = ?, interval_days = ?, repetitions = ?, next_review_date = ?, last_quality = ?,
correct_count = ?, incorrect_count = ?, status = ?, updated_at = ?
WHERE id = ? AND owner_id = ?`),
			item.EaseFactor, item.IntervalDays, item.Repetitions, item.NextReviewDate, item.LastQuality,
			item.CorrectCount, item.IncorrectCount, item.Status, item.UpdatedAt,
			item.ID, item.OwnerID,
		)
		if err != nil {
			return fmt.Errorf("update learning item(%s): %w", item.ID, err)
		}
		changed, err := database.RowsAffected(result)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("%w: %s", ErrItemNotFound, item.ID)
		}

		columns := []string{"id", "item_id", "owner_id", "quality", "correct", "ease_factor", "interval_days", "repetitions", "status", "response_time_ms", "reviewed_at"}
		if _, err := tx.ExecContext(ctx, tx.Rebind(database.BuildMultiRowInsert("review_logs", columns, 1)),
			log.ID, log.ItemID, log.OwnerID, log.Quality, log.Correct, log.EaseFactor, log.IntervalDays,
			log.Repetitions, log.Status, log.ResponseTimeMs, log.ReviewedAt,
		); err != nil {
			return fmt.Errorf("insert review log: %w", err)
		}
		return nil
	})
}

func (r *DBRepository) CountByStatus(ctx context.Context, ownerID string) (map[srs.Status]int, error) {
	var rows []struct {
		Status srs.Status `db:"status"`
		Count  int        `db:"count"`
	}
	query := r.db.Rebind("SELECT status, COUNT(*) AS count FROM learning_items WHERE owner_id = ? GROUP BY status")
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, ownerID); err != nil {
		return nil, fmt.Errorf("count learning items by status: %w", err)
	}

	counts := make(map[srs.Status]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *DBRepository) CountDue(ctx context.Context, ownerID string, today time.Time) (int, error) {
	var count int
	query := r.db.Rebind("SELECT COUNT(*) FROM learning_items WHERE owner_id = ? AND next_review_date <= ?")
	if err := sqlx.GetContext(ctx, r.db, &count, query, ownerID, today); err != nil {
		return 0, fmt.Errorf("count due learning items: %w", err)
	}
	return count, nil
}
