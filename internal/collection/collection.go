// Package collection stores the decks and exams that own learning content.
package collection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/studycore/internal/database"
)

var ErrCollectionNotFound = errors.New("collection not found")

type Kind string

const (
	KindDeck Kind = "deck"
	KindExam Kind = "exam"
)

func (k Kind) Valid() bool {
	return k == KindDeck || k == KindExam
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusReady      Status = "ready"
)

// Collection groups the items or questions produced for one owner.
type Collection struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Kind      Kind      `db:"kind"`
	Title     string    `db:"title"`
	Status    Status    `db:"status"`
	ItemCount int       `db:"item_count"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Repository defines operations for managing collections.
type Repository interface {
	Create(ctx context.Context, c *Collection) error
	FindByID(ctx context.Context, ownerID, id string) (*Collection, error)
	// MarkReady sets the final item count and flips the collection to ready.
	MarkReady(ctx context.Context, id string, itemCount int, now time.Time) error
	SetStatus(ctx context.Context, id string, status Status, now time.Time) error
	Delete(ctx context.Context, id string) error
}

// DBRepository implements Repository on a *sqlx.DB or inside a *sqlx.Tx.
type DBRepository struct {
	db database.Queryer
}

func NewDBRepository(db database.Queryer) *DBRepository {
	return &DBRepository{db: db}
}

var collectionColumns = []string{"id", "owner_id", "kind", "title", "status", "item_count", "created_at", "updated_at"}

func (r *DBRepository) Create(ctx context.Context, c *Collection) error {
	query := r.db.Rebind(database.BuildMultiRowInsert("collections", collectionColumns, 1))
	if _, err := r.db.ExecContext(ctx, query,
		c.ID, c.OwnerID, c.Kind, c.Title, c.Status, c.ItemCount, c.CreatedAt, c.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert collection: %w", err)
	}
	return nil
}

func (r *DBRepository) FindByID(ctx context.Context, ownerID, id string) (*Collection, error) {
	var c Collection
	query := r.db.Rebind("SELECT * FROM collections WHERE owner_id = ? AND id = ?")
	if err := sqlx.GetContext(ctx, r.db, &c, query, ownerID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
		}
		return nil, fmt.Errorf("find collection(%s): %w", id, err)
	}
	return &c, nil
}

func (r *DBRepository) MarkReady(ctx context.Context, id string, itemCount int, now time.Time) error {
	query := r.db.Rebind("UPDATE collections SET status = ?, item_count = ?, updated_at = ? WHERE id = ?")
	return r.update(ctx, id, query, StatusReady, itemCount, now, id)
}

func (r *DBRepository) SetStatus(ctx context.Context, id string, status Status, now time.Time) error {
	query := r.db.Rebind("UPDATE collections SET status = ?, updated_at = ? WHERE id = ?")
	return r.update(ctx, id, query, status, now, id)
}

func (r *DBRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind("DELETE FROM collections WHERE id = ?")
	return r.update(ctx, id, query, id)
}

func (r *DBRepository) update(ctx context.Context, id, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update collection(%s): %w", id, err)
	}
	changed, err := database.RowsAffected(result)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}
	return nil
}
