package learning

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/at-ishikawa/studycore/internal/srs"
)

// Service applies scheduling rules to learning items.
type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// NewItemRecord builds an unrated item for owner.
func NewItemRecord(id, ownerID string, in NewItem, now time.Time) *Item {
	state := srs.NewState(now)
	return &Item{
		ID:             id,
		OwnerID:        ownerID,
		CollectionID:   sql.NullString{String: in.CollectionID, Valid: in.CollectionID != ""},
		Front:          strings.TrimSpace(in.Front),
		Back:           strings.TrimSpace(in.Back),
		Subject:        in.Subject,
		Topic:          in.Topic,
		Subtopic:       in.Subtopic,
		EaseFactor:     state.EaseFactor,
		IntervalDays:   state.IntervalDays,
		Repetitions:    state.Repetitions,
		NextReviewDate: state.NextReviewDate,
		Status:         state.Status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func validateNewItem(in NewItem) error {
	if strings.TrimSpace(in.Front) == "" {
		return fmt.Errorf("%w: front is required", ErrInvalidItem)
	}
	if strings.TrimSpace(in.Back) == "" {
		return fmt.Errorf("%w: back is required", ErrInvalidItem)
	}
	return nil
}

func (s *Service) CreateItem(ctx context.Context, ownerID string, in NewItem) (*Item, error) {
	items, err := s.ImportItems(ctx, ownerID, []NewItem{in})
	if err != nil {
		return nil, err
	}
	return items[0], nil
}

// ImportItems creates all items or none of them.
func (s *Service) ImportItems(ctx context.Context, ownerID string, in []NewItem) ([]*Item, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: no items to import", ErrInvalidItem)
	}
	now := s.now().UTC()
	items := make([]*Item, 0, len(in))
	for i, n := range in {
		if err := validateNewItem(n); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		items = append(items, NewItemRecord(s.newID(), ownerID, n, now))
	}
	if err := s.repo.BatchCreate(ctx, items); err != nil {
		return nil, fmt.Errorf("repo.BatchCreate > %w", err)
	}
	slog.Default().Debug("learning items created", "owner_id", ownerID, "count", len(items))
	return items, nil
}

// Rate applies a 0-5 recall quality to the item and records the review.
func (s *Service) Rate(ctx context.Context, ownerID, itemID string, quality int, responseTime time.Duration) (*Item, error) {
	if err := srs.ValidateQuality(quality); err != nil {
		return nil, err
	}
	item, err := s.repo.FindByID(ctx, ownerID, itemID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	next := srs.Rate(item.State(), quality, now)
	item.applyRating(next, quality, now)

	log := &ReviewLog{
		ID:             s.newID(),
		ItemID:         item.ID,
		OwnerID:        ownerID,
		Quality:        quality,
		Correct:        quality >= srs.PassingQuality,
		EaseFactor:     item.EaseFactor,
		IntervalDays:   item.IntervalDays,
		Repetitions:    item.Repetitions,
		Status:         item.Status,
		ResponseTimeMs: responseTime.Milliseconds(),
		ReviewedAt:     now,
	}
	if err := s.repo.RecordReview(ctx, item, log); err != nil {
		return nil, fmt.Errorf("repo.RecordReview > %w", err)
	}
	slog.Default().Debug("learning item rated",
		"item_id", item.ID,
		"quality", quality,
		"interval_days", item.IntervalDays,
		"status", item.Status,
	)
	return item, nil
}

// RateButton maps a 1-4 button onto the quality scale and rates the item.
func (s *Service) RateButton(ctx context.Context, ownerID, itemID string, button srs.Button, responseTime time.Duration) (*Item, error) {
	quality, err := button.Quality()
	if err != nil {
		return nil, err
	}
	return s.Rate(ctx, ownerID, itemID, quality, responseTime)
}

// Preview returns the interval label each button would produce.
func (s *Service) Preview(ctx context.Context, ownerID, itemID string) (map[srs.Button]string, error) {
	item, err := s.repo.FindByID(ctx, ownerID, itemID)
	if err != nil {
		return nil, err
	}
	return srs.PreviewButtons(item.State()), nil
}

func (s *Service) Due(ctx context.Context, ownerID string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.FindDue(ctx, ownerID, srs.Date(s.now()), limit)
}

func (s *Service) Stats(ctx context.Context, ownerID string) (Stats, error) {
	counts, err := s.repo.CountByStatus(ctx, ownerID)
	if err != nil {
		return Stats{}, err
	}
	due, err := s.repo.CountDue(ctx, ownerID, srs.Date(s.now()))
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{ByStatus: counts, DueToday: due}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}
