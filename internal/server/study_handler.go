// Package server exposes the study and generation services over Connect
// with a JSON codec.
package server

import (
	"context"
	"time"

	"github.com/at-ishikawa/studycore/internal/learning"
	"github.com/at-ishikawa/studycore/internal/srs"
	"github.com/at-ishikawa/studycore/internal/validation"
)

// StudyService is implemented by learning.Service.
type StudyService interface {
	CreateItem(ctx context.Context, ownerID string, in learning.NewItem) (*learning.Item, error)
	Rate(ctx context.Context, ownerID, itemID string, quality int, responseTime time.Duration) (*learning.Item, error)
	RateButton(ctx context.Context, ownerID, itemID string, button srs.Button, responseTime time.Duration) (*learning.Item, error)
	Preview(ctx context.Context, ownerID, itemID string) (map[srs.Button]string, error)
	Due(ctx context.Context, ownerID string, limit int) ([]learning.Item, error)
	Stats(ctx context.Context, ownerID string) (learning.Stats, error)
}

// StudyHandler serves item scheduling.
type StudyHandler struct {
	service   StudyService
	validator *requestValidator
}

func NewStudyHandler(service StudyService, validator *requestValidator) *StudyHandler {
	return &StudyHandler{service: service, validator: validator}
}

func (h *StudyHandler) CreateItem(ctx context.Context, req *CreateItemRequest) (*ItemResponse, error) {
	if err := h.validator.check(req); err != nil {
		return nil, err
	}
	item, err := h.service.CreateItem(ctx, ownerFrom(ctx), learning.NewItem{
		Front:        req.Front,
		Back:         req.Back,
		Subject:      req.Subject,
		Topic:        req.Topic,
		Subtopic:     req.Subtopic,
		CollectionID: req.CollectionID,
	})
	if err != nil {
		return nil, err
	}
	return &ItemResponse{Item: newItemView(*item)}, nil
}

// RateItem prefers the raw quality when both a quality and a button are sent.
func (h *StudyHandler) RateItem(ctx context.Context, req *RateItemRequest) (*ItemResponse, error) {
	if err := h.validator.check(req); err != nil {
		return nil, err
	}
	if req.Quality == nil && req.Button == 0 {
		verr := &validation.Error{}
		verr.Add("button", "button or quality is required")
		return nil, verr
	}

	responseTime := time.Duration(req.ResponseTimeMs) * time.Millisecond
	var (
		item *learning.Item
		err  error
	)
	if req.Quality != nil {
		item, err = h.service.Rate(ctx, ownerFrom(ctx), req.ItemID, *req.Quality, responseTime)
	} else {
		item, err = h.service.RateButton(ctx, ownerFrom(ctx), req.ItemID, srs.Button(req.Button), responseTime)
	}
	if err != nil {
		return nil, err
	}
	return &ItemResponse{Item: newItemView(*item)}, nil
}

func (h *StudyHandler) PreviewRating(ctx context.Context, req *PreviewRatingRequest) (*PreviewRatingResponse, error) {
	if err := h.validator.check(req); err != nil {
		return nil, err
	}
	preview, err := h.service.Preview(ctx, ownerFrom(ctx), req.ItemID)
	if err != nil {
		return nil, err
	}
	intervals := make(map[string]string, len(preview))
	for button, label := range preview {
		intervals[button.String()] = label
	}
	return &PreviewRatingResponse{Intervals: intervals}, nil
}

func (h *StudyHandler) ListDueItems(ctx context.Context, req *ListDueItemsRequest) (*ListDueItemsResponse, error) {
	if err := h.validator.check(req); err != nil {
		return nil, err
	}
	items, err := h.service.Due(ctx, ownerFrom(ctx), req.Limit)
	if err != nil {
		return nil, err
	}
	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, newItemView(item))
	}
	return &ListDueItemsResponse{Items: views}, nil
}

func (h *StudyHandler) GetStats(ctx context.Context, _ *GetStatsRequest) (*learning.Stats, error) {
	stats, err := h.service.Stats(ctx, ownerFrom(ctx))
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
