package server

import (
	"time"

	"github.com/at-ishikawa/studycore/internal/allocation"
	"github.com/at-ishikawa/studycore/internal/collection"
	"github.com/at-ishikawa/studycore/internal/generation"
	"github.com/at-ishikawa/studycore/internal/learning"
	"github.com/at-ishikawa/studycore/internal/srs"
)

type CreateItemRequest struct {
	Front        string `json:"front" validate:"required"`
	Back         string `json:"back" validate:"required"`
	Subject      string `json:"subject,omitempty"`
	Topic        string `json:"topic,omitempty"`
	Subtopic     string `json:"subtopic,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
}

// RateItemRequest carries either a 1-4 button or a raw 0-5 quality.
type RateItemRequest struct {
	ItemID         string `json:"item_id" validate:"required"`
	Button         int    `json:"button,omitempty" validate:"omitempty,min=1,max=4"`
	Quality        *int   `json:"quality,omitempty" validate:"omitempty,min=0,max=5"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty" validate:"gte=0"`
}

type PreviewRatingRequest struct {
	ItemID string `json:"item_id" validate:"required"`
}

type PreviewRatingResponse struct {
	// Intervals is keyed by button name.
	Intervals map[string]string `json:"intervals"`
}

type ListDueItemsRequest struct {
	Limit int `json:"limit,omitempty" validate:"gte=0,lte=500"`
}

type ListDueItemsResponse struct {
	Items []ItemView `json:"items"`
}

type GetStatsRequest struct{}

type ItemResponse struct {
	Item ItemView `json:"item"`
}

// ItemView is the wire form of learning.Item.
type ItemView struct {
	ID             string     `json:"id"`
	CollectionID   string     `json:"collection_id,omitempty"`
	Front          string     `json:"front"`
	Back           string     `json:"back"`
	Subject        string     `json:"subject,omitempty"`
	Topic          string     `json:"topic,omitempty"`
	Subtopic       string     `json:"subtopic,omitempty"`
	EaseFactor     float64    `json:"ease_factor"`
	IntervalDays   int        `json:"interval_days"`
	Repetitions    int        `json:"repetitions"`
	NextReviewDate string     `json:"next_review_date"`
	Status         srs.Status `json:"status"`
	CorrectCount   int        `json:"correct_count"`
	IncorrectCount int        `json:"incorrect_count"`
}

func newItemView(item learning.Item) ItemView {
	return ItemView{
		ID:             item.ID,
		CollectionID:   item.CollectionID.String,
		Front:          item.Front,
		Back:           item.Back,
		Subject:        item.Subject,
		Topic:          item.Topic,
		Subtopic:       item.Subtopic,
		EaseFactor:     item.EaseFactor,
		IntervalDays:   item.IntervalDays,
		Repetitions:    item.Repetitions,
		NextReviewDate: item.NextReviewDate.Format(time.DateOnly),
		Status:         item.Status,
		CorrectCount:   item.CorrectCount,
		IncorrectCount: item.IncorrectCount,
	}
}

type CreateJobRequest struct {
	Kind         string                   `json:"kind" validate:"required,oneof=deck exam"`
	Title        string                   `json:"title,omitempty"`
	Subject      string                   `json:"subject,omitempty"`
	Total        int                      `json:"total" validate:"required"`
	Topics       []allocation.TopicWeight `json:"topics,omitempty"`
	WeakAreas    bool                     `json:"weak_areas,omitempty"`
	SourceStyles []string                 `json:"source_styles,omitempty"`
	Difficulties []string                 `json:"difficulties,omitempty"`
	Format       string                   `json:"format,omitempty"`
	MixedFormats []string                 `json:"mixed_formats,omitempty" validate:"omitempty,len=2"`
}

func (r CreateJobRequest) toDomain() generation.CreateRequest {
	req := generation.CreateRequest{
		Kind:         collection.Kind(r.Kind),
		Title:        r.Title,
		Subject:      r.Subject,
		Total:        r.Total,
		Topics:       r.Topics,
		WeakAreas:    r.WeakAreas,
		SourceStyles: r.SourceStyles,
		Difficulties: r.Difficulties,
		Format:       r.Format,
	}
	if len(r.MixedFormats) == 2 {
		req.MixedFormats = [2]string{r.MixedFormats[0], r.MixedFormats[1]}
	}
	return req
}

type CreateJobResponse struct {
	JobID        string `json:"job_id"`
	CollectionID string `json:"collection_id"`
	TotalCount   int    `json:"total_count"`
}

type JobRequest struct {
	JobID string `json:"job_id" validate:"required"`
}
