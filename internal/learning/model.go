package learning

import (
	"database/sql"
	"errors"
	"time"

	"github.com/at-ishikawa/studycore/internal/srs"
)

var (
	ErrItemNotFound = errors.New("learning item not found")
	ErrInvalidItem  = errors.New("invalid learning item")
)

// Item is a single question and answer owned by one user.
type Item struct {
	ID             string         `db:"id"`
	OwnerID        string         `db:"owner_id"`
	CollectionID   sql.NullString `db:"collection_id"`
	Front          string         `db:"front"`
	Back           string         `db:"back"`
	Subject        string         `db:"subject"`
	Topic          string         `db:"topic"`
	Subtopic       string         `db:"subtopic"`
	EaseFactor     float64        `db:"ease_factor"`
	IntervalDays   int            `db:"interval_days"`
	Repetitions    int            `db:"repetitions"`
	NextReviewDate time.Time      `db:"next_review_date"`
	LastQuality    sql.NullInt64  `db:"last_quality"`
	CorrectCount   int            `db:"correct_count"`
	IncorrectCount int            `db:"incorrect_count"`
	Status         srs.Status     `db:"status"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// State returns the scheduling state of the item.
func (i Item) State() srs.State {
	return srs.State{
		EaseFactor:     i.EaseFactor,
		IntervalDays:   i.IntervalDays,
		Repetitions:    i.Repetitions,
		NextReviewDate: i.NextReviewDate,
		Status:         i.Status,
	}
}

func (i *Item) applyRating(state srs.State, quality int, now time.Time) {
	i.EaseFactor = state.EaseFactor
	i.IntervalDays = state.IntervalDays
	i.Repetitions = state.Repetitions
	i.NextReviewDate = state.NextReviewDate
	i.Status = state.Status
	i.LastQuality = sql.NullInt64{Int64: int64(quality), Valid: true}
	if quality >= srs.PassingQuality {
		i.CorrectCount++
	} else {
		i.IncorrectCount++
	}
	i.UpdatedAt = now
}

// ReviewLog records one rating of an item.
type ReviewLog struct {
	ID             string     `db:"id"`
	ItemID         string     `db:"item_id"`
	OwnerID        string     `db:"owner_id"`
	Quality        int        `db:"quality"`
	Correct        bool       `db:"correct"`
	EaseFactor     float64    `db:"ease_factor"`
	IntervalDays   int        `db:"interval_days"`
	Repetitions    int        `db:"repetitions"`
	Status         srs.Status `db:"status"`
	ResponseTimeMs int64      `db:"response_time_ms"`
	ReviewedAt     time.Time  `db:"reviewed_at"`
}

// NewItem holds the content of an item to create.
type NewItem struct {
	Front        string `yaml:"front" json:"front"`
	Back         string `yaml:"back" json:"back"`
	Subject      string `yaml:"subject,omitempty" json:"subject,omitempty"`
	Topic        string `yaml:"topic,omitempty" json:"topic,omitempty"`
	Subtopic     string `yaml:"subtopic,omitempty" json:"subtopic,omitempty"`
	CollectionID string `yaml:"collection_id,omitempty" json:"collection_id,omitempty"`
}

// Stats summarizes an owner's items.
type Stats struct {
	ByStatus map[srs.Status]int `json:"by_status"`
	Total    int                `json:"total"`
	DueToday int                `json:"due_today"`
}
