// Package statistics aggregates review history into per-topic accuracy.
package statistics

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/studycore/internal/database"
)

// TopicCount is the raw review tally of one topic.
type TopicCount struct {
	Topic    string `db:"topic"`
	Attempts int    `db:"attempts"`
	Correct  int    `db:"correct"`
}

// TopicAccuracy is the share of correct reviews of a topic, from 0 to 100.
type TopicAccuracy struct {
	Topic    string  `json:"topic"`
	Attempts int     `json:"attempts"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// CalculateTopicAccuracy merges counts by topic and orders the result by topic.
func CalculateTopicAccuracy(counts []TopicCount) []TopicAccuracy {
	merged := make(map[string]*TopicAccuracy)
	for _, c := range counts {
		if c.Topic == "" {
			continue
		}
		acc, ok := merged[c.Topic]
		if !ok {
			acc = &TopicAccuracy{Topic: c.Topic}
			merged[c.Topic] = acc
		}
		acc.Attempts += c.Attempts
		acc.Correct += c.Correct
	}

	result := make([]TopicAccuracy, 0, len(merged))
	for _, acc := range merged {
		if acc.Attempts > 0 {
			acc.Accuracy = float64(acc.Correct) * 100 / float64(acc.Attempts)
		}
		result = append(result, *acc)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Topic < result[j].Topic
	})
	return result
}

// Repository reads review history.
type Repository interface {
	TopicAccuracy(ctx context.Context, ownerID string) ([]TopicAccuracy, error)
}

type DBRepository struct {
	db database.Queryer
}

func NewDBRepository(db database.Queryer) *DBRepository {
	return &DBRepository{db: db}
}

func (r *DBRepository) TopicAccuracy(ctx context.Context, ownerID string) ([]TopicAccuracy, error) {
	var counts []TopicCount
	query := r.db.Rebind(`SELECT i.topic AS topic, COUNT(*) AS attempts,
SUM(CASE WHEN l.correct THEN 1 ELSE 0 END) AS correct
FROM review_logs l JOIN learning_items i ON i.id = l.item_id
WHERE l.owner_id = ? GROUP BY i.topic`)
	if err := sqlx.SelectContext(ctx, r.db, &counts, query, ownerID); err != nil {
		return nil, fmt.Errorf("select topic accuracy: %w", err)
	}
	return CalculateTopicAccuracy(counts), nil
}
