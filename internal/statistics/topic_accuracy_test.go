package statistics

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateTopicAccuracy(t *testing.T) {
	tests := []struct {
		name   string
		counts []TopicCount
		want   []TopicAccuracy
	}{
		{
			name:   "no history",
			counts: nil,
			want:   []TopicAccuracy{},
		},
		{
			name: "sorted by topic with percentages",
			counts: []TopicCount{
				{Topic: "genetics", Attempts: 4, Correct: 1},
				{Topic: "cells", Attempts: 10, Correct: 9},
			},
			want: []TopicAccuracy{
				{Topic: "cells", Attempts: 10, Correct: 9, Accuracy: 90},
				{Topic: "genetics", Attempts: 4, Correct: 1, Accuracy: 25},
			},
		},
		{
			name: "duplicate topics merge and empty topics are ignored",
			counts: []TopicCount{
				{Topic: "cells", Attempts: 2, Correct: 2},
				{Topic: "", Attempts: 5, Correct: 0},
				{Topic: "cells", Attempts: 2, Correct: 0},
			},
			want: []TopicAccuracy{
				{Topic: "cells", Attempts: 4, Correct: 2, Accuracy: 50},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateTopicAccuracy(tt.counts))
		})
	}
}

func TestDBRepository_TopicAccuracy(t *testing.T) {
	query := regexp.QuoteMeta("SELECT i.topic AS topic, COUNT(*) AS attempts, SUM(CASE WHEN l.correct THEN 1 ELSE 0 END) AS correct FROM review_logs l JOIN learning_items i ON i.id = l.item_id WHERE l.owner_id = ? GROUP BY i.topic")

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		want      []TopicAccuracy
		wantErr   bool
	}{
		{
			name: "returns accuracy per topic",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("owner-1").WillReturnRows(
					sqlmock.NewRows([]string{"topic", "attempts", "correct"}).
						AddRow("cells", 4, 3).
						AddRow("ecology", 5, 5))
			},
			want: []TopicAccuracy{
				{Topic: "cells", Attempts: 4, Correct: 3, Accuracy: 75},
				{Topic: "ecology", Attempts: 5, Correct: 5, Accuracy: 100},
			},
		},
		{
			name: "db error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WillReturnError(fmt.Errorf("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.setupMock(mock)

			got, err := NewDBRepository(sqlx.NewDb(db, "mysql")).TopicAccuracy(context.Background(), "owner-1")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
