package allocation

import (
	"math"
	"sort"

	"github.com/at-ishikawa/studycore/internal/statistics"
)

const (
	// MinWeakAreaAttempts is the sample size a topic needs before it counts.
	MinWeakAreaAttempts = 3
	// MaxWeakAreaTopics caps how many of the weakest topics are targeted.
	MaxWeakAreaTopics = 5
)

// WeakAreaWeights weights the learner's weakest topics so that lower accuracy
// gets more slots. It returns nil when fewer than two topics have enough
// attempts, in which case callers fall back to uniform weights.
func WeakAreaWeights(accuracies []statistics.TopicAccuracy) []TopicWeight {
	var eligible []statistics.TopicAccuracy
	for _, acc := range accuracies {
		if acc.Attempts >= MinWeakAreaAttempts {
			eligible = append(eligible, acc)
		}
	}
	if len(eligible) < 2 {
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Accuracy != eligible[j].Accuracy {
			return eligible[i].Accuracy < eligible[j].Accuracy
		}
		return eligible[i].Topic < eligible[j].Topic
	})
	if len(eligible) > MaxWeakAreaTopics {
		eligible = eligible[:MaxWeakAreaTopics]
	}

	maxAccuracy := 0.0
	for _, acc := range eligible {
		maxAccuracy = math.Max(maxAccuracy, acc.Accuracy)
	}

	weights := make([]TopicWeight, 0, len(eligible))
	for _, acc := range eligible {
		w := math.Round((maxAccuracy - acc.Accuracy + 10) / 10)
		weights = append(weights, TopicWeight{Name: acc.Topic, Weight: math.Max(1, w)})
	}
	return weights
}

// UniformWeights gives every topic weight 1.
func UniformWeights(topics []string) []TopicWeight {
	weights := make([]TopicWeight, 0, len(topics))
	for _, topic := range topics {
		weights = append(weights, TopicWeight{Name: topic, Weight: 1})
	}
	return weights
}
