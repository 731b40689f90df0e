// Package allocation expands a weighted topic request into an ordered list
// of fully resolved generation specs.
package allocation

import (
	"fmt"
	"math"

	"github.com/at-ishikawa/studycore/internal/validation"
)

const (
	FormatMultipleChoice = "multiple_choice"
	FormatShortAnswer    = "short_answer"
	FormatMixed          = "mixed"

	// maxSubtopicRepeat bounds how often one sub-topic repeats per cycle.
	maxSubtopicRepeat = 10
)

// DefaultMixedFormats are alternated when the format is FormatMixed.
var DefaultMixedFormats = [2]string{FormatMultipleChoice, FormatShortAnswer}

type SubtopicWeight struct {
	Name   string  `json:"name" yaml:"name"`
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

type TopicWeight struct {
	Name      string           `json:"name" yaml:"name"`
	Weight    float64          `json:"weight" yaml:"weight"`
	Subtopics []SubtopicWeight `json:"subtopics,omitempty" yaml:"subtopics,omitempty"`
}

type Request struct {
	Total        int
	Topics       []TopicWeight
	SourceStyles []string
	Difficulties []string
	// Format is FormatMixed or the single format used for every slot.
	Format       string
	MixedFormats [2]string
}

// Spec is one resolved generation slot.
type Spec struct {
	Topic       string `json:"topic"`
	Subtopic    string `json:"subtopic,omitempty"`
	SourceStyle string `json:"source_style"`
	Difficulty  string `json:"difficulty"`
	Format      string `json:"format"`
}

// Validate returns a *validation.Error describing every problem of req.
func Validate(req Request) error {
	verr := &validation.Error{}
	if req.Total < 1 {
		verr.Add("total", "must be at least 1")
	}
	if len(req.Topics) == 0 {
		verr.Add("topics", "must not be empty")
	}
	var sum float64
	for i, t := range req.Topics {
		if t.Name == "" {
			verr.Add(fieldIndex("topics", i, "name"), "must not be empty")
		}
		if t.Weight < 0 || math.IsNaN(t.Weight) || math.IsInf(t.Weight, 0) {
			verr.Add(fieldIndex("topics", i, "weight"), "must be a non-negative number")
			continue
		}
		sum += t.Weight
	}
	if len(req.Topics) > 0 && sum <= 0 {
		verr.Add("topics", "at least one topic must have a positive weight")
	}
	if len(req.SourceStyles) == 0 {
		verr.Add("source_styles", "must not be empty")
	}
	if len(req.Difficulties) == 0 {
		verr.Add("difficulties", "must not be empty")
	}
	if req.Format == "" {
		verr.Add("format", "must not be empty")
	}
	return verr.Err()
}

// Allocate returns exactly req.Total specs. The output depends only on req.
func Allocate(req Request) ([]Spec, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	mixed := req.MixedFormats
	if mixed[0] == "" || mixed[1] == "" {
		mixed = DefaultMixedFormats
	}

	counts := Shares(req.Total, req.Topics)
	specs := make([]Spec, 0, req.Total)
	for i, topic := range req.Topics {
		cycle := subtopicCycle(topic.Subtopics)
		for slot := 0; slot < counts[i]; slot++ {
			idx := len(specs)
			spec := Spec{
				Topic:       topic.Name,
				SourceStyle: req.SourceStyles[idx%len(req.SourceStyles)],
				Difficulty:  req.Difficulties[idx%len(req.Difficulties)],
				Format:      req.Format,
			}
			if len(cycle) > 0 {
				spec.Subtopic = cycle[slot%len(cycle)]
			}
			if req.Format == FormatMixed {
				spec.Format = mixed[idx%2]
			}
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

// Shares splits total across topics in proportion to their weights. The
// last topic absorbs the rounding remainder and every topic gets at least
// one slot when total >= len(topics).
func Shares(total int, topics []TopicWeight) []int {
	counts := make([]int, len(topics))
	if len(topics) == 0 {
		return counts
	}

	var sum float64
	for _, t := range topics {
		sum += t.Weight
	}

	assigned := 0
	for i := 0; i < len(topics)-1; i++ {
		if sum > 0 {
			counts[i] = int(math.Round(topics[i].Weight / sum * float64(total)))
		}
		assigned += counts[i]
	}
	counts[len(counts)-1] = total - assigned

	// Rounding up can overshoot, leaving the last share negative.
	for counts[len(counts)-1] < 0 {
		counts[largest(counts[:len(counts)-1], 0)]--
		counts[len(counts)-1]++
	}

	if total >= len(topics) {
		for i := range counts {
			if counts[i] > 0 {
				continue
			}
			donor := largest(counts, 1)
			if donor < 0 {
				break
			}
			counts[donor]--
			counts[i]++
		}
	}
	return counts
}

func fieldIndex(list string, i int, field string) string {
	return fmt.Sprintf("%s[%d].%s", list, i, field)
}

// largest returns the first index holding the largest value above floor, or -1.
func largest(counts []int, floor int) int {
	best := -1
	for i, c := range counts {
		if c > floor && (best < 0 || c > counts[best]) {
			best = i
		}
	}
	return best
}

// subtopicCycle interleaves sub-topics so that heavier ones repeat more often.
func subtopicCycle(subtopics []SubtopicWeight) []string {
	if len(subtopics) == 0 {
		return nil
	}

	minWeight := math.Inf(1)
	for _, s := range subtopics {
		if s.Weight > 0 && s.Weight < minWeight {
			minWeight = s.Weight
		}
	}

	repeats := make([]int, len(subtopics))
	rounds := 1
	for i, s := range subtopics {
		repeats[i] = 1
		if s.Weight > 0 && !math.IsInf(minWeight, 1) {
			repeats[i] = min(maxSubtopicRepeat, max(1, int(math.Round(s.Weight/minWeight))))
		}
		rounds = max(rounds, repeats[i])
	}

	var cycle []string
	for r := 0; r < rounds; r++ {
		for i, s := range subtopics {
			if repeats[i] > r {
				cycle = append(cycle, s.Name)
			}
		}
	}
	return cycle
}
