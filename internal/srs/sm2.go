// Package srs implements SM-2 spaced repetition scheduling.
package srs

import (
	"math"
	"time"
)

const (
	DefaultEaseFactor = 2.5
	MinEaseFactor     = 1.3

	// PassingQuality is the lowest quality that counts as a successful recall.
	PassingQuality = 3
	MaxQuality     = 5

	lapseEasePenalty    = 0.2
	masteredRepetitions = 5
	reviewRepetitions   = 2
)

type Status string

const (
	StatusNew      Status = "new"
	StatusLearning Status = "learning"
	StatusReview   Status = "review"
	StatusMastered Status = "mastered"
)

// State is the minimal scheduling tuple of a learning item.
type State struct {
	EaseFactor     float64
	IntervalDays   int
	Repetitions    int
	NextReviewDate time.Time
	Status         Status
}

// NewState returns the state of an item that has never been rated.
func NewState(today time.Time) State {
	return State{
		EaseFactor:     DefaultEaseFactor,
		IntervalDays:   1,
		Repetitions:    0,
		NextReviewDate: Date(today),
		Status:         StatusNew,
	}
}

// Rate applies a 0-5 recall quality to state and returns the next state.
// quality must already be validated with ValidateQuality.
func Rate(state State, quality int, today time.Time) State {
	ease := state.EaseFactor
	if ease == 0 {
		ease = DefaultEaseFactor
	}

	next := State{}
	if quality < PassingQuality {
		next.Repetitions = 0
		next.IntervalDays = 1
		next.EaseFactor = math.Max(MinEaseFactor, ease-lapseEasePenalty)
	} else {
		next.EaseFactor = UpdateEaseFactor(ease, quality)
		next.IntervalDays = NextInterval(state.Repetitions, state.IntervalDays, next.EaseFactor)
		next.Repetitions = state.Repetitions + 1
	}
	next.NextReviewDate = Date(today).AddDate(0, 0, next.IntervalDays)
	next.Status = Classify(next.Repetitions, next.EaseFactor)
	return next
}

// UpdateEaseFactor returns the SM-2 ease factor after a successful recall.
func UpdateEaseFactor(ease float64, quality int) float64 {
	q := float64(MaxQuality - quality)
	return math.Max(MinEaseFactor, ease+(0.1-q*(0.08+q*0.02)))
}

// NextInterval returns the interval for a successful recall given the
// repetitions and interval before the rating and the updated ease factor.
func NextInterval(repetitions, interval int, ease float64) int {
	switch repetitions {
	case 0:
		return 1
	case 1:
		return 6
	}
	if interval < 1 {
		interval = 1
	}
	next := int(math.Round(float64(interval) * ease))
	if next < 1 {
		return 1
	}
	return next
}

// Classify derives the learning status from repetitions and ease.
func Classify(repetitions int, ease float64) Status {
	switch {
	case repetitions >= masteredRepetitions && ease >= DefaultEaseFactor:
		return StatusMastered
	case repetitions >= reviewRepetitions:
		return StatusReview
	default:
		return StatusLearning
	}
}

// Date returns midnight UTC of t's calendar day in t's own location.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
