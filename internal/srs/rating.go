package srs

import (
	"errors"
	"fmt"
)

// Button is the coarse 1-4 rating shown to learners.
type Button int

const (
	ButtonAgain Button = 1
	ButtonHard  Button = 2
	ButtonGood  Button = 3
	ButtonEasy  Button = 4
)

var ErrInvalidRating = errors.New("invalid rating")

// buttonQualities maps buttons onto the 0-5 quality scale.
// Quality 2 is never produced; existing interval tables depend on it.
var buttonQualities = map[Button]int{
	ButtonAgain: 1,
	ButtonHard:  3,
	ButtonGood:  4,
	ButtonEasy:  5,
}

// Buttons lists the buttons in display order.
var Buttons = []Button{ButtonAgain, ButtonHard, ButtonGood, ButtonEasy}

func (b Button) String() string {
	switch b {
	case ButtonAgain:
		return "again"
	case ButtonHard:
		return "hard"
	case ButtonGood:
		return "good"
	case ButtonEasy:
		return "easy"
	}
	return fmt.Sprintf("button(%d)", int(b))
}

// Quality maps the button onto the 0-5 quality scale.
func (b Button) Quality() (int, error) {
	q, ok := buttonQualities[b]
	if !ok {
		return 0, fmt.Errorf("%w: button %d is not between 1 and 4", ErrInvalidRating, int(b))
	}
	return q, nil
}

// ValidateQuality reports whether quality is on the 0-5 scale.
func ValidateQuality(quality int) error {
	if quality < 0 || quality > MaxQuality {
		return fmt.Errorf("%w: quality %d is not between 0 and %d", ErrInvalidRating, quality, MaxQuality)
	}
	return nil
}
