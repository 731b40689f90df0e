package srs

import (
	"fmt"
	"math"
)

// PreviewInterval returns a label such as "6 days" or "2 weeks" for the
// interval a rating would produce, without changing anything.
func PreviewInterval(quality, repetitions int, ease float64, interval int) string {
	if ease == 0 {
		ease = DefaultEaseFactor
	}
	days := 1
	if quality >= PassingQuality {
		days = NextInterval(repetitions, interval, UpdateEaseFactor(ease, quality))
	}
	return FormatInterval(days)
}

// PreviewButtons returns the preview label of each button for state.
func PreviewButtons(state State) map[Button]string {
	previews := make(map[Button]string, len(Buttons))
	for _, b := range Buttons {
		q, _ := b.Quality()
		previews[b] = PreviewInterval(q, state.Repetitions, state.EaseFactor, state.IntervalDays)
	}
	return previews
}

// FormatInterval renders days as days below a week, weeks below a month,
// and months otherwise.
func FormatInterval(days int) string {
	switch {
	case days < 7:
		return plural(days, "day")
	case days < 30:
		return plural(int(math.Round(float64(days)/7)), "week")
	default:
		return plural(int(math.Round(float64(days)/30)), "month")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
