// Package aggregate holds the pure rating, feedback and statistics math.
package aggregate

import (
	"math"
	"sort"

	"appcatalog/pkg/domain"
)

// Round2 rounds half-up to two decimal places. Inputs are non-negative.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// RatingState is the running average and the number of scores folded into it.
type RatingState struct {
	Rating      float64
	RatingCount int64
}

// ApplyRating folds one score into the running weighted mean.
func ApplyRating(cur RatingState, score float64) RatingState {
	count := cur.RatingCount
	if count < 0 {
		count = 0
	}
	next := count + 1
	sum := cur.Rating*float64(count) + score
	return RatingState{
		Rating:      Round2(sum / float64(next)),
		RatingCount: next,
	}
}

// AppendFeedback returns a new slice with entry appended; the input is not modified.
func AppendFeedback(cur []domain.Feedback, entry domain.Feedback) []domain.Feedback {
	out := make([]domain.Feedback, 0, len(cur)+1)
	out = append(out, cur...)
	return append(out, entry)
}

// ComputeStats summarises the whole catalog.
func ComputeStats(apps []domain.App) domain.Stats {
	stats := domain.Stats{
		CategoryBreakdown: make(map[string]int),
		AppCount:          len(apps),
	}
	var ratingSum float64
	var ratingCount int64
	for _, app := range apps {
		stats.TotalDownloads += app.Downloads
		ratingSum += app.Rating * float64(app.RatingCount)
		ratingCount += app.RatingCount
		stats.CategoryBreakdown[app.Category]++
	}
	if ratingCount > 0 {
		stats.AverageRating = Round2(ratingSum / float64(ratingCount))
	}
	return stats
}

// Categories is the fixed set followed by any other category present, sorted.
func Categories(apps []domain.App) []string {
	out := domain.Categories()
	seen := make(map[string]struct{}, len(out))
	for _, c := range out {
		seen[c] = struct{}{}
	}
	var extra []string
	for _, app := range apps {
		if _, ok := seen[app.Category]; ok {
			continue
		}
		seen[app.Category] = struct{}{}
		extra = append(extra, app.Category)
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// Stores lists the distinct grouping attributes present, sorted.
func Stores(apps []domain.App) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, app := range apps {
		s := app.Store
		if s == "" {
			s = domain.DefaultStore
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
