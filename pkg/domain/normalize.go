package domain

import (
	"errors"
	"math"
	"slices"
	"strings"
	"time"
)

// ErrInvalidRating is returned for scores outside [MinRating, MaxRating].
var ErrInvalidRating = errors.New("rating must be between 1 and 5")

// CanonicalCategory returns raw when it is exactly one of the fixed
// categories and General otherwise. Matching is case-sensitive.
func CanonicalCategory(raw string) string {
	if slices.Contains(Categories(), raw) {
		return raw
	}
	return CategoryGeneral
}

// Normalize coerces a record into a valid shape. It never fails.
func Normalize(a App) App {
	a.Category = CanonicalCategory(a.Category)
	if strings.TrimSpace(a.Store) == "" {
		a.Store = DefaultStore
	}
	if len(a.Tags) > MaxTags {
		a.Tags = a.Tags[:MaxTags]
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}
	if a.Feedback == nil {
		a.Feedback = []Feedback{}
	}
	if a.Downloads < 0 {
		a.Downloads = 0
	}
	if a.RatingCount <= 0 {
		a.RatingCount = 0
		a.Rating = 0
	}
	if a.Rating < 0 || math.IsNaN(a.Rating) {
		a.Rating = 0
	}
	if a.Rating > MaxRating {
		a.Rating = MaxRating
	}
	return a
}

// FromNewApp builds a fresh record with zeroed counters.
func FromNewApp(in NewApp, now time.Time) App {
	tags := make([]string, 0, len(in.Tags))
	tags = append(tags, in.Tags...)
	return Normalize(App{
		ID:          strings.TrimSpace(in.ID),
		Name:        strings.TrimSpace(in.Name),
		Category:    in.Category,
		Store:       in.Store,
		Tags:        tags,
		Description: in.Description,
		DownloadURL: strings.TrimSpace(in.DownloadURL),
		UpdateInfo:  in.UpdateInfo,
		LastUpdated: now.UTC(),
	})
}

// ValidateRating rejects scores outside [1,5] instead of clamping them.
func ValidateRating(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < MinRating || v > MaxRating {
		return 0, ErrInvalidRating
	}
	return v, nil
}

// NewFeedback builds an immutable feedback entry, applying defaults and length caps.
func NewFeedback(user, persona, comment string, rating *float64, at time.Time) Feedback {
	user = strings.TrimSpace(user)
	if user == "" {
		user = DefaultUser
	}
	persona = strings.TrimSpace(persona)
	if persona == "" {
		persona = DefaultPersona
	}
	fb := Feedback{
		User:      truncateRunes(user, MaxUserLength),
		Persona:   persona,
		Comment:   truncateRunes(comment, MaxCommentLength),
		CreatedAt: at.UTC(),
	}
	if rating != nil {
		r := *rating
		fb.Rating = &r
	}
	return fb
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
