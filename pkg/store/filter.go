package store

import (
	"sort"
	"strings"

	"appcatalog/pkg/domain"
)

// Apply filters and sorts records in process. Stores that cannot push the
// filter down to the backend share this implementation.
func Apply(apps []domain.App, f domain.Filter) []domain.App {
	out := make([]domain.App, 0, len(apps))
	for _, app := range apps {
		if Matches(app, f) {
			out = append(out, app)
		}
	}
	SortApps(out, f.Sort)
	return out
}

// Matches reports whether app satisfies every non-empty field of f.
func Matches(app domain.App, f domain.Filter) bool {
	if c := strings.TrimSpace(f.Category); c != "" && !strings.EqualFold(app.Category, c) {
		return false
	}
	if s := strings.TrimSpace(f.Store); s != "" && app.Store != s {
		return false
	}
	if tag := strings.TrimSpace(f.Tag); tag != "" && !hasTag(app.Tags, tag) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(app.Name), q) &&
			!strings.Contains(strings.ToLower(app.Description), q) &&
			!tagContains(app.Tags, q) {
			return false
		}
	}
	return true
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func tagContains(tags []string, lowered string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), lowered) {
			return true
		}
	}
	return false
}

// SortApps orders apps in place by key, breaking ties by id.
func SortApps(apps []domain.App, key domain.SortKey) {
	less := func(a, b domain.App) bool {
		switch key {
		case domain.SortDownloads:
			if a.Downloads != b.Downloads {
				return a.Downloads > b.Downloads
			}
		case domain.SortRating:
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
		case domain.SortUpdated:
			if !a.LastUpdated.Equal(b.LastUpdated) {
				return a.LastUpdated.After(b.LastUpdated)
			}
		default:
			an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
			if an != bn {
				return an < bn
			}
		}
		return a.ID < b.ID
	}
	sort.SliceStable(apps, func(i, j int) bool { return less(apps[i], apps[j]) })
}
