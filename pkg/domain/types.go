package domain

import (
	"slices"
	"time"
)

// Category values accepted by the catalog. Anything else becomes CategoryGeneral.
const (
	CategoryEngineering  = "Engineering"
	CategoryAutomation   = "Automation"
	CategorySafety       = "Safety"
	CategoryOperations   = "Operations"
	CategoryData         = "Data"
	CategoryMonitoring   = "Monitoring"
	CategoryProductivity = "Productivity"
	CategoryDevOps       = "DevOps"

	CategoryGeneral = "General"
)

// DefaultStore is the grouping attribute assigned when none is supplied.
const DefaultStore = "Main"

const (
	MaxTags          = 10
	MaxUserLength    = 80
	MaxCommentLength = 500
	MinRating        = 1
	MaxRating        = 5

	DefaultUser    = "anonymous"
	DefaultPersona = "viewer"
)

// Categories returns the fixed category set in display order.
func Categories() []string {
	return []string{
		CategoryEngineering,
		CategoryAutomation,
		CategorySafety,
		CategoryOperations,
		CategoryData,
		CategoryMonitoring,
		CategoryProductivity,
		CategoryDevOps,
	}
}

type App struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Category    string     `json:"category"`
	Store       string     `json:"store"`
	Tags        []string   `json:"tags"`
	Description string     `json:"description"`
	DownloadURL string     `json:"downloadUrl"`
	UpdateInfo  string     `json:"updateInfo"`
	Downloads   int64      `json:"downloads"`
	Rating      float64    `json:"rating"`
	RatingCount int64      `json:"ratingCount"`
	Feedback    []Feedback `json:"feedback"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

// Clone returns a copy that shares no slices with a.
func (a App) Clone() App {
	out := a
	out.Tags = slices.Clone(a.Tags)
	out.Feedback = make([]Feedback, len(a.Feedback))
	for i, fb := range a.Feedback {
		out.Feedback[i] = fb.Clone()
	}
	return out
}

type Feedback struct {
	User      string    `json:"user"`
	Persona   string    `json:"persona"`
	Rating    *float64  `json:"rating,omitempty"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

func (f Feedback) Clone() Feedback {
	if f.Rating != nil {
		r := *f.Rating
		f.Rating = &r
	}
	return f
}

// NewApp is the creator-supplied payload for a catalog entry.
type NewApp struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Store       string   `json:"store"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
	DownloadURL string   `json:"downloadUrl"`
	UpdateInfo  string   `json:"updateInfo"`
}

type SortKey string

const (
	SortName      SortKey = "name"
	SortDownloads SortKey = "downloads"
	SortRating    SortKey = "rating"
	SortUpdated   SortKey = "updated"
)

// ParseSortKey maps a query value to a sort key; unknown values sort by name.
func ParseSortKey(s string) SortKey {
	switch SortKey(s) {
	case SortDownloads, SortRating, SortUpdated:
		return SortKey(s)
	default:
		return SortName
	}
}

// Filter is a conjunction; empty fields impose no constraint.
type Filter struct {
	Category string
	Tag      string
	Query    string
	Store    string
	Sort     SortKey
}

type Stats struct {
	TotalDownloads    int64          `json:"totalDownloads"`
	AverageRating     float64        `json:"averageRating"`
	CategoryBreakdown map[string]int `json:"categoryBreakdown"`
	AppCount          int            `json:"appCount"`
}
