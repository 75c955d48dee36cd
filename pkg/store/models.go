package store

import (
	"time"

	"appcatalog/pkg/domain"
	"gorm.io/datatypes"
)

// AppModel is the GORM row for a catalog entry.
type AppModel struct {
	ID          string                               `gorm:"primaryKey"`
	Name        string                               `gorm:"not null"`
	Category    string                               `gorm:"not null;index"`
	Store       string                               `gorm:"not null;index"`
	Tags        datatypes.JSONSlice[string]          `gorm:"type:jsonb"`
	Description string                               `gorm:"type:text"`
	DownloadURL string                               `gorm:"not null"`
	UpdateInfo  string                               `gorm:"type:text"`
	Downloads   int64                                `gorm:"not null"`
	Rating      float64                              `gorm:"not null"`
	RatingCount int64                                `gorm:"not null"`
	Feedback    datatypes.JSONSlice[domain.Feedback] `gorm:"type:jsonb"`
	LastUpdated time.Time                            `gorm:"not null;index"`
}

func (AppModel) TableName() string { return "apps" }

func appToModel(a domain.App) AppModel {
	return AppModel{
		ID:          a.ID,
		Name:        a.Name,
		Category:    a.Category,
		Store:       a.Store,
		Tags:        datatypes.JSONSlice[string](a.Tags),
		Description: a.Description,
		DownloadURL: a.DownloadURL,
		UpdateInfo:  a.UpdateInfo,
		Downloads:   a.Downloads,
		Rating:      a.Rating,
		RatingCount: a.RatingCount,
		Feedback:    datatypes.JSONSlice[domain.Feedback](a.Feedback),
		LastUpdated: a.LastUpdated,
	}
}

func appFromModel(m AppModel) domain.App {
	return domain.Normalize(domain.App{
		ID:          m.ID,
		Name:        m.Name,
		Category:    m.Category,
		Store:       m.Store,
		Tags:        []string(m.Tags),
		Description: m.Description,
		DownloadURL: m.DownloadURL,
		UpdateInfo:  m.UpdateInfo,
		Downloads:   m.Downloads,
		Rating:      m.Rating,
		RatingCount: m.RatingCount,
		Feedback:    []domain.Feedback(m.Feedback),
		LastUpdated: m.LastUpdated.UTC(),
	})
}
