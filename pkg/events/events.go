// Package events publishes catalog change notifications. Publishing is best
// effort: callers log failures and never roll back the mutation.
package events

import (
	"context"
	"encoding/json"
	"time"

	"appcatalog/internal/util"
)

// Event types.
const (
	TypeAppCreated    = "app.created"
	TypeAppDownloaded = "app.downloaded"
	TypeAppRated      = "app.rated"
	TypeAppFeedback   = "app.feedback"
)

// Event is one catalog change notification.
type Event struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	AppID string         `json:"appId"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// New builds an event with a fresh id.
func New(eventType, appID string, at time.Time, data map[string]any) Event {
	return Event{
		ID:    util.NewID(),
		Type:  eventType,
		AppID: appID,
		Time:  at.UTC(),
		Data:  data,
	}
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                        { return nil }
