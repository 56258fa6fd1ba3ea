package models

import "time"

const (
	EventRefreshCompleted = "refresh.completed"
	EventCacheCleared     = "cache.cleared"
)

// Event is a lifecycle notification published to the event topic.
type Event struct {
	Type       string            `json:"type"`
	Source     string            `json:"source"`
	At         time.Time         `json:"at"`
	Symbols    int               `json:"symbols,omitempty"`
	Failed     []string          `json:"failed,omitempty"`
	DurationMS int64             `json:"duration_ms,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
