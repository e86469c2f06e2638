package plugin

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventIndexBuilt      EventType = "index:built"
	EventIndexUpdated    EventType = "index:updated"
	EventMatchComplete   EventType = "match:complete"
	EventGapDetected     EventType = "gap:detected"
	EventExternalQueried EventType = "external:queried"
	EventError           EventType = "error"
)

// Event is delivered to hooks. CorrelationID ties together every event
// emitted while serving one operation.
type Event struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
	Type          EventType `json:"type"`
	Data          any       `json:"data,omitempty"`
}

type correlationKey struct{}

// WithCorrelationID returns ctx carrying id. An empty id generates one.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id carried by ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// IndexEvent is the payload of index:built and index:updated.
type IndexEvent struct {
	Entries  int           `json:"entries"`
	Embedded int           `json:"embedded"`
	Reused   int           `json:"reused"`
	ModelID  string        `json:"model_id"`
	Took     time.Duration `json:"took"`
}

// MatchEvent is the payload of match:complete.
type MatchEvent struct {
	Query    string  `json:"query"`
	Results  int     `json:"results"`
	TopScore float64 `json:"top_score"`
	Gap      bool    `json:"gap"`
}

// GapEvent is the payload of gap:detected.
type GapEvent struct {
	Query    string `json:"query"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// ExternalEvent is the payload of external:queried.
type ExternalEvent struct {
	Source  string `json:"source"`
	Query   string `json:"query"`
	Results int    `json:"results"`
	Cached  bool   `json:"cached"`
	Err     string `json:"error,omitempty"`
}

// ErrorEvent is the payload of error.
type ErrorEvent struct {
	Op     string `json:"op"`
	Source string `json:"source,omitempty"`
	Err    string `json:"error"`
}
