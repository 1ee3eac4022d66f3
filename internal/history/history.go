// Package history keeps a local SQLite log of executed operations.
package history

import (
	"time"
)

// Entry is one stored call.
type Entry struct {
	ID         int64     `json:"id" yaml:"id"`
	CallID     string    `json:"call_id" yaml:"call_id"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Operation  string    `json:"operation" yaml:"operation"`
	Profile    string    `json:"profile,omitempty" yaml:"profile,omitempty"`
	Method     string    `json:"method" yaml:"method"`
	URL        string    `json:"url" yaml:"url"`
	StatusCode int       `json:"status_code" yaml:"status_code"`
	DurationMs int64     `json:"duration_ms" yaml:"duration_ms"`
	Size       int64     `json:"size" yaml:"size"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

// Failed reports whether the call ended with an error.
func (e Entry) Failed() bool {
	return e.Error != ""
}

// Query narrows List results. Zero values match everything.
type Query struct {
	Operation string
	Profile   string
	Limit     int
}

// Timestamps are stored in UTC. The sqlite driver hands DATETIME columns back
// as RFC3339 text when scanned into a string.
const timestampLayout = "2006-01-02 15:04:05"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	parsed, err := time.ParseInLocation(timestampLayout, s, time.UTC)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return parsed
}
