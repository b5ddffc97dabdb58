package streaming

import (
	"encoding/json"
	"time"
)

// EventType represents the type of SSE event
type EventType string

const (
	EventTypeSession   EventType = "session"
	EventTypeProgress  EventType = "progress"
	EventTypeFile      EventType = "file"
	EventTypeComplete  EventType = "complete"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

// SSEEvent represents a Server-Sent Event. The payload is reachable through
// Data or the typed accessors.
type SSEEvent struct {
	Type      EventType
	Timestamp time.Time
	data      interface{}
}

func newEvent(t EventType, data interface{}) SSEEvent {
	return SSEEvent{Type: t, Timestamp: time.Now(), data: data}
}

// NewSessionEvent wraps a session state change.
func NewSessionEvent(s SessionEvent) SSEEvent { return newEvent(EventTypeSession, s) }

// NewProgressEvent wraps a progress update.
func NewProgressEvent(p ProgressEvent) SSEEvent { return newEvent(EventTypeProgress, p) }

// NewFileEvent wraps a per-file status change.
func NewFileEvent(f FileEvent) SSEEvent { return newEvent(EventTypeFile, f) }

// NewErrorEvent wraps a fatal session error. It ends the stream.
func NewErrorEvent(e ErrorEvent) SSEEvent { return newEvent(EventTypeError, e) }

// NewCompleteEvent wraps the final summary. It ends the stream.
func NewCompleteEvent(summary interface{}) SSEEvent { return newEvent(EventTypeComplete, summary) }

// NewHeartbeatEvent keeps idle connections open.
func NewHeartbeatEvent() SSEEvent { return newEvent(EventTypeHeartbeat, nil) }

// Data returns the payload as constructed.
func (e SSEEvent) Data() interface{} { return e.data }

// ProgressData returns the payload of a progress event.
func (e SSEEvent) ProgressData() (ProgressEvent, bool) {
	p, ok := e.data.(ProgressEvent)
	return p, ok && e.Type == EventTypeProgress
}

// FileData returns the payload of a file event.
func (e SSEEvent) FileData() (FileEvent, bool) {
	f, ok := e.data.(FileEvent)
	return f, ok && e.Type == EventTypeFile
}

// ErrorData returns the payload of an error event.
func (e SSEEvent) ErrorData() (ErrorEvent, bool) {
	er, ok := e.data.(ErrorEvent)
	return er, ok && e.Type == EventTypeError
}

// MarshalJSON renders {"type", "timestamp", "data"}.
func (e SSEEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType   `json:"type"`
		Timestamp time.Time   `json:"timestamp"`
		Data      interface{} `json:"data"`
	}{e.Type, e.Timestamp, e.data})
}

// SessionEvent represents an import session state change
type SessionEvent struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Files       int        `json:"files"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ProgressEvent represents import progress across the files of a session
type ProgressEvent struct {
	FileID     string  `json:"fileId"`
	FileName   string  `json:"fileName"`
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Status     string  `json:"status"`
}

// FileEvent represents one file moving through the import
type FileEvent struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	FileName  string `json:"fileName"`
	Status    string `json:"status"`
	Source    string `json:"source,omitempty"`
	Imported  int    `json:"imported"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// ErrorEvent represents an error that aborted the session
type ErrorEvent struct {
	Message string `json:"message"`
	FileID  string `json:"fileId,omitempty"`
}
