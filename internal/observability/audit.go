package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventAnalyzeStart    AuditEventType = "analyze.start"
	AuditEventAnalyzeComplete AuditEventType = "analyze.complete"
	AuditEventAnalyzeError    AuditEventType = "analyze.error"
	AuditEventQuery           AuditEventType = "query"
	AuditEventQueryError      AuditEventType = "query.error"
)

// AuditEvent is a single JSON line of the audit trail.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	SessionID   string         `json:"session_id"`
	Repository  string         `json:"repository,omitempty"`
	Success     bool           `json:"success"`
	Duration    time.Duration  `json:"duration_ms,omitempty"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // file path or "stdout"/"stderr"
	SessionID  string
}

// AuditLogger appends events as JSON lines. A nil or disabled logger drops
// every event.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	closer    io.Closer
	sessionID string
	enabled   bool
}

// NewAuditLogger opens the configured output.
func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	if !cfg.Enabled {
		return &AuditLogger{sessionID: cfg.SessionID}, nil
	}

	switch cfg.OutputPath {
	case "stdout", "":
		return NewAuditWriter(os.Stdout, cfg.SessionID), nil
	case "stderr":
		return NewAuditWriter(os.Stderr, cfg.SessionID), nil
	}
	f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	l := NewAuditWriter(f, cfg.SessionID)
	l.closer = f
	return l, nil
}

// NewAuditWriter logs to w.
func NewAuditWriter(w io.Writer, sessionID string) *AuditLogger {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &AuditLogger{writer: w, sessionID: sessionID, enabled: true}
}

// Log writes an event, filling in the timestamp and session.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if l == nil || !l.enabled {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogAnalyzeStart records the start of an analyze run.
func (l *AuditLogger) LogAnalyzeStart(repo string) {
	_ = l.Log(&AuditEvent{
		EventType:  AuditEventAnalyzeStart,
		Repository: repo,
		Success:    true,
		Message:    fmt.Sprintf("Analysis of %s started", repo),
	})
}

// LogAnalyzeEnd records the outcome of an analyze run.
func (l *AuditLogger) LogAnalyzeEnd(repo string, duration time.Duration, textual, code int, err error) {
	ev := &AuditEvent{
		EventType:  AuditEventAnalyzeComplete,
		Repository: repo,
		Success:    true,
		Duration:   duration,
		Message:    fmt.Sprintf("Analysis of %s completed", repo),
		Details:    map[string]any{"textual_chunks": textual, "code_chunks": code},
	}
	if err != nil {
		ev.EventType = AuditEventAnalyzeError
		ev.Success = false
		ev.Message = fmt.Sprintf("Analysis of %s failed", repo)
		ev.ErrorDetail = err.Error()
		ev.Details = nil
	}
	_ = l.Log(ev)
}

// LogQuery records an answered or failed question. The question text is
// stored, the answer is not.
func (l *AuditLogger) LogQuery(repo, question string, duration time.Duration, sources int, err error) {
	ev := &AuditEvent{
		EventType:  AuditEventQuery,
		Repository: repo,
		Success:    err == nil,
		Duration:   duration,
		Details:    map[string]any{"question": question, "sources": sources},
	}
	if err != nil {
		ev.EventType = AuditEventQueryError
		ev.ErrorDetail = err.Error()
	}
	_ = l.Log(ev)
}

// Close closes the underlying file, if any.
func (l *AuditLogger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
