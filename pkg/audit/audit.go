// Package audit records who created, deleted, or was refused access to which graph.
//
// The Logger writes one JSON object per line to an append-only file. It plugs into the
// rest of graphfed in three places:
//   - as a registry.Listener, for graph lifecycle and access-denied events
//   - as the audit callback of a security.Authenticator, for logins
//   - as the reload callback of a security.PolicyWatcher
//
// Example Usage:
//
//	logger, err := audit.NewLogger(audit.Config{
//		Enabled: true,
//		LogPath: "./logs/audit.log",
//	})
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	reg.AddListener(logger)
//	authenticator.SetAuditLogger(logger.LogAuth)
//	watcher.OnReload = logger.PolicyReloaded(policyPath)
//
//	// Later: who deleted what last week?
//	res, _ := audit.NewReader("./logs/audit.log").Query(audit.Query{
//		EventTypes: []audit.EventType{audit.EventGraphDelete},
//		StartTime:  time.Now().AddDate(0, 0, -7),
//	})
//
// Event Types:
//   - GRAPH_CREATE, GRAPH_DELETE
//   - ACCESS_DENIED
//   - LOGIN, LOGIN_FAILED
//   - POLICY_RELOAD
//
// ELI12 (Explain Like I'm 12):
//
// It is the sign-in sheet at the front desk. Every time someone adds a new binder to the
// shelf, throws one away, gets turned away at the door, or signs in, a line goes on the
// sheet. Nobody rubs lines out; new ones only go at the bottom.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/orneryd/graphfed/pkg/registry"
	"github.com/orneryd/graphfed/pkg/security"
)

// EventType categorizes audit events.
type EventType string

const (
	// Graph lifecycle
	EventGraphCreate EventType = "GRAPH_CREATE"
	EventGraphDelete EventType = "GRAPH_DELETE"

	// Authorization
	EventAccessDenied EventType = "ACCESS_DENIED"

	// Authentication
	EventLogin       EventType = "LOGIN"
	EventLoginFailed EventType = "LOGIN_FAILED"

	// System
	EventPolicyReload EventType = "POLICY_RELOAD"
)

// Event is one immutable audit log entry.
type Event struct {
	// Unique event identifier
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Actor
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	// Resource
	Graph    string `json:"graph,omitempty"`
	Mutable  *bool  `json:"mutable,omitempty"`
	Provider string `json:"provider,omitempty"`
	Action   string `json:"action,omitempty"` // registry operation, e.g. "create", "get_mutable"

	// Outcome
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Config holds audit logger configuration.
type Config struct {
	// Enabled controls whether audit logging is active
	Enabled bool

	// LogPath is the path to the audit log file
	LogPath string

	// SyncWrites forces fsync after each write (slower but more durable)
	SyncWrites bool

	// AlertOnEvents triggers the alert callback for these event types
	AlertOnEvents []EventType
}

// DefaultConfig returns sensible defaults for audit logging.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		LogPath:       "./logs/audit.log",
		SyncWrites:    false,
		AlertOnEvents: []EventType{EventAccessDenied, EventLoginFailed},
	}
}

// Logger writes audit events. All methods are safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	writer   io.Writer
	file     *os.File
	config   Config
	sequence uint64
	closed   bool

	alertCallback func(Event)
}

var _ registry.Listener = (*Logger)(nil)

// NewLogger opens (or creates) the log file in append mode. A disabled config yields a
// logger that discards everything.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	dir := filepath.Dir(config.LogPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	file, err := os.OpenFile(config.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("opening audit log file: %w", err)
	}
	return &Logger{writer: file, file: file, config: config}, nil
}

// NewLoggerWithWriter creates a logger with a custom writer (for testing).
func NewLoggerWithWriter(writer io.Writer, config Config) *Logger {
	return &Logger{writer: writer, config: config}
}

// SetAlertCallback sets a callback for events listed in Config.AlertOnEvents.
func (l *Logger) SetAlertCallback(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alertCallback = fn
}

// Log appends event. Timestamp and ID are filled in when empty.
func (l *Logger) Log(event Event) error {
	if !l.config.Enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.New("audit logger is closed")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		l.sequence++
		event.ID = fmt.Sprintf("audit-%d-%d", event.Timestamp.UnixNano(), l.sequence)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	if l.config.SyncWrites && l.file != nil {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("syncing audit log: %w", err)
		}
	}

	if l.alertCallback != nil && slices.Contains(l.config.AlertOnEvents, event.Type) {
		l.alertCallback(event)
	}
	return nil
}

// OnEvent records a registry event.
func (l *Logger) OnEvent(_ context.Context, e registry.Event) {
	event := Event{
		Timestamp: e.Time.UTC(),
		Username:  e.Username,
		Graph:     e.Name.Value(),
		Provider:  e.Provider,
		Success:   true,
	}
	switch e.Kind {
	case registry.GraphCreated:
		event.Type = EventGraphCreate
		event.Action = "create"
		event.Mutable = &e.Mutable
	case registry.GraphDeleted:
		event.Type = EventGraphDelete
		event.Action = "delete"
		event.Mutable = &e.Mutable
	case registry.AccessDenied:
		event.Type = EventAccessDenied
		event.Action = e.Operation
		event.Success = false
		if e.Err != nil {
			event.Reason = e.Err.Error()
		}
	default:
		return
	}
	// Listener has no error path; a failed write is reported by the next Log call.
	_ = l.Log(event)
}

// LogAuth records an authentication attempt. Its signature matches
// security.Authenticator.SetAuditLogger.
func (l *Logger) LogAuth(e security.AuthEvent) {
	event := Event{
		Timestamp: e.Timestamp.UTC(),
		Type:      EventLogin,
		UserID:    e.UserID,
		Username:  e.Username,
		Success:   e.Success,
		Reason:    e.Details,
	}
	if !e.Success {
		event.Type = EventLoginFailed
	}
	_ = l.Log(event)
}

// PolicyReloaded returns a callback for security.PolicyWatcher.OnReload that records
// reloads of path.
func (l *Logger) PolicyReloaded(path string) func(*security.Policy, error) {
	return func(_ *security.Policy, err error) {
		event := Event{Type: EventPolicyReload, Action: path, Success: err == nil}
		if err != nil {
			event.Reason = err.Error()
		}
		_ = l.Log(event)
	}
}

// Close closes the audit logger.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Query selects audit events.
type Query struct {
	StartTime  time.Time
	EndTime    time.Time
	EventTypes []EventType
	Username   string
	Graph      string
	Success    *bool
	Limit      int
	Offset     int
}

// QueryResult holds audit query results.
type QueryResult struct {
	Events     []Event
	TotalCount int
	HasMore    bool
}

// Reader reads an audit log file.
type Reader struct {
	path string
}

// NewReader creates an audit log reader.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Query scans the whole log. Malformed lines are skipped.
func (r *Reader) Query(q Query) (*QueryResult, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &QueryResult{Events: []Event{}}, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer file.Close()

	events := []Event{}
	decoder := json.NewDecoder(file)
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			if err == io.EOF {
				break
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				// The decoder cannot resynchronize after a syntax error.
				break
			}
			continue
		}

		if !q.StartTime.IsZero() && event.Timestamp.Before(q.StartTime) {
			continue
		}
		if !q.EndTime.IsZero() && event.Timestamp.After(q.EndTime) {
			continue
		}
		if len(q.EventTypes) > 0 && !slices.Contains(q.EventTypes, event.Type) {
			continue
		}
		if q.Username != "" && event.Username != q.Username {
			continue
		}
		if q.Graph != "" && event.Graph != q.Graph {
			continue
		}
		if q.Success != nil && event.Success != *q.Success {
			continue
		}
		events = append(events, event)
	}

	total := len(events)
	if q.Offset > 0 {
		if q.Offset >= len(events) {
			events = []Event{}
		} else {
			events = events[q.Offset:]
		}
	}
	if q.Limit > 0 && len(events) > q.Limit {
		events = events[:q.Limit]
	}

	return &QueryResult{
		Events:     events,
		TotalCount: total,
		HasMore:    q.Offset+len(events) < total,
	}, nil
}
