package registry

import (
	"context"
	"time"

	"github.com/orneryd/graphfed/pkg/rdf"
)

// EventKind identifies what happened.
type EventKind int

const (
	// GraphCreated follows a successful Create or CreateImmutable.
	GraphCreated EventKind = iota
	// GraphDeleted follows a successful Delete.
	GraphDeleted
	// AccessDenied follows a failed permission check.
	AccessDenied
)

func (k EventKind) String() string {
	switch k {
	case GraphCreated:
		return "graph_created"
	case GraphDeleted:
		return "graph_deleted"
	case AccessDenied:
		return "access_denied"
	default:
		return "unknown"
	}
}

// Event is an outbound notification. Listeners cannot veto or retry the operation.
type Event struct {
	Kind      EventKind
	Time      time.Time
	Name      rdf.IRI
	Mutable   bool   // GraphCreated, GraphDeleted
	Provider  string // GraphCreated, GraphDeleted
	Username  string
	Operation string // AccessDenied: the registry operation that was refused
	Err       error  // AccessDenied
}

// Listener receives registry events. OnEvent runs synchronously on the calling goroutine
// and must not call back into the registry's create or delete operations.
type Listener interface {
	OnEvent(ctx context.Context, e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, e Event)

func (f ListenerFunc) OnEvent(ctx context.Context, e Event) { f(ctx, e) }
