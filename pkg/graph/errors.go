package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/orneryd/graphfed/pkg/lock"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// Sentinel errors shared by graphs, providers and the registry.
var (
	ErrNotFound         = errors.New("graph: not found")
	ErrAlreadyExists    = errors.New("graph: already exists")
	ErrUndeletable      = errors.New("graph: undeletable")
	ErrUnsupported      = errors.New("graph: unsupported operation")
	ErrInvalidArgument  = errors.New("graph: invalid argument")
	ErrPermissionDenied = errors.New("graph: permission denied")
	ErrCorruptStructure = errors.New("graph: corrupt structure")
	ErrNoSuchSubgraph   = errors.New("graph: no such subgraph")
	ErrReadOnly         = errors.New("graph: triple is read-only in this view")
	ErrLiteralSubject   = errors.New("graph: literal cannot be a subject")
)

// ErrorCode is a stable, string-valued classification of an error.
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeAlreadyExists    ErrorCode = "ALREADY_EXISTS"
	CodeUndeletable      ErrorCode = "UNDELETABLE"
	CodeUnsupported      ErrorCode = "UNSUPPORTED"
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeCorruptStructure ErrorCode = "CORRUPT_STRUCTURE"
	CodeNoSuchSubgraph   ErrorCode = "NO_SUCH_SUBGRAPH"
	CodeReadOnly         ErrorCode = "READ_ONLY"
	CodeLiteralSubject   ErrorCode = "LITERAL_SUBJECT"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeCanceled         ErrorCode = "CANCELED"
	CodeInternal         ErrorCode = "INTERNAL"
)

var codes = []struct {
	err  error
	code ErrorCode
}{
	{ErrNotFound, CodeNotFound},
	{ErrAlreadyExists, CodeAlreadyExists},
	{ErrUndeletable, CodeUndeletable},
	{ErrUnsupported, CodeUnsupported},
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrPermissionDenied, CodePermissionDenied},
	{ErrCorruptStructure, CodeCorruptStructure},
	{ErrNoSuchSubgraph, CodeNoSuchSubgraph},
	{ErrReadOnly, CodeReadOnly},
	{ErrLiteralSubject, CodeLiteralSubject},
	{rdf.ErrInvalidSubject, CodeInvalidArgument},
	{rdf.ErrInvalidPredicate, CodeInvalidArgument},
	{rdf.ErrInvalidObject, CodeInvalidArgument},
	{lock.ErrTimeout, CodeTimeout},
	{context.DeadlineExceeded, CodeTimeout},
	{context.Canceled, CodeCanceled},
}

// Code returns the error code for err, CodeInternal for errors outside the taxonomy,
// or "" for nil.
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// IsFallthrough reports whether err means "this provider cannot help, ask the next one".
// Only not-found, unsupported and invalid-argument qualify.
func IsFallthrough(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnsupported) ||
		errors.Is(err, ErrInvalidArgument)
}

// EntityError ties an error to a named graph and the operation that failed on it.
type EntityError struct {
	Op   string
	Name rdf.IRI
	Err  error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name.Value(), e.Err)
}

func (e *EntityError) Unwrap() error { return e.Err }

// NewEntityError returns an *EntityError for op on name.
func NewEntityError(op string, name rdf.IRI, err error) error {
	return &EntityError{Op: op, Name: name, Err: err}
}

// ResourceError ties an error to the resource (usually a list node or a pattern triple's
// term) that caused it.
type ResourceError struct {
	Resource rdf.Term
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, termString(e.Resource))
}

func (e *ResourceError) Unwrap() error { return e.Err }

func termString(t rdf.Term) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
