// Package security decides who may read or write which named graph.
//
// The registry asks an AccessController before every delegated call. A controller sees
// the graph name and the request context; the caller's identity travels in the context
// as a *Principal attached with WithPrincipal. A request without a principal is
// anonymous.
//
// Roles follow the usual four-level ladder:
//   - admin: read and write everything, always
//   - editor: read and write
//   - viewer: read only
//   - none: nothing
//
// PolicyAccessController refines the role defaults with ACL rules keyed by doublestar
// globs over graph IRIs, so "http://example.org/private/**" can be closed to viewers
// while the rest stays open.
//
// Example:
//
//	policy, err := security.LoadPolicyFile("policy.yaml")
//	if err != nil {
//		return err
//	}
//	ac, err := security.NewPolicyAccessController(policy)
//	if err != nil {
//		return err
//	}
//	reg := registry.New(registry.WithAccessController(ac))
//
//	ctx = security.WithPrincipal(ctx, &security.Principal{
//		Username: "alice",
//		Roles:    []security.Role{security.RoleEditor},
//	})
//	g, err := reg.GetMutable(ctx, "http://example.org/g")
//
// ELI12:
//
// Think of a library. Everyone with a card can read the books (viewer). Some people can
// also write in the guest book (editor). The librarian can do anything (admin). And a few
// shelves have a sign saying "staff only", which is what the ACL rules are for.
package security

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/rdf"
)

// Errors for authentication and policy operations.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked due to failed login attempts")
	ErrPasswordTooShort   = errors.New("password does not meet minimum length requirement")
	ErrInvalidPolicy      = errors.New("invalid policy")
)

// Role represents a user role with associated permissions.
type Role string

// Predefined roles.
const (
	RoleAdmin  Role = "admin"  // Full access, not subject to ACL rules
	RoleEditor Role = "editor" // Read/write
	RoleViewer Role = "viewer" // Read only
	RoleNone   Role = "none"   // No access
)

// ValidRole reports whether r is one of the predefined roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer, RoleNone:
		return true
	}
	return false
}

// RoleFromString parses a role name.
func RoleFromString(s string) (Role, error) {
	r := Role(s)
	if !ValidRole(r) {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidPolicy, s)
	}
	return r, nil
}

// Access is a permission level on one graph.
type Access int

const (
	AccessNone Access = iota
	AccessRead
	AccessReadWrite
)

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessReadWrite:
		return "readwrite"
	default:
		return "none"
	}
}

// ParseAccess parses "none", "read" or "readwrite".
func ParseAccess(s string) (Access, error) {
	switch s {
	case "none":
		return AccessNone, nil
	case "read":
		return AccessRead, nil
	case "readwrite", "write":
		return AccessReadWrite, nil
	}
	return AccessNone, fmt.Errorf("%w: unknown access %q", ErrInvalidPolicy, s)
}

// RoleAccess is the access a role grants when no ACL rule applies.
var RoleAccess = map[Role]Access{
	RoleAdmin:  AccessReadWrite,
	RoleEditor: AccessReadWrite,
	RoleViewer: AccessRead,
	RoleNone:   AccessNone,
}

// AnonymousUser is the username reported for requests without a principal.
const AnonymousUser = "anonymous"

// Principal is an authenticated caller.
type Principal struct {
	Username string
	Roles    []Role
}

// HasRole reports whether the principal holds role.
func (p *Principal) HasRole(role Role) bool {
	return slices.Contains(p.Roles, role)
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal carried by ctx, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// Username returns the caller's username, or AnonymousUser.
func Username(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.Username
	}
	return AnonymousUser
}

// AccessController checks permissions before the registry touches a graph.
type AccessController interface {
	CheckRead(ctx context.Context, name rdf.IRI) error
	CheckReadWrite(ctx context.Context, name rdf.IRI) error
}

// AccessError reports a denied check. It matches graph.ErrPermissionDenied.
type AccessError struct {
	Username string
	Name     rdf.IRI
	Required Access
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("permission denied: %s may not %s %s", e.Username, e.Required, e.Name)
}

func (e *AccessError) Unwrap() error { return graph.ErrPermissionDenied }

// AllowAll grants every request. Use it for development and tests.
type AllowAll struct{}

var _ AccessController = AllowAll{}

func (AllowAll) CheckRead(context.Context, rdf.IRI) error      { return nil }
func (AllowAll) CheckReadWrite(context.Context, rdf.IRI) error { return nil }
