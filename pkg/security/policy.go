package security

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/graphfed/pkg/rdf"
)

// Policy is the on-disk access policy.
//
// Example policy.yaml:
//
//	anonymous_role: viewer
//	rules:
//	  - pattern: "http://example.org/private/**"
//	    role: viewer
//	    access: none
//	  - pattern: "http://example.org/users/alice/**"
//	    user: alice
//	    access: readwrite
//	users:
//	  - username: alice
//	    password_hash: "$2a$10$..."
//	    roles: [editor]
type Policy struct {
	// AnonymousRole applies to requests without a principal. Empty means none.
	AnonymousRole Role `yaml:"anonymous_role"`

	// Rules are evaluated in order; the first rule that matches both the graph name and
	// the caller decides. Admins skip the rules.
	Rules []Rule `yaml:"rules"`

	// Users seed an Authenticator.
	Users []UserEntry `yaml:"users,omitempty"`
}

// Rule grants Access on graphs whose IRI matches Pattern. A rule with neither User nor
// Role applies to every caller.
type Rule struct {
	Pattern string `yaml:"pattern"`
	User    string `yaml:"user,omitempty"`
	Role    Role   `yaml:"role,omitempty"`
	Access  string `yaml:"access"`
}

// UserEntry is a user with a pre-computed bcrypt hash.
type UserEntry struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Roles        []Role `yaml:"roles"`
}

// DefaultPolicy lets anonymous callers read and defines no rules.
func DefaultPolicy() *Policy {
	return &Policy{AnonymousRole: RoleViewer}
}

// LoadPolicy decodes and validates a YAML policy.
func LoadPolicy(r io.Reader) (*Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if _, err := compile(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPolicyFile reads a YAML policy from path.
func LoadPolicyFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening policy file: %w", err)
	}
	defer f.Close()
	return LoadPolicy(f)
}

type compiledRule struct {
	pattern string
	user    string
	role    Role
	access  Access
}

type compiledPolicy struct {
	source    *Policy
	anonymous Role
	rules     []compiledRule
}

func compile(p *Policy) (*compiledPolicy, error) {
	c := &compiledPolicy{source: p, anonymous: p.AnonymousRole}
	if c.anonymous == "" {
		c.anonymous = RoleNone
	}
	if !ValidRole(c.anonymous) {
		return nil, fmt.Errorf("%w: unknown anonymous role %q", ErrInvalidPolicy, c.anonymous)
	}
	for i, r := range p.Rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("%w: rule %d has no pattern", ErrInvalidPolicy, i)
		}
		if !doublestar.ValidatePattern(r.Pattern) {
			return nil, fmt.Errorf("%w: rule %d has a malformed pattern %q", ErrInvalidPolicy, i, r.Pattern)
		}
		if r.Role != "" && !ValidRole(r.Role) {
			return nil, fmt.Errorf("%w: rule %d has unknown role %q", ErrInvalidPolicy, i, r.Role)
		}
		access, err := ParseAccess(r.Access)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		c.rules = append(c.rules, compiledRule{pattern: r.Pattern, user: r.User, role: r.Role, access: access})
	}
	for i, u := range p.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("%w: user %d needs a username and password_hash", ErrInvalidPolicy, i)
		}
		for _, r := range u.Roles {
			if !ValidRole(r) {
				return nil, fmt.Errorf("%w: user %q has unknown role %q", ErrInvalidPolicy, u.Username, r)
			}
		}
	}
	return c, nil
}

func (r compiledRule) appliesTo(p *Principal) bool {
	switch {
	case r.user != "":
		return r.user == p.Username
	case r.role != "":
		return p.HasRole(r.role)
	default:
		return true
	}
}

func (c *compiledPolicy) access(p *Principal, name rdf.IRI) Access {
	if p.HasRole(RoleAdmin) {
		return AccessReadWrite
	}
	for _, r := range c.rules {
		if !r.appliesTo(p) {
			continue
		}
		// Patterns were validated at compile time.
		if ok, _ := doublestar.Match(r.pattern, name.Value()); ok {
			return r.access
		}
	}
	best := AccessNone
	for _, role := range p.Roles {
		best = max(best, RoleAccess[role])
	}
	return best
}

// PolicyAccessController enforces a Policy. SetPolicy swaps the policy atomically, so
// checks in flight see either the old or the new one.
type PolicyAccessController struct {
	policy atomic.Pointer[compiledPolicy]
	logger *slog.Logger
}

var _ AccessController = (*PolicyAccessController)(nil)

// NewPolicyAccessController returns a controller enforcing p. A nil p means DefaultPolicy.
func NewPolicyAccessController(p *Policy) (*PolicyAccessController, error) {
	c := &PolicyAccessController{logger: slog.Default()}
	if err := c.SetPolicy(p); err != nil {
		return nil, err
	}
	return c, nil
}

// SetLogger sets the logger used for denials.
func (c *PolicyAccessController) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// SetPolicy replaces the enforced policy. An invalid policy leaves the old one in place.
func (c *PolicyAccessController) SetPolicy(p *Policy) error {
	if p == nil {
		p = DefaultPolicy()
	}
	compiled, err := compile(p)
	if err != nil {
		return err
	}
	c.policy.Store(compiled)
	return nil
}

// Policy returns the enforced policy.
func (c *PolicyAccessController) Policy() *Policy {
	return c.policy.Load().source
}

// Access returns the caller's access level on name.
func (c *PolicyAccessController) Access(ctx context.Context, name rdf.IRI) Access {
	pol := c.policy.Load()
	p, ok := PrincipalFrom(ctx)
	if !ok {
		p = &Principal{Username: AnonymousUser, Roles: []Role{pol.anonymous}}
	}
	return pol.access(p, name)
}

func (c *PolicyAccessController) CheckRead(ctx context.Context, name rdf.IRI) error {
	return c.check(ctx, name, AccessRead)
}

func (c *PolicyAccessController) CheckReadWrite(ctx context.Context, name rdf.IRI) error {
	return c.check(ctx, name, AccessReadWrite)
}

func (c *PolicyAccessController) check(ctx context.Context, name rdf.IRI, required Access) error {
	if c.Access(ctx, name) >= required {
		return nil
	}
	user := Username(ctx)
	c.logger.Debug("access denied", "user", user, "graph", name.Value(), "required", required.String())
	return &AccessError{Username: user, Name: name, Required: required}
}
