package security

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/rdf"
)

const (
	public  = rdf.IRI("http://example.org/public/g")
	private = rdf.IRI("http://example.org/private/g")
	home    = rdf.IRI("http://example.org/users/alice/notes")
)

const testPolicy = `
anonymous_role: viewer
rules:
  - pattern: "http://example.org/private/**"
    role: viewer
    access: none
  - pattern: "http://example.org/users/alice/**"
    user: alice
    access: readwrite
`

func as(username string, roles ...Role) context.Context {
	return WithPrincipal(context.Background(), &Principal{Username: username, Roles: roles})
}

func TestPolicyAccessController(t *testing.T) {
	p, err := LoadPolicy(strings.NewReader(testPolicy))
	require.NoError(t, err)
	ac, err := NewPolicyAccessController(p)
	require.NoError(t, err)

	tests := []struct {
		name string
		ctx  context.Context
		g    rdf.IRI
		want Access
	}{
		{"anonymous reads public", context.Background(), public, AccessRead},
		{"anonymous blocked from private", context.Background(), private, AccessNone},
		{"viewer blocked from private", as("bob", RoleViewer), private, AccessNone},
		{"editor writes public", as("carol", RoleEditor), public, AccessReadWrite},
		{"editor not matched by viewer rule", as("carol", RoleEditor), private, AccessReadWrite},
		{"user rule grants write", as("alice", RoleViewer), home, AccessReadWrite},
		{"user rule is per user", as("bob", RoleViewer), home, AccessRead},
		{"admin ignores rules", as("root", RoleAdmin, RoleViewer), private, AccessReadWrite},
		{"none role", as("mallory", RoleNone), public, AccessNone},
		{"best role wins", as("dave", RoleNone, RoleEditor), public, AccessReadWrite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ac.Access(tt.ctx, tt.g))
		})
	}

	err = ac.CheckReadWrite(as("bob", RoleViewer), public)
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrPermissionDenied)
	var ae *AccessError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "bob", ae.Username)
	assert.Equal(t, AccessReadWrite, ae.Required)

	assert.NoError(t, ac.CheckRead(context.Background(), public))
	assert.ErrorIs(t, ac.CheckRead(context.Background(), private), graph.ErrPermissionDenied)
}

func TestLoadPolicy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown role", "anonymous_role: superuser\n"},
		{"bad access", "rules:\n  - pattern: \"x/**\"\n    access: everything\n"},
		{"missing pattern", "rules:\n  - access: read\n"},
		{"malformed pattern", "rules:\n  - pattern: \"[\"\n    access: read\n"},
		{"unknown field", "anonymus_role: viewer\n"},
		{"user without hash", "users:\n  - username: alice\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPolicy(strings.NewReader(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}

	p, err := LoadPolicy(strings.NewReader(""))
	require.NoError(t, err, "an empty policy is valid")
	ac, err := NewPolicyAccessController(p)
	require.NoError(t, err)
	assert.Equal(t, AccessNone, ac.Access(context.Background(), public), "no anonymous role means no access")
}

func TestPolicyAccessController_SetPolicyKeepsOldOnError(t *testing.T) {
	ac, err := NewPolicyAccessController(nil)
	require.NoError(t, err)
	assert.Equal(t, AccessRead, ac.Access(context.Background(), public))

	err = ac.SetPolicy(&Policy{AnonymousRole: "root"})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	assert.Equal(t, RoleViewer, ac.Policy().AnonymousRole)
}

func TestAllowAll(t *testing.T) {
	var ac AccessController = AllowAll{}
	assert.NoError(t, ac.CheckRead(context.Background(), private))
	assert.NoError(t, ac.CheckReadWrite(context.Background(), private))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)
	assert.Equal(t, AnonymousUser, Username(context.Background()))
	assert.Equal(t, "alice", Username(as("alice")))
}

func TestAuthenticator(t *testing.T) {
	a := NewAuthenticator(AuthConfig{BcryptCost: bcrypt.MinCost, MaxFailedLogins: 3, LockoutDuration: time.Minute})
	now := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return now }

	var events []AuthEvent
	a.SetAuditLogger(func(e AuthEvent) { events = append(events, e) })

	_, err := a.CreateUser("alice", "short", nil)
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	u, err := a.CreateUser("alice", "correct horse", []Role{RoleEditor})
	require.NoError(t, err)
	assert.Empty(t, u.PasswordHash, "hash never leaves the authenticator")
	_, err = a.CreateUser("alice", "another password", nil)
	assert.ErrorIs(t, err, ErrUserExists)

	t.Run("success", func(t *testing.T) {
		p, err := a.Authenticate("alice", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, "alice", p.Username)
		assert.True(t, p.HasRole(RoleEditor))
	})

	t.Run("unknown user looks like a bad password", func(t *testing.T) {
		_, err := a.Authenticate("nobody", "whatever")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("lockout", func(t *testing.T) {
		for range 3 {
			_, err := a.Authenticate("alice", "wrong")
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		}
		_, err := a.Authenticate("alice", "correct horse")
		assert.ErrorIs(t, err, ErrAccountLocked)

		now = now.Add(2 * time.Minute)
		_, err = a.Authenticate("alice", "correct horse")
		assert.NoError(t, err, "lockout expires")
	})

	t.Run("disabled", func(t *testing.T) {
		require.NoError(t, a.DisableUser("alice"))
		_, err := a.Authenticate("alice", "correct horse")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	require.NotEmpty(t, events)
	assert.True(t, events[0].Success)
	assert.False(t, events[len(events)-1].Success)
}

func TestAuthenticator_LoadUsers(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)

	a := NewAuthenticator(AuthConfig{})
	require.NoError(t, a.LoadUsers(&Policy{Users: []UserEntry{
		{Username: "bob", PasswordHash: string(hash), Roles: []Role{RoleViewer}},
	}}))
	p, err := a.Authenticate("bob", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleViewer}, p.Roles)

	_, err = a.AddUser("eve", "not-a-hash", nil)
	assert.Error(t, err)
	assert.Len(t, a.ListUsers(), 1)
}

func TestPolicyWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("anonymous_role: viewer\n"), 0o600))

	p, err := LoadPolicyFile(path)
	require.NoError(t, err)
	ac, err := NewPolicyAccessController(p)
	require.NoError(t, err)

	w, err := NewPolicyWatcher(path, ac, nil)
	require.NoError(t, err)
	defer w.Close()
	w.debounce = 10 * time.Millisecond

	reloads := make(chan error, 8)
	w.OnReload = func(_ *Policy, err error) { reloads <- err }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("anonymous_role: none\n"), 0o600))
	require.Eventually(t, func() bool {
		return ac.Access(context.Background(), public) == AccessNone
	}, 5*time.Second, 10*time.Millisecond)

	// A broken file keeps the last good policy.
	require.NoError(t, os.WriteFile(path, []byte("anonymous_role: [\n"), 0o600))
	timeout := time.After(5 * time.Second)
	for failed := false; !failed; {
		select {
		case err := <-reloads:
			failed = err != nil
		case <-timeout:
			t.Fatal("no failed reload after broken write")
		}
	}
	assert.Equal(t, RoleNone, ac.Policy().AnonymousRole)
}
