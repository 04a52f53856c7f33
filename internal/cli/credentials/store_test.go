package credentials

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	s, err := NewStore()
	require.NoError(t, err)
	return s
}

func TestNewStoreEmpty(t *testing.T) {
	s := newTestStore(t)

	assert.Empty(t, s.GetCurrentContextName())
	assert.Empty(t, s.ListContexts())

	_, err := s.GetCurrentContext()
	assert.ErrorIs(t, err, ErrNoCurrentContext)
}

func TestSetAndUseContext(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetContext("local", &Context{
		ServerURL: "http://localhost:8080",
		Username:  "admin",
	}))
	require.NoError(t, s.UseContext("local"))

	ctx, err := s.GetCurrentContext()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", ctx.ServerURL)
	assert.Equal(t, "local", s.GetCurrentContextName())
}

func TestUseContextUnknown(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.UseContext("nope"), ErrContextNotFound)
}

func TestPersistsAcrossStores(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	s1, err := NewStore()
	require.NoError(t, err)
	require.NoError(t, s1.SetContext("prod", &Context{ServerURL: "https://vault.example.com"}))
	require.NoError(t, s1.UseContext("prod"))

	s2, err := NewStore()
	require.NoError(t, err)
	ctx, err := s2.GetCurrentContext()
	require.NoError(t, err)
	assert.Equal(t, "https://vault.example.com", ctx.ServerURL)
}

func TestListContextsSorted(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.SetContext(name, &Context{ServerURL: "http://x"}))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, s.ListContexts())
}

func TestRenameContextFollowsCurrent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetContext("old", &Context{ServerURL: "http://x"}))
	require.NoError(t, s.UseContext("old"))

	require.NoError(t, s.RenameContext("old", "new"))
	assert.Equal(t, "new", s.GetCurrentContextName())

	_, err := s.GetContext("old")
	assert.ErrorIs(t, err, ErrContextNotFound)
	_, err = s.GetContext("new")
	assert.NoError(t, err)
}

func TestDeleteCurrentContextClearsMarker(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetContext("gone", &Context{ServerURL: "http://x"}))
	require.NoError(t, s.UseContext("gone"))

	require.NoError(t, s.DeleteContext("gone"))
	assert.Empty(t, s.GetCurrentContextName())
	assert.ErrorIs(t, s.DeleteContext("gone"), ErrContextNotFound)
}

func TestUpdateAndClearTokens(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetContext("local", &Context{ServerURL: "http://x"}))
	require.NoError(t, s.UseContext("local"))

	exp := time.Now().Add(time.Hour)
	require.NoError(t, s.UpdateTokens("access", "refresh", exp))

	ctx, err := s.GetCurrentContext()
	require.NoError(t, err)
	assert.Equal(t, "access", ctx.AccessToken)
	assert.True(t, ctx.HasRefreshToken())
	assert.False(t, ctx.IsExpired())

	require.NoError(t, s.ClearCurrentContext())
	ctx, err = s.GetCurrentContext()
	require.NoError(t, err)
	assert.Empty(t, ctx.AccessToken)
	assert.False(t, ctx.HasRefreshToken())
	assert.True(t, ctx.IsExpired())
}

func TestIsExpiredMargin(t *testing.T) {
	ctx := &Context{ExpiresAt: time.Now().Add(30 * time.Second)}
	assert.True(t, ctx.IsExpired(), "tokens inside the 60s margin count as expired")

	ctx.ExpiresAt = time.Now().Add(5 * time.Minute)
	assert.False(t, ctx.IsExpired())

	zero := &Context{}
	assert.True(t, zero.IsExpired())
}

func TestGenerateContextName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://localhost:8080", "localhost-8080"},
		{"https://vault.example.com", "vault-example-com"},
		{"", "default"},
		{"://bad", "default"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GenerateContextName(tt.url), "url %q", tt.url)
	}
}
