// Package credentials persists cryptblkctl login contexts on disk.
//
// A context pairs a server URL with the tokens obtained from it. Contexts
// live in a single JSON file under the user's config directory, one of them
// marked current, in the manner of kubeconfig.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	configDirName  = "cryptblkctl"
	configFileName = "config.json"

	// Token material goes in this file, so owner-only permissions.
	filePerm = 0600
	dirPerm  = 0700
)

var (
	// ErrNoCurrentContext indicates no context is marked current.
	ErrNoCurrentContext = errors.New("no current context set")
	// ErrContextNotFound indicates the named context does not exist.
	ErrContextNotFound = errors.New("context not found")
)

// Context is one saved server connection.
type Context struct {
	ServerURL    string    `json:"server_url"`
	Username     string    `json:"username,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// IsExpired reports whether the access token is expired or about to be.
// A 60 second margin avoids presenting a token that dies mid-request.
func (c *Context) IsExpired() bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Add(60 * time.Second).After(c.ExpiresAt)
}

// HasRefreshToken reports whether the context can be refreshed without a
// new login.
func (c *Context) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

type fileConfig struct {
	CurrentContext string              `json:"current_context"`
	Contexts       map[string]*Context `json:"contexts"`
}

// Store reads and writes the context file. Not safe for concurrent use;
// each CLI invocation builds its own Store.
type Store struct {
	path string
	cfg  *fileConfig
}

// NewStore opens the context file, creating an empty in-memory config when
// none exists yet. Nothing is written until the first mutation.
func NewStore() (*Store, error) {
	path, err := defaultPath()
	if err != nil {
		return nil, err
	}

	s := &Store{path: path}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		s.cfg = &fileConfig{Contexts: make(map[string]*Context)}
	case err != nil:
		return nil, err
	default:
		s.cfg = &fileConfig{}
		if err := json.Unmarshal(data, s.cfg); err != nil {
			return nil, fmt.Errorf("corrupt credentials file %s: %w", path, err)
		}
		if s.cfg.Contexts == nil {
			s.cfg.Contexts = make(map[string]*Context)
		}
	}
	return s, nil
}

func defaultPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, configDirName, configFileName), nil
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, filePerm)
}

// ConfigPath returns where the contexts are stored.
func (s *Store) ConfigPath() string {
	return s.path
}

// GetCurrentContext returns the context marked current.
func (s *Store) GetCurrentContext() (*Context, error) {
	if s.cfg.CurrentContext == "" {
		return nil, ErrNoCurrentContext
	}
	ctx, ok := s.cfg.Contexts[s.cfg.CurrentContext]
	if !ok {
		return nil, ErrContextNotFound
	}
	return ctx, nil
}

// GetCurrentContextName returns the current context's name, empty when none.
func (s *Store) GetCurrentContextName() string {
	return s.cfg.CurrentContext
}

// GetContext returns the named context.
func (s *Store) GetContext(name string) (*Context, error) {
	ctx, ok := s.cfg.Contexts[name]
	if !ok {
		return nil, ErrContextNotFound
	}
	return ctx, nil
}

// ListContexts returns all context names, sorted.
func (s *Store) ListContexts() []string {
	names := make([]string, 0, len(s.cfg.Contexts))
	for name := range s.cfg.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetContext creates or replaces the named context and persists.
func (s *Store) SetContext(name string, ctx *Context) error {
	s.cfg.Contexts[name] = ctx
	return s.save()
}

// UseContext marks the named context current.
func (s *Store) UseContext(name string) error {
	if _, ok := s.cfg.Contexts[name]; !ok {
		return ErrContextNotFound
	}
	s.cfg.CurrentContext = name
	return s.save()
}

// RenameContext renames a context, following the current marker if it
// pointed at the old name.
func (s *Store) RenameContext(oldName, newName string) error {
	ctx, ok := s.cfg.Contexts[oldName]
	if !ok {
		return ErrContextNotFound
	}
	delete(s.cfg.Contexts, oldName)
	s.cfg.Contexts[newName] = ctx
	if s.cfg.CurrentContext == oldName {
		s.cfg.CurrentContext = newName
	}
	return s.save()
}

// DeleteContext removes a context. Deleting the current one leaves no
// current context.
func (s *Store) DeleteContext(name string) error {
	if _, ok := s.cfg.Contexts[name]; !ok {
		return ErrContextNotFound
	}
	delete(s.cfg.Contexts, name)
	if s.cfg.CurrentContext == name {
		s.cfg.CurrentContext = ""
	}
	return s.save()
}

// UpdateTokens replaces the current context's tokens after a login refresh.
func (s *Store) UpdateTokens(accessToken, refreshToken string, expiresAt time.Time) error {
	ctx, err := s.GetCurrentContext()
	if err != nil {
		return err
	}
	ctx.AccessToken = accessToken
	ctx.RefreshToken = refreshToken
	ctx.ExpiresAt = expiresAt
	return s.save()
}

// ClearCurrentContext wipes the current context's tokens (logout) but keeps
// the context itself so the user can log back in without re-entering the URL.
func (s *Store) ClearCurrentContext() error {
	ctx, err := s.GetCurrentContext()
	if err != nil {
		return err
	}
	ctx.AccessToken = ""
	ctx.RefreshToken = ""
	ctx.ExpiresAt = time.Time{}
	return s.save()
}

// GenerateContextName derives a context name from the server URL: the host
// with dots and colons flattened, "default" when the URL is unusable.
func GenerateContextName(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return "default"
	}
	name := strings.NewReplacer(".", "-", ":", "-").Replace(u.Host)
	return strings.Trim(name, "-")
}
