// Package credential keeps the API keys configured for each provider and
// tracks which one is active.
package credential

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"aidispatch/internal/core"
	"aidispatch/internal/util"
)

// ErrInvalidCredential is returned for empty secrets or bad indexes.
var ErrInvalidCredential = errors.New("invalid credential")

// Credential is one API key owned by a provider.
type Credential struct {
	Secret  string    `json:"key"`
	Label   string    `json:"name"`
	Active  bool      `json:"active"`
	AddedAt time.Time `json:"addedAt"`
}

// Store holds zero or more credentials per provider with exactly one active
// per non-empty provider.
type Store struct {
	mu     sync.RWMutex
	creds  map[string][]Credential
	logger core.Logger
	now    func() time.Time
}

// StoreConfig credential store configuration
type StoreConfig struct {
	Logger core.Logger
	Now    func() time.Time
}

// NewStore creates an empty credential store
func NewStore(config StoreConfig) *Store {
	logger := config.Logger
	if logger == nil {
		logger = &core.NopLogger{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		creds:  make(map[string][]Credential),
		logger: logger,
		now:    now,
	}
}

// Add appends a credential. The first credential of a provider becomes
// active. Adding a secret that is already stored is a no-op and returns false.
func (s *Store) Add(provider, secret, label string) (bool, error) {
	secret = strings.TrimSpace(secret)
	if provider == "" || secret == "" {
		return false, fmt.Errorf("%w: provider and secret are required", ErrInvalidCredential)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.creds[provider]
	for _, c := range list {
		if c.Secret == secret {
			return false, nil
		}
	}
	if label == "" {
		label = fmt.Sprintf("Key %d", len(list)+1)
	}

	list = append(list, Credential{
		Secret:  secret,
		Label:   label,
		Active:  len(list) == 0,
		AddedAt: s.now(),
	})
	s.creds[provider] = list
	s.logger.Info("Added credential %s for %s (%d total)", util.PreviewSecret(secret), provider, len(list))
	return true, nil
}

// Remove deletes the credential at index. If it was active, the first
// remaining credential becomes active.
func (s *Store) Remove(provider string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.creds[provider]
	if index < 0 || index >= len(list) {
		return fmt.Errorf("%w: %s has no credential at index %d", ErrInvalidCredential, provider, index)
	}

	wasActive := list[index].Active
	list = append(list[:index:index], list[index+1:]...)
	if len(list) == 0 {
		delete(s.creds, provider)
		return nil
	}
	if wasActive {
		list[0].Active = true
	}
	s.creds[provider] = list
	return nil
}

// Rotate makes the next credential in insertion order active, wrapping
// around. It returns false when the provider has fewer than two credentials.
// Callers must reset the provider's rate window after a successful rotation.
func (s *Store) Rotate(provider string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.creds[provider]
	if len(list) < 2 {
		return false
	}

	current := activeIndex(list)
	next := (current + 1) % len(list)
	list[current].Active = false
	list[next].Active = true

	s.logger.Info("Rotated %s credential to %s (%d/%d)", provider, list[next].Label, next+1, len(list))
	return true
}

// Active returns the active secret of a provider.
func (s *Store) Active(provider string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.creds[provider]
	if len(list) == 0 {
		return "", false
	}
	return list[activeIndex(list)].Secret, true
}

// Len returns the number of credentials stored for a provider.
func (s *Store) Len(provider string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds[provider])
}

// Has reports whether the provider has at least one credential.
func (s *Store) Has(provider string) bool {
	return s.Len(provider) > 0
}

// List returns redacted summaries for a provider.
func (s *Store) List(provider string) []core.CredentialSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summarize(provider, s.creds[provider])
}

// ListAll returns redacted summaries for every provider, ordered by provider name.
func (s *Store) ListAll() []core.CredentialSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	providers := make([]string, 0, len(s.creds))
	for p := range s.creds {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	var out []core.CredentialSummary
	for _, p := range providers {
		out = append(out, summarize(p, s.creds[p])...)
	}
	return out
}

func summarize(provider string, list []Credential) []core.CredentialSummary {
	out := make([]core.CredentialSummary, len(list))
	active := -1
	if len(list) > 0 {
		active = activeIndex(list)
	}
	for i, c := range list {
		out[i] = core.CredentialSummary{
			Provider: provider,
			Index:    i,
			Name:     c.Label,
			Preview:  util.PreviewSecret(c.Secret),
			Active:   i == active,
			AddedAt:  c.AddedAt,
		}
	}
	return out
}

// activeIndex returns the flagged credential, falling back to the first.
func activeIndex(list []Credential) int {
	for i, c := range list {
		if c.Active {
			return i
		}
	}
	return 0
}
