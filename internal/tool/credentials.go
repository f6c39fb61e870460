package tool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// StaticResolver resolves credential names against a fixed map, grounded on
// the simplest possible CredentialResolver: useful for stub drivers and
// tests, and for secrets that are genuinely static (API keys rather than
// refreshable tokens).
type StaticResolver map[string]string

func (s StaticResolver) Resolve(ctx context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("tool: no credential registered for %q", name)
	}
	return v, nil
}

// OAuth2Resolver resolves a credential name to a live access token by
// exchanging it through an oauth2.TokenSource (domain.Credential.Kind ==
// "oauth2_token_source"); each name maps to its own TokenSource so a
// refresh for one credential never blocks another.
type OAuth2Resolver struct {
	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func NewOAuth2Resolver(sources map[string]oauth2.TokenSource) *OAuth2Resolver {
	cloned := make(map[string]oauth2.TokenSource, len(sources))
	for k, v := range sources {
		cloned[k] = v
	}
	return &OAuth2Resolver{sources: cloned}
}

func (r *OAuth2Resolver) Resolve(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	src, ok := r.sources[name]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("tool: no oauth2 token source registered for %q", name)
	}
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("tool: refreshing token for %q: %w", name, err)
	}
	return tok.AccessToken, nil
}
