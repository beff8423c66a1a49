// Package provider implements the upstream OAuth 2.0 / OIDC clients the
// authorize and callback flows delegate to. The set of providers is
// closed; tenants configure client credentials per provider.
package provider

import (
	"context"

	"github.com/lockhaven/authcore/internal/autherr"
)

// Config is a tenant's client registration with one upstream provider.
type Config struct {
	ClientID        string
	ClientSecret    string
	AdditionalScope string
}

// Tokens is the normalized result of a code exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    int
}

// Identity is the upstream account a callback resolved to. Subject is
// stable per provider account; Email may be empty for providers that do
// not expose one.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Provider is one upstream identity provider. Implementations carry no
// tenant state; per-tenant credentials arrive with each call.
type Provider interface {
	Name() string
	DisplayName() string
	IssuerURL() string
	AuthorizeURL(ctx context.Context, cfg Config, redirectURI, state, nonce string) (string, error)
	ExchangeCode(ctx context.Context, cfg Config, code, redirectURI string) (*Tokens, error)
	FetchIdentity(ctx context.Context, cfg Config, tokens *Tokens, expectedNonce string) (*Identity, error)
}

var registry = map[string]Provider{
	"github":  newGitHub(),
	"google":  newGoogle(),
	"apple":   newApple(),
	"azure":   newAzure(),
	"discord": newDiscord(),
}

// Lookup returns the provider registered under name.
func Lookup(name string) (Provider, error) {
	p, ok := registry[name]
	if !ok {
		return nil, autherr.Newf(autherr.KindInvalidData, "unknown provider %q", name)
	}
	return p, nil
}

// Names lists the registered provider names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
