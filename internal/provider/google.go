package provider

import (
	"context"
	"net/url"
)

const googleDiscoveryURL = "https://accounts.google.com/.well-known/openid-configuration"

type googleProvider struct {
	core *oidcCore
}

func newGoogle() *googleProvider {
	return &googleProvider{core: newOIDCCore(googleDiscoveryURL)}
}

func (p *googleProvider) Name() string        { return "google" }
func (p *googleProvider) DisplayName() string { return "Google" }
func (p *googleProvider) IssuerURL() string   { return "https://accounts.google.com" }

func (p *googleProvider) AuthorizeURL(ctx context.Context, cfg Config, redirectURI, state, nonce string) (string, error) {
	disc, err := p.core.discovery(ctx)
	if err != nil {
		return "", err
	}
	u, _ := url.Parse(disc.AuthEndpoint)
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", fmtScope([]string{"openid", "email", "profile"}, cfg.AdditionalScope))
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("access_type", "offline")
	q.Set("include_granted_scopes", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *googleProvider) ExchangeCode(ctx context.Context, cfg Config, code, redirectURI string) (*Tokens, error) {
	return p.core.exchangeViaDiscovery(ctx, cfg, code, redirectURI, nil)
}

func (p *googleProvider) FetchIdentity(ctx context.Context, cfg Config, tokens *Tokens, expectedNonce string) (*Identity, error) {
	claims, err := p.core.verifyIDToken(ctx, tokens.IDToken, cfg.ClientID,
		[]string{"https://accounts.google.com", "accounts.google.com"}, expectedNonce)
	if err != nil {
		return nil, err
	}
	return identityFromClaims(claims)
}
