package provider

import (
	"context"
	"net/url"
)

// Apple is OIDC with two quirks: requesting email or name scopes forces
// response_mode=form_post, and the ID token is the only identity source.
const appleDiscoveryURL = "https://appleid.apple.com/.well-known/openid-configuration"

type appleProvider struct {
	core *oidcCore
}

func newApple() *appleProvider {
	return &appleProvider{core: newOIDCCore(appleDiscoveryURL)}
}

func (p *appleProvider) Name() string        { return "apple" }
func (p *appleProvider) DisplayName() string { return "Apple" }
func (p *appleProvider) IssuerURL() string   { return "https://appleid.apple.com" }

func (p *appleProvider) AuthorizeURL(ctx context.Context, cfg Config, redirectURI, state, nonce string) (string, error) {
	disc, err := p.core.discovery(ctx)
	if err != nil {
		return "", err
	}
	u, _ := url.Parse(disc.AuthEndpoint)
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", fmtScope([]string{"openid", "email"}, cfg.AdditionalScope))
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("response_mode", "form_post")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *appleProvider) ExchangeCode(ctx context.Context, cfg Config, code, redirectURI string) (*Tokens, error) {
	return p.core.exchangeViaDiscovery(ctx, cfg, code, redirectURI, nil)
}

func (p *appleProvider) FetchIdentity(ctx context.Context, cfg Config, tokens *Tokens, expectedNonce string) (*Identity, error) {
	claims, err := p.core.verifyIDToken(ctx, tokens.IDToken, cfg.ClientID,
		[]string{"https://appleid.apple.com"}, expectedNonce)
	if err != nil {
		return nil, err
	}
	return identityFromClaims(claims)
}
