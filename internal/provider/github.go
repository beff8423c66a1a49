package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lockhaven/authcore/internal/autherr"
)

// GitHub is plain OAuth 2.0 with no ID token; the account is resolved
// with follow-up API calls.
const (
	githubAuthEndpoint  = "https://github.com/login/oauth/authorize"
	githubTokenEndpoint = "https://github.com/login/oauth/access_token"
	githubUserEndpoint  = "https://api.github.com/user"
	githubEmailEndpoint = "https://api.github.com/user/emails"
)

type githubProvider struct {
	http *http.Client
}

func newGitHub() *githubProvider {
	return &githubProvider{http: &http.Client{Timeout: 10 * time.Second}}
}

func (p *githubProvider) Name() string        { return "github" }
func (p *githubProvider) DisplayName() string { return "GitHub" }
func (p *githubProvider) IssuerURL() string   { return "https://github.com" }

func (p *githubProvider) AuthorizeURL(_ context.Context, cfg Config, redirectURI, state, _ string) (string, error) {
	u, _ := url.Parse(githubAuthEndpoint)
	q := u.Query()
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", fmtScope([]string{"read:user", "user:email"}, cfg.AdditionalScope))
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *githubProvider) ExchangeCode(ctx context.Context, cfg Config, code, redirectURI string) (*Tokens, error) {
	return postCodeExchange(ctx, p.http, githubTokenEndpoint, cfg, code, redirectURI, nil)
}

func (p *githubProvider) FetchIdentity(ctx context.Context, _ Config, tokens *Tokens, _ string) (*Identity, error) {
	var user struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Photo string `json:"avatar_url"`
	}
	if err := p.getJSON(ctx, githubUserEndpoint, tokens.AccessToken, &user); err != nil {
		return nil, err
	}

	ident := &Identity{
		Subject: strconv.FormatInt(user.ID, 10),
		Email:   user.Email,
		Name:    user.Name,
		Picture: user.Photo,
	}
	if ident.Name == "" {
		ident.Name = user.Login
	}

	// The profile email is often private; the emails API has the
	// primary verified address.
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := p.getJSON(ctx, githubEmailEndpoint, tokens.AccessToken, &emails); err == nil {
		for _, e := range emails {
			if e.Primary && e.Verified {
				ident.Email = e.Email
				ident.EmailVerified = true
				break
			}
		}
		if !ident.EmailVerified {
			for _, e := range emails {
				if e.Verified {
					ident.Email = e.Email
					ident.EmailVerified = true
					break
				}
			}
		}
	}
	return ident, nil
}

func (p *githubProvider) getJSON(ctx context.Context, endpoint, accessToken string, out any) error {
	req, _ := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return autherr.Wrap(autherr.KindOAuthProviderFailure, "calling github api", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return autherr.Newf(autherr.KindOAuthProviderFailure, "github api http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return autherr.Wrap(autherr.KindOAuthProviderFailure, "decoding github response", err)
	}
	return nil
}
