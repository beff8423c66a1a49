package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/lockhaven/authcore/internal/autherr"
)

const (
	discordAuthEndpoint  = "https://discord.com/oauth2/authorize"
	discordTokenEndpoint = "https://discord.com/api/oauth2/token"
	discordUserEndpoint  = "https://discord.com/api/v10/users/@me"
)

type discordProvider struct {
	http *http.Client
}

func newDiscord() *discordProvider {
	return &discordProvider{http: &http.Client{Timeout: 10 * time.Second}}
}

func (p *discordProvider) Name() string        { return "discord" }
func (p *discordProvider) DisplayName() string { return "Discord" }
func (p *discordProvider) IssuerURL() string   { return "https://discord.com" }

func (p *discordProvider) AuthorizeURL(_ context.Context, cfg Config, redirectURI, state, _ string) (string, error) {
	u, _ := url.Parse(discordAuthEndpoint)
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", fmtScope([]string{"identify", "email"}, cfg.AdditionalScope))
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *discordProvider) ExchangeCode(ctx context.Context, cfg Config, code, redirectURI string) (*Tokens, error) {
	return postCodeExchange(ctx, p.http, discordTokenEndpoint, cfg, code, redirectURI, nil)
}

func (p *discordProvider) FetchIdentity(ctx context.Context, _ Config, tokens *Tokens, _ string) (*Identity, error) {
	req, _ := http.NewRequestWithContext(ctx, "GET", discordUserEndpoint, nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindOAuthProviderFailure, "calling discord api", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, autherr.Newf(autherr.KindOAuthProviderFailure, "discord api http %d", resp.StatusCode)
	}

	var user struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
		Email      string `json:"email"`
		Verified   bool   `json:"verified"`
		Avatar     string `json:"avatar"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, autherr.Wrap(autherr.KindOAuthProviderFailure, "decoding discord response", err)
	}
	if user.ID == "" {
		return nil, autherr.New(autherr.KindOAuthProviderFailure, "discord response missing user id")
	}

	name := user.GlobalName
	if name == "" {
		name = user.Username
	}
	var picture string
	if user.Avatar != "" {
		picture = "https://cdn.discordapp.com/avatars/" + user.ID + "/" + user.Avatar + ".png"
	}
	return &Identity{
		Subject:       user.ID,
		Email:         user.Email,
		EmailVerified: user.Verified,
		Name:          name,
		Picture:       picture,
	}, nil
}
