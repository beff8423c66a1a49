package tenant

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/lockhaven/authcore/internal/autherr"
)

// ProviderConfig is a tenant's OAuth client registration for one
// upstream provider, stored under "provider/<name>".
type ProviderConfig struct {
	ClientID        string `json:"client_id"`
	ClientSecret    string `json:"client_secret"`
	AdditionalScope string `json:"additional_scope,omitempty"`
}

func (r *Registry) Provider(ctx context.Context, tenant, name string) (ProviderConfig, error) {
	raw, err := r.Raw(ctx, tenant, "provider/"+name)
	if err != nil {
		if autherr.KindOf(err) == autherr.KindMissingConfiguration {
			return ProviderConfig{}, autherr.Newf(autherr.KindMissingConfiguration, "provider %q is not configured", name)
		}
		return ProviderConfig{}, err
	}
	var cfg ProviderConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return ProviderConfig{}, autherr.Newf(autherr.KindMissingConfiguration, "provider %q configuration is malformed", name)
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return ProviderConfig{}, autherr.Newf(autherr.KindMissingConfiguration, "provider %q is missing client credentials", name)
	}
	return cfg, nil
}

// WebAuthnOrigin is the relying party origin passkey ceremonies bind to.
func (r *Registry) WebAuthnOrigin(ctx context.Context, tenant string) (string, error) {
	return r.String(ctx, tenant, "webauthn/relying_party_origin")
}

// RequireVerification gates password sign-in on a verified email
// address. Off unless the tenant opts in.
func (r *Registry) RequireVerification(ctx context.Context, tenant string) (bool, error) {
	return r.Bool(ctx, tenant, "require_verification", false)
}

func (r *Registry) TokenTTL(ctx context.Context, tenant string) (time.Duration, error) {
	return r.Duration(ctx, tenant, KeyTokenTTL, 336*time.Hour)
}

func (r *Registry) MagicLinkTTL(ctx context.Context, tenant string) (time.Duration, error) {
	return r.Duration(ctx, tenant, "magic_link/token_time_to_live", 10*time.Minute)
}

// IsURLAllowed reports whether raw sits under one of the tenant's
// allowed redirect URLs or the service's own base URL. Matching compares
// scheme-insensitive host and requires a path-segment prefix.
func (r *Registry) IsURLAllowed(ctx context.Context, tenant, raw, baseURL string) (bool, error) {
	allowed, err := r.StringSlice(ctx, tenant, KeyAllowedRedirectURLs)
	if err != nil {
		return false, err
	}
	allowed = append(allowed, baseURL)

	target, err := url.Parse(raw)
	if err != nil {
		return false, nil
	}
	for _, a := range allowed {
		base, err := url.Parse(a)
		if err != nil {
			continue
		}
		if !strings.EqualFold(target.Hostname(), base.Hostname()) {
			continue
		}
		if pathHasPrefix(target.Path, base.Path) {
			return true, nil
		}
	}
	return false, nil
}

func pathHasPrefix(path, prefix string) bool {
	trim := func(s string) []string {
		s = strings.Trim(s, "/")
		if s == "" {
			return nil
		}
		return strings.Split(s, "/")
	}
	p, pre := trim(path), trim(prefix)
	if len(pre) > len(p) {
		return false
	}
	for i := range pre {
		if p[i] != pre[i] {
			return false
		}
	}
	return true
}
