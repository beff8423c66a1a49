// Package tenant resolves per-tenant configuration from the auth_settings
// table, with a short read-through cache in front of the store.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/store/core"
)

// Well-known setting keys.
const (
	KeySigningKey          = "auth_signing_key"
	KeyTokenTTL            = "token_time_to_live"
	KeyAllowedRedirectURLs = "allowed_redirect_urls"
	KeyAppName             = "app_name"
)

// Registry serves tenant settings. Values are cached briefly so hot
// request paths do not hit the store per lookup; setting writes take up
// to TTL to become visible.
type Registry struct {
	gw    core.Gateway
	cache *gocache.Cache
}

func NewRegistry(gw core.Gateway, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Registry{
		gw:    gw,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Raw returns the stored JSON value for key, or KindMissingConfiguration
// when the tenant has no such setting.
func (r *Registry) Raw(ctx context.Context, tenant, key string) (json.RawMessage, error) {
	cacheKey := tenant + "/" + key
	if v, ok := r.cache.Get(cacheKey); ok {
		return v.(json.RawMessage), nil
	}
	raw, err := r.gw.GetSetting(ctx, tenant, key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, autherr.Newf(autherr.KindMissingConfiguration, "no value set for %q", key)
		}
		return nil, autherr.Wrap(autherr.KindInternal, "reading setting "+key, err)
	}
	r.cache.SetDefault(cacheKey, raw)
	return raw, nil
}

func (r *Registry) String(ctx context.Context, tenant, key string) (string, error) {
	raw, err := r.Raw(ctx, tenant, key)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", autherr.Newf(autherr.KindMissingConfiguration, "setting %q is not a string", key)
	}
	return s, nil
}

// StringOr is String with a fallback for absent settings.
func (r *Registry) StringOr(ctx context.Context, tenant, key, fallback string) (string, error) {
	s, err := r.String(ctx, tenant, key)
	if err != nil {
		if autherr.KindOf(err) == autherr.KindMissingConfiguration {
			return fallback, nil
		}
		return "", err
	}
	return s, nil
}

func (r *Registry) Bool(ctx context.Context, tenant, key string, fallback bool) (bool, error) {
	raw, err := r.Raw(ctx, tenant, key)
	if err != nil {
		if autherr.KindOf(err) == autherr.KindMissingConfiguration {
			return fallback, nil
		}
		return false, err
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, autherr.Newf(autherr.KindMissingConfiguration, "setting %q is not a boolean", key)
	}
	return b, nil
}

// Duration reads a setting stored as a duration string ("15m", "336h").
func (r *Registry) Duration(ctx context.Context, tenant, key string, fallback time.Duration) (time.Duration, error) {
	s, err := r.String(ctx, tenant, key)
	if err != nil {
		if autherr.KindOf(err) == autherr.KindMissingConfiguration {
			return fallback, nil
		}
		return 0, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, autherr.Newf(autherr.KindMissingConfiguration, "setting %q is not a duration: %v", key, err)
	}
	return d, nil
}

func (r *Registry) StringSlice(ctx context.Context, tenant, key string) ([]string, error) {
	raw, err := r.Raw(ctx, tenant, key)
	if err != nil {
		if autherr.KindOf(err) == autherr.KindMissingConfiguration {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, autherr.Newf(autherr.KindMissingConfiguration, "setting %q is not a string list", key)
	}
	return out, nil
}

// SigningKey returns the tenant signing key, which every token mint and
// verify depends on. There is no fallback.
func (r *Registry) SigningKey(ctx context.Context, tenant string) ([]byte, error) {
	s, err := r.String(ctx, tenant, KeySigningKey)
	if err != nil {
		return nil, err
	}
	if len(s) < 32 {
		return nil, autherr.New(autherr.KindMissingConfiguration, "auth_signing_key must be at least 32 characters")
	}
	return []byte(s), nil
}
