package provider

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/lockhaven/authcore/internal/autherr"
)

type discoveryDoc struct {
	Issuer        string `json:"issuer"`
	AuthEndpoint  string `json:"authorization_endpoint"`
	TokenEndpoint string `json:"token_endpoint"`
	JWKSURI       string `json:"jwks_uri"`
}

type jwk struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"` // base64url
	E   string `json:"e"` // base64url
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// oidcCore caches an issuer's discovery document and key set. The JWKS
// fetch honors ETag so key rotation polls stay cheap.
type oidcCore struct {
	discoveryURL string
	http         *http.Client

	mu    sync.RWMutex
	disc  *discoveryDoc
	discU time.Time

	jwks     *jwks
	jwksAt   time.Time
	jwksETag string
}

func newOIDCCore(discoveryURL string) *oidcCore {
	return &oidcCore{
		discoveryURL: discoveryURL,
		http:         &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *oidcCore) discovery(ctx context.Context) (*discoveryDoc, error) {
	c.mu.RLock()
	disc := c.disc
	stale := time.Since(c.discU) > 24*time.Hour
	c.mu.RUnlock()
	if disc != nil && !stale {
		return disc, nil
	}

	req, _ := http.NewRequestWithContext(ctx, "GET", c.discoveryURL, nil)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindOAuthProviderFailure, "fetching discovery document", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, autherr.Newf(autherr.KindOAuthProviderFailure, "discovery http %d", resp.StatusCode)
	}
	var dd discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&dd); err != nil {
		return nil, autherr.Wrap(autherr.KindOAuthProviderFailure, "decoding discovery document", err)
	}
	c.mu.Lock()
	c.disc = &dd
	c.discU = time.Now()
	c.mu.Unlock()
	return &dd, nil
}

func (c *oidcCore) getJWKS(ctx context.Context, uri string) (*jwks, error) {
	c.mu.RLock()
	j := c.jwks
	age := time.Since(c.jwksAt)
	etag := c.jwksETag
	c.mu.RUnlock()
	if j != nil && age < 1*time.Hour {
		return j, nil
	}

	req, _ := http.NewRequestWithContext(ctx, "GET", uri, nil)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindOAuthProviderFailure, "fetching jwks", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		c.mu.Lock()
		out := c.jwks
		c.jwksAt = time.Now()
		c.mu.Unlock()
		return out, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, autherr.Newf(autherr.KindOAuthProviderFailure, "jwks http %d", resp.StatusCode)
	}
	var jj jwks
	if err := json.NewDecoder(resp.Body).Decode(&jj); err != nil {
		return nil, autherr.Wrap(autherr.KindOAuthProviderFailure, "decoding jwks", err)
	}

	c.mu.Lock()
	c.jwks = &jj
	c.jwksAt = time.Now()
	c.jwksETag = resp.Header.Get("ETag")
	c.mu.Unlock()
	return &jj, nil
}

func (c *oidcCore) rsaKeyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	disc, err := c.discovery(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := c.getJWKS(ctx, disc.JWKSURI)
	if err != nil {
		return nil, err
	}
	for _, k := range keys.Keys {
		if k.Kid != kid || !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		nb, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, autherr.Wrap(autherr.KindOAuthProviderFailure, "decoding jwk modulus", err)
		}
		eb, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, autherr.Wrap(autherr.KindOAuthProviderFailure, "decoding jwk exponent", err)
		}
		e := 65537
		if len(eb) > 0 {
			e = 0
			for _, b := range eb {
				e = (e << 8) | int(b)
			}
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
	}
	return nil, autherr.Newf(autherr.KindOAuthProviderFailure, "signing key %q not in jwks", kid)
}

// verifyIDToken checks signature, issuer, audience, nonce and expiry.
// An empty allowedIssuers skips the issuer check for providers whose
// issuer is templated per upstream tenant.
func (c *oidcCore) verifyIDToken(ctx context.Context, idToken, clientID string, allowedIssuers []string, expectedNonce string) (jwtv5.MapClaims, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, autherr.New(autherr.KindInvalidData, "malformed id_token")
	}
	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, autherr.New(autherr.KindInvalidData, "malformed id_token header")
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(hb, &header); err != nil {
		return nil, autherr.New(autherr.KindInvalidData, "malformed id_token header")
	}
	if header.Alg != "RS256" {
		return nil, autherr.Newf(autherr.KindInvalidData, "unexpected id_token alg %q", header.Alg)
	}

	key, err := c.rsaKeyForKid(ctx, header.Kid)
	if err != nil {
		return nil, err
	}
	tok, err := jwtv5.Parse(idToken,
		func(t *jwtv5.Token) (any, error) { return key, nil },
		jwtv5.WithValidMethods([]string{"RS256"}),
		jwtv5.WithLeeway(30*time.Second),
	)
	if err != nil || !tok.Valid {
		return nil, autherr.New(autherr.KindInvalidData, "invalid id_token signature")
	}
	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, autherr.New(autherr.KindInvalidData, "invalid id_token claims")
	}

	if len(allowedIssuers) > 0 {
		iss, _ := claims["iss"].(string)
		found := false
		for _, want := range allowedIssuers {
			if iss == want {
				found = true
				break
			}
		}
		if !found {
			return nil, autherr.Newf(autherr.KindInvalidData, "unexpected id_token issuer %q", iss)
		}
	}

	audOK := false
	switch a := claims["aud"].(type) {
	case string:
		audOK = a == clientID
	case []any:
		for _, v := range a {
			if s, _ := v.(string); s == clientID {
				audOK = true
				break
			}
		}
	}
	if !audOK {
		return nil, autherr.New(autherr.KindInvalidData, "id_token audience mismatch")
	}

	if expectedNonce != "" {
		if got, _ := claims["nonce"].(string); got != expectedNonce {
			return nil, autherr.New(autherr.KindInvalidData, "id_token nonce mismatch")
		}
	}
	return claims, nil
}

// exchangeViaDiscovery posts an authorization-code grant to the issuer's
// token endpoint.
func (c *oidcCore) exchangeViaDiscovery(ctx context.Context, cfg Config, code, redirectURI string, extra map[string]string) (*Tokens, error) {
	disc, err := c.discovery(ctx)
	if err != nil {
		return nil, err
	}
	return postCodeExchange(ctx, c.http, disc.TokenEndpoint, cfg, code, redirectURI, extra)
}

func postCodeExchange(ctx context.Context, client *http.Client, endpoint string, cfg Config, code, redirectURI string, extra map[string]string) (*Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	form.Set("redirect_uri", redirectURI)
	for k, v := range extra {
		form.Set(k, v)
	}

	req, _ := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindOAuthProviderFailure, "exchanging authorization code", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var body struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, autherr.Newf(autherr.KindOAuthProviderFailure,
			"token endpoint http %d: %s %s", resp.StatusCode, body.Error, body.ErrorDescription)
	}

	var tr struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		ExpiresIn    int    `json:"expires_in"`
		Error        string `json:"error"`
		ErrorDesc    string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, autherr.Wrap(autherr.KindOAuthProviderFailure, "decoding token response", err)
	}
	if tr.Error != "" {
		return nil, autherr.Newf(autherr.KindOAuthProviderFailure, "token endpoint error: %s %s", tr.Error, tr.ErrorDesc)
	}
	if tr.AccessToken == "" && tr.IDToken == "" {
		return nil, autherr.New(autherr.KindOAuthProviderFailure, "token response carried no tokens")
	}
	return &Tokens{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
		ExpiresIn:    tr.ExpiresIn,
	}, nil
}

func strClaim(m jwtv5.MapClaims, k string) string {
	s, _ := m[k].(string)
	return s
}

func boolClaim(m jwtv5.MapClaims, k string) bool {
	switch v := m[k].(type) {
	case bool:
		return v
	case string:
		// Apple serializes email_verified as the string "true".
		return v == "true"
	}
	return false
}

func identityFromClaims(claims jwtv5.MapClaims) (*Identity, error) {
	sub := strClaim(claims, "sub")
	if sub == "" {
		return nil, autherr.New(autherr.KindInvalidData, "id_token missing sub claim")
	}
	return &Identity{
		Subject:       sub,
		Email:         strClaim(claims, "email"),
		EmailVerified: boolClaim(claims, "email_verified"),
		Name:          strClaim(claims, "name"),
		Picture:       strClaim(claims, "picture"),
	}, nil
}

func fmtScope(base []string, additional string) string {
	scope := strings.Join(base, " ")
	if additional != "" {
		scope += " " + additional
	}
	return scope
}
