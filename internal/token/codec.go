// Package token signs and verifies the compact tokens that carry flow state:
// OAuth state tokens, session tokens and the purpose-derived tokens used by
// the reset, verification and magic-link flows.
package token

import (
	"crypto/sha256"
	"io"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/lockhaven/authcore/internal/autherr"
)

// NoExpiry mints a token without an exp claim. Session tokens use this when
// the tenant configures a zero time-to-live.
const NoExpiry time.Duration = 0

// Codec mints and verifies HS256 tokens for one tenant. The issuer is the
// tenant's auth base path, which doubles as the installation discriminator:
// a token minted under one base path never verifies under another.
type Codec struct {
	issuer string
	key    []byte
}

func NewCodec(issuer string, signingKey []byte) *Codec {
	return &Codec{issuer: issuer, key: signingKey}
}

func (c *Codec) Issuer() string { return c.issuer }

// ForPurpose derives a purpose-scoped codec via HKDF-SHA256 keyed by the
// purpose string. A token minted for "reset" can never be replayed as a
// "magic_link" token because the signing keys differ.
func (c *Codec) ForPurpose(purpose string) *Codec {
	r := hkdf.New(sha256.New, c.key, nil, []byte(purpose))
	derived := make([]byte, 32)
	if _, err := io.ReadFull(r, derived); err != nil {
		// hkdf only fails when asked for more output than SHA-256 allows;
		// 32 bytes is always available.
		panic(err)
	}
	return &Codec{issuer: c.issuer, key: derived}
}

// Mint signs the claims, stamping iss and, when ttl is not NoExpiry, exp.
func (c *Codec) Mint(claims map[string]any, ttl time.Duration) (string, error) {
	mc := jwtv5.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	mc["iss"] = c.issuer
	if ttl != NoExpiry {
		mc["exp"] = jwtv5.NewNumericDate(time.Now().Add(ttl))
	}
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, mc)
	signed, err := tok.SignedString(c.key)
	if err != nil {
		return "", autherr.Wrap(autherr.KindInternal, "failed to sign token", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and (when present) expiry, and returns the
// claims. Any mismatch is InvalidData: a tampered or foreign token carries no
// partial trust.
func (c *Codec) Verify(token string) (map[string]any, error) {
	parser := jwtv5.NewParser(
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(c.issuer),
	)
	parsed, err := parser.Parse(token, func(t *jwtv5.Token) (any, error) {
		return c.key, nil
	})
	if err != nil || !parsed.Valid {
		return nil, autherr.New(autherr.KindInvalidData, "invalid token")
	}
	claims, ok := parsed.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, autherr.New(autherr.KindInvalidData, "invalid token")
	}
	return claims, nil
}

// StringClaim pulls a required string claim out of a verified claim set.
func StringClaim(claims map[string]any, key string) (string, error) {
	v, _ := claims[key].(string)
	if v == "" {
		return "", autherr.Newf(autherr.KindInvalidData, "missing %q claim", key)
	}
	return v, nil
}

// MaybeStringClaim returns the claim or "" when absent.
func MaybeStringClaim(claims map[string]any, key string) string {
	v, _ := claims[key].(string)
	return v
}
