package local

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/store/core"
	"github.com/lockhaven/authcore/internal/token"
)

// PurposeMagicLink scopes the magic-link token signing key.
const PurposeMagicLink = "magic_link"

// MagicLinkProvider implements passwordless sign-in via emailed
// single-purpose tokens.
type MagicLinkProvider struct {
	gw core.Gateway
}

func NewMagicLinkProvider(gw core.Gateway) *MagicLinkProvider {
	return &MagicLinkProvider{gw: gw}
}

// Register creates a local identity with a magic-link factor; no
// password is stored.
func (p *MagicLinkProvider) Register(ctx context.Context, tenant, emailAddr string) (core.Identity, core.EmailFactor, error) {
	if emailAddr == "" {
		return core.Identity{}, core.EmailFactor{}, autherr.New(autherr.KindInvalidData, "email is required")
	}
	ident, factor, err := p.gw.CreateEmailIdentity(ctx, tenant, emailAddr, core.FactorMagicLink, nil)
	if err != nil {
		if errors.Is(err, core.ErrConstraint) {
			return core.Identity{}, core.EmailFactor{}, autherr.Newf(autherr.KindUserAlreadyRegistered,
				"%q is already registered", emailAddr)
		}
		return core.Identity{}, core.EmailFactor{}, autherr.Wrap(autherr.KindInternal, "creating identity", err)
	}
	return ident, factor, nil
}

// Factor resolves the magic-link factor for an email, opaquely.
func (p *MagicLinkProvider) Factor(ctx context.Context, tenant, emailAddr string) (core.EmailFactor, error) {
	factor, err := p.gw.GetEmailFactor(ctx, tenant, emailAddr, core.FactorMagicLink)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrAmbiguous) {
			return core.EmailFactor{}, autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
		}
		return core.EmailFactor{}, autherr.Wrap(autherr.KindInternal, "looking up factor", err)
	}
	return factor, nil
}

// MakeToken mints the purpose-scoped token a magic link carries. The
// PKCE challenge rides inside, so redeeming the link completes the
// same code exchange an OAuth flow would.
func (p *MagicLinkProvider) MakeToken(codec *token.Codec, identityID uuid.UUID, callbackURL, challenge string, ttl time.Duration) (string, error) {
	return codec.ForPurpose(PurposeMagicLink).Mint(map[string]any{
		"sub":       identityID.String(),
		"callback":  callbackURL,
		"challenge": challenge,
	}, ttl)
}

// MagicLinkClaims is a verified magic-link token's payload.
type MagicLinkClaims struct {
	IdentityID  uuid.UUID
	Challenge   string
	CallbackURL string
}

// VerifyToken checks a presented magic-link token and returns the
// claims it was minted with.
func (p *MagicLinkProvider) VerifyToken(codec *token.Codec, raw string) (MagicLinkClaims, error) {
	claims, err := codec.ForPurpose(PurposeMagicLink).Verify(raw)
	if err != nil {
		return MagicLinkClaims{}, err
	}
	sub, err := token.StringClaim(claims, "sub")
	if err != nil {
		return MagicLinkClaims{}, err
	}
	identityID, err := uuid.Parse(sub)
	if err != nil {
		return MagicLinkClaims{}, autherr.New(autherr.KindInvalidData, "invalid token subject")
	}
	challenge, err := token.StringClaim(claims, "challenge")
	if err != nil {
		return MagicLinkClaims{}, err
	}
	return MagicLinkClaims{
		IdentityID:  identityID,
		Challenge:   challenge,
		CallbackURL: token.MaybeStringClaim(claims, "callback"),
	}, nil
}

// BuildLink appends the token to the tenant's callback URL.
func BuildLink(callbackURL, tokenValue string) (string, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", autherr.New(autherr.KindInvalidData, "invalid callback url")
	}
	q := u.Query()
	q.Set("token", tokenValue)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
