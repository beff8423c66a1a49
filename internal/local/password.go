// Package local implements the locally-held credential providers:
// email+password, magic links and WebAuthn passkeys.
package local

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/observability/logger"
	"github.com/lockhaven/authcore/internal/security/password"
	"github.com/lockhaven/authcore/internal/store/core"
)

// errNoIdentity is the single message for every credential failure so
// callers cannot distinguish a wrong password from an unknown email.
const errNoIdentity = "could not find matching identity"

// PasswordProvider implements email+password registration and sign-in.
type PasswordProvider struct {
	gw     core.Gateway
	hasher *password.Hasher
}

func NewPasswordProvider(gw core.Gateway, hasher *password.Hasher) *PasswordProvider {
	return &PasswordProvider{gw: gw, hasher: hasher}
}

// Register creates a local identity with a password factor. A duplicate
// email surfaces as UserAlreadyRegistered.
func (p *PasswordProvider) Register(ctx context.Context, tenant, email, plaintext string) (core.Identity, core.EmailFactor, error) {
	if email == "" || plaintext == "" {
		return core.Identity{}, core.EmailFactor{}, autherr.New(autherr.KindInvalidData, "email and password are required")
	}
	hash, err := p.hasher.Hash(plaintext)
	if err != nil {
		return core.Identity{}, core.EmailFactor{}, err
	}
	ident, factor, err := p.gw.CreateEmailIdentity(ctx, tenant, email, core.FactorPassword, &hash)
	if err != nil {
		if errors.Is(err, core.ErrConstraint) {
			return core.Identity{}, core.EmailFactor{}, autherr.Newf(autherr.KindUserAlreadyRegistered,
				"%q is already registered", email)
		}
		return core.Identity{}, core.EmailFactor{}, autherr.Wrap(autherr.KindInternal, "creating identity", err)
	}
	return ident, factor, nil
}

// Authenticate verifies email+password and returns the bound factor.
// Unknown email, ambiguous rows and wrong password all fail identically
// with NoIdentityFound. A hash stored under weaker parameters is
// upgraded in place on success.
func (p *PasswordProvider) Authenticate(ctx context.Context, tenant, email, plaintext string) (core.EmailFactor, error) {
	factor, err := p.gw.GetEmailFactor(ctx, tenant, email, core.FactorPassword)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrAmbiguous) {
			return core.EmailFactor{}, autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
		}
		return core.EmailFactor{}, autherr.Wrap(autherr.KindInternal, "looking up factor", err)
	}
	if factor.PasswordHash == nil {
		return core.EmailFactor{}, autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
	}

	ok, err := p.hasher.Verify(plaintext, *factor.PasswordHash)
	if err != nil || !ok {
		return core.EmailFactor{}, autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
	}

	if p.hasher.NeedsRehash(*factor.PasswordHash) {
		if newHash, err := p.hasher.Hash(plaintext); err == nil {
			if err := p.gw.UpdatePasswordHash(ctx, tenant, factor.IdentityID, newHash); err != nil {
				logger.L().Warn("password rehash not persisted",
					logger.IdentityID(factor.IdentityID.String()), logger.Err(err))
			} else {
				factor.PasswordHash = &newHash
			}
		}
	}
	return factor, nil
}

// ResetSecret derives the password-reset secret from the current hash,
// so it stops validating the moment the password changes. It stays
// valid until then; there is no independent expiry.
func ResetSecret(passwordHash string) string {
	sum := sha256.Sum256([]byte(passwordHash))
	return hex.EncodeToString(sum[:])
}

// FactorAndSecret looks up a password factor by email and returns it
// with its current reset secret.
func (p *PasswordProvider) FactorAndSecret(ctx context.Context, tenant, email string) (core.EmailFactor, string, error) {
	factor, err := p.gw.GetEmailFactor(ctx, tenant, email, core.FactorPassword)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrAmbiguous) {
			return core.EmailFactor{}, "", autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
		}
		return core.EmailFactor{}, "", autherr.Wrap(autherr.KindInternal, "looking up factor", err)
	}
	if factor.PasswordHash == nil {
		return core.EmailFactor{}, "", autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
	}
	return factor, ResetSecret(*factor.PasswordHash), nil
}

// ValidateResetSecret checks a presented reset secret against the
// identity's current password hash.
func (p *PasswordProvider) ValidateResetSecret(ctx context.Context, tenant string, identityID uuid.UUID, secret string) (core.EmailFactor, error) {
	factor, err := p.gw.GetEmailFactorByIdentity(ctx, tenant, identityID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.EmailFactor{}, autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
		}
		return core.EmailFactor{}, autherr.Wrap(autherr.KindInternal, "looking up factor", err)
	}
	if factor.PasswordHash == nil {
		return core.EmailFactor{}, autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
	}
	want := ResetSecret(*factor.PasswordHash)
	if subtle.ConstantTimeCompare([]byte(want), []byte(secret)) != 1 {
		return core.EmailFactor{}, autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
	}
	return factor, nil
}

// UpdatePassword stores a fresh hash for the identity's password
// factor, which also rotates the reset secret.
func (p *PasswordProvider) UpdatePassword(ctx context.Context, tenant string, identityID uuid.UUID, plaintext string) error {
	if plaintext == "" {
		return autherr.New(autherr.KindInvalidData, "password is required")
	}
	hash, err := p.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	if err := p.gw.UpdatePasswordHash(ctx, tenant, identityID, hash); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
		}
		return autherr.Wrap(autherr.KindInternal, "updating password", err)
	}
	return nil
}

// MarkVerified stamps the identity's email factor as verified.
func (p *PasswordProvider) MarkVerified(ctx context.Context, tenant string, identityID uuid.UUID, at time.Time) (core.EmailFactor, error) {
	factor, err := p.gw.SetEmailVerified(ctx, tenant, identityID, at)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.EmailFactor{}, autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
		}
		return core.EmailFactor{}, autherr.Wrap(autherr.KindInternal, "marking email verified", err)
	}
	return factor, nil
}
