package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Store-level outcomes. The pg implementation interprets driver errors into
// these; providers convert them into domain error kinds at their boundary.
var (
	// ErrNotFound: zero rows where one was required.
	ErrNotFound = errors.New("store: not found")
	// ErrAmbiguous: more than one row where exactly one was required. An
	// ambiguous credential match must never be treated as success.
	ErrAmbiguous = errors.New("store: ambiguous result")
	// ErrConstraint: a uniqueness or other constraint violation.
	ErrConstraint = errors.New("store: constraint violation")
)

// Gateway is the parameterized-query surface over the credential store. All
// methods are scoped by tenant; the store is the sole mutable shared
// resource and individual inserts are atomic (identity + factor rows are
// created in one transaction).
type Gateway interface {
	// UpsertIdentity resolves (issuer, subject) to an identity, creating it
	// on first sight. Re-authentication with the same pair always yields the
	// same row. The bool reports whether the identity was created.
	UpsertIdentity(ctx context.Context, tenant, issuer, subject string) (Identity, bool, error)
	GetIdentity(ctx context.Context, tenant string, id uuid.UUID) (Identity, error)

	// CreateEmailIdentity inserts a fresh local identity and its email factor
	// atomically. A duplicate email surfaces as ErrConstraint.
	CreateEmailIdentity(ctx context.Context, tenant, email string, kind FactorKind, passwordHash *string) (Identity, EmailFactor, error)
	// GetEmailFactor requires exactly one match: ErrNotFound on zero,
	// ErrAmbiguous on more.
	GetEmailFactor(ctx context.Context, tenant, email string, kind FactorKind) (EmailFactor, error)
	GetEmailFactorByIdentity(ctx context.Context, tenant string, identityID uuid.UUID) (EmailFactor, error)
	UpdatePasswordHash(ctx context.Context, tenant string, identityID uuid.UUID, hash string) error
	// SetEmailVerified stamps verified_at on the identity's email factor and
	// returns the updated row; ErrNotFound when the identity has none.
	SetEmailVerified(ctx context.Context, tenant string, identityID uuid.UUID, at time.Time) (EmailFactor, error)

	// CreateWebAuthnIdentity inserts a fresh local identity and its
	// authenticator credential atomically.
	CreateWebAuthnIdentity(ctx context.Context, tenant, email string, userHandle, credentialID, publicKey []byte) (Identity, WebAuthnFactor, error)
	GetWebAuthnFactors(ctx context.Context, tenant, email string) ([]WebAuthnFactor, error)
	CreateRegistrationChallenge(ctx context.Context, tenant, email string, userHandle, challenge []byte) error
	// ConsumeRegistrationChallenge returns the single pending challenge for
	// (email, user_handle) and deletes it. ErrNotFound/ErrAmbiguous apply.
	ConsumeRegistrationChallenge(ctx context.Context, tenant, email string, userHandle []byte) (WebAuthnChallenge, error)
	UpsertAuthenticationChallenge(ctx context.Context, tenant, email string, userHandle, challenge []byte) error
	ConsumeAuthenticationChallenge(ctx context.Context, tenant, email string, userHandle []byte) (WebAuthnChallenge, error)

	// CreatePKCEChallenge persists a new PKCE record keyed by challenge.
	CreatePKCEChallenge(ctx context.Context, tenant, challenge string) error
	// LinkPKCEIdentity sets identity_id on the record for challenge (exactly
	// once) and returns the record id, which is the redemption code.
	LinkPKCEIdentity(ctx context.Context, tenant string, identityID uuid.UUID, challenge string) (uuid.UUID, error)
	AddPKCEProviderTokens(ctx context.Context, tenant string, code uuid.UUID, authToken, refreshToken, idToken *string) error
	GetPKCE(ctx context.Context, tenant string, code uuid.UUID) (PKCERecord, error)
	DeletePKCE(ctx context.Context, tenant string, code uuid.UUID) error

	// GetSetting reads one tenant configuration value; ErrNotFound when the
	// key has never been set for the tenant.
	GetSetting(ctx context.Context, tenant, key string) (json.RawMessage, error)
}
