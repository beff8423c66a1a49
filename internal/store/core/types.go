// Package core declares the typed records held by the credential store and
// the gateway interface the rest of the service talks to. The backing store
// is the only place authoritative identity records live; nothing here is
// cached across requests.
package core

import (
	"time"

	"github.com/google/uuid"
)

// LocalIssuer is the issuer value recorded on identities created by the
// local providers (email/password, magic link, WebAuthn).
const LocalIssuer = "local"

// Identity is a federated or local principal, uniquely keyed by
// (issuer, subject) within a tenant.
type Identity struct {
	ID         uuid.UUID
	Issuer     string
	Subject    string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// IsLocal reports whether the identity was created by a local provider.
func (i Identity) IsLocal() bool { return i.Issuer == LocalIssuer }

// FactorKind distinguishes the local credential row types sharing the
// email_factors table.
type FactorKind string

const (
	FactorPassword  FactorKind = "password"
	FactorMagicLink FactorKind = "magic_link"
)

// EmailFactor ties an email address to a local identity. Password factors
// carry the PHC hash; magic-link factors carry none.
type EmailFactor struct {
	ID           uuid.UUID
	IdentityID   uuid.UUID
	Email        string
	Kind         FactorKind
	PasswordHash *string
	VerifiedAt   *time.Time
	CreatedAt    time.Time
}

// WebAuthnFactor is a bound authenticator credential.
type WebAuthnFactor struct {
	ID           uuid.UUID
	IdentityID   uuid.UUID
	Email        string
	UserHandle   []byte
	CredentialID []byte
	PublicKey    []byte
	VerifiedAt   *time.Time
	CreatedAt    time.Time
}

// WebAuthnChallenge is an ephemeral server-issued challenge, consumed at
// verification time. Registration challenges are keyed (email, user_handle);
// authentication challenges are keyed by the factor's (email, user_handle)
// and overwritten on re-issue.
type WebAuthnChallenge struct {
	ID         uuid.UUID
	Email      string
	UserHandle []byte
	Challenge  []byte
	CreatedAt  time.Time
}

// PKCERecord binds an app-generated challenge to a later-resolved identity.
// Its id doubles as the single-use code handed back to the application.
type PKCERecord struct {
	ID           uuid.UUID
	Challenge    string
	IdentityID   *uuid.UUID
	AuthToken    *string
	RefreshToken *string
	IDToken      *string
	CreatedAt    time.Time
}
