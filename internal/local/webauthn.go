package local

import (
	"context"
	"crypto/rand"
	"errors"
	"net/url"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/store/core"
)

// WebAuthnProvider runs passkey registration and authentication
// ceremonies. The relying-party id is the configured origin's hostname,
// fixed at construction.
type WebAuthnProvider struct {
	gw core.Gateway
	wa *webauthn.WebAuthn
}

// NewWebAuthnProvider validates the relying-party origin up front; an
// origin without a parsable hostname is a configuration error.
func NewWebAuthnProvider(gw core.Gateway, origin, displayName string) (*WebAuthnProvider, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return nil, autherr.Newf(autherr.KindMissingConfiguration,
			"relying party origin %q has no hostname", origin)
	}
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: displayName,
		RPID:          u.Hostname(),
		RPOrigins:     []string{origin},
	})
	if err != nil {
		return nil, autherr.Wrap(autherr.KindMissingConfiguration, "configuring webauthn", err)
	}
	return &WebAuthnProvider{gw: gw, wa: wa}, nil
}

// waUser adapts an email and its stored factors to the ceremony's user
// view.
type waUser struct {
	email       string
	handle      []byte
	credentials []webauthn.Credential
}

func (u *waUser) WebAuthnID() []byte                         { return u.handle }
func (u *waUser) WebAuthnName() string                       { return u.email }
func (u *waUser) WebAuthnDisplayName() string                { return u.email }
func (u *waUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }
func (u *waUser) WebAuthnIcon() string                       { return "" }

// RegistrationOptions begins a registration ceremony: it generates a
// fresh user handle, persists the challenge keyed by (email, handle)
// and returns the browser-facing options.
func (p *WebAuthnProvider) RegistrationOptions(ctx context.Context, tenant, email string) (*protocol.CredentialCreation, []byte, error) {
	if email == "" {
		return nil, nil, autherr.New(autherr.KindInvalidData, "email is required")
	}
	handle := make([]byte, 32)
	if _, err := rand.Read(handle); err != nil {
		return nil, nil, autherr.Wrap(autherr.KindInternal, "generating user handle", err)
	}

	user := &waUser{email: email, handle: handle}
	creation, session, err := p.wa.BeginRegistration(user)
	if err != nil {
		return nil, nil, autherr.Wrap(autherr.KindInternal, "beginning registration", err)
	}
	if err := p.gw.CreateRegistrationChallenge(ctx, tenant, email, handle, []byte(session.Challenge)); err != nil {
		return nil, nil, autherr.Wrap(autherr.KindInternal, "storing registration challenge", err)
	}
	return creation, handle, nil
}

// Register completes a registration ceremony. The pending challenge for
// (email, userHandle) is consumed whether or not attestation verifies;
// a duplicate credential surfaces as UserAlreadyRegistered.
func (p *WebAuthnProvider) Register(ctx context.Context, tenant, email string, userHandle []byte, response *protocol.ParsedCredentialCreationData) (core.Identity, core.WebAuthnFactor, error) {
	chal, err := p.gw.ConsumeRegistrationChallenge(ctx, tenant, email, userHandle)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrAmbiguous) {
			return core.Identity{}, core.WebAuthnFactor{}, autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
		}
		return core.Identity{}, core.WebAuthnFactor{}, autherr.Wrap(autherr.KindInternal, "consuming challenge", err)
	}

	user := &waUser{email: email, handle: userHandle}
	session := webauthn.SessionData{
		Challenge: string(chal.Challenge),
		UserID:    userHandle,
	}
	cred, err := p.wa.CreateCredential(user, session, response)
	if err != nil {
		return core.Identity{}, core.WebAuthnFactor{}, autherr.Wrap(autherr.KindInvalidData, "attestation verification failed", err)
	}

	ident, factor, err := p.gw.CreateWebAuthnIdentity(ctx, tenant, email, userHandle, cred.ID, cred.PublicKey)
	if err != nil {
		if errors.Is(err, core.ErrConstraint) {
			return core.Identity{}, core.WebAuthnFactor{}, autherr.Newf(autherr.KindUserAlreadyRegistered,
				"%q is already registered", email)
		}
		return core.Identity{}, core.WebAuthnFactor{}, autherr.Wrap(autherr.KindInternal, "creating identity", err)
	}
	return ident, factor, nil
}

// AuthenticationOptions begins an authentication ceremony against the
// email's registered credentials.
func (p *WebAuthnProvider) AuthenticationOptions(ctx context.Context, tenant, email string) (*protocol.CredentialAssertion, error) {
	user, err := p.loadUser(ctx, tenant, email)
	if err != nil {
		return nil, err
	}
	assertion, session, err := p.wa.BeginLogin(user)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "beginning login", err)
	}
	if err := p.gw.UpsertAuthenticationChallenge(ctx, tenant, email, user.handle, []byte(session.Challenge)); err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "storing authentication challenge", err)
	}
	return assertion, nil
}

// Authenticate completes an authentication ceremony and resolves the
// identity owning the asserted credential.
func (p *WebAuthnProvider) Authenticate(ctx context.Context, tenant, email string, response *protocol.ParsedCredentialAssertionData) (core.Identity, error) {
	user, err := p.loadUser(ctx, tenant, email)
	if err != nil {
		return core.Identity{}, err
	}
	chal, err := p.gw.ConsumeAuthenticationChallenge(ctx, tenant, email, user.handle)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrAmbiguous) {
			return core.Identity{}, autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
		}
		return core.Identity{}, autherr.Wrap(autherr.KindInternal, "consuming challenge", err)
	}

	session := webauthn.SessionData{
		Challenge: string(chal.Challenge),
		UserID:    user.handle,
	}
	cred, err := p.wa.ValidateLogin(user, session, response)
	if err != nil {
		return core.Identity{}, autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
	}

	factors, err := p.gw.GetWebAuthnFactors(ctx, tenant, email)
	if err != nil {
		return core.Identity{}, autherr.Wrap(autherr.KindInternal, "loading factors", err)
	}
	for _, f := range factors {
		if string(f.CredentialID) == string(cred.ID) {
			ident, err := p.gw.GetIdentity(ctx, tenant, f.IdentityID)
			if err != nil {
				return core.Identity{}, autherr.Wrap(autherr.KindInternal, "loading identity", err)
			}
			return ident, nil
		}
	}
	return core.Identity{}, autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
}

func (p *WebAuthnProvider) loadUser(ctx context.Context, tenant, email string) (*waUser, error) {
	if email == "" {
		return nil, autherr.New(autherr.KindInvalidData, "email is required")
	}
	factors, err := p.gw.GetWebAuthnFactors(ctx, tenant, email)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "loading factors", err)
	}
	if len(factors) == 0 {
		return nil, autherr.New(autherr.KindNoIdentityFound, errNoIdentity)
	}

	user := &waUser{email: email, handle: factors[0].UserHandle}
	for _, f := range factors {
		user.credentials = append(user.credentials, webauthn.Credential{
			ID:        f.CredentialID,
			PublicKey: f.PublicKey,
		})
	}
	return user, nil
}
