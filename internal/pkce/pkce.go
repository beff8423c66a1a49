// Package pkce manages proof-key-for-code-exchange challenges: clients
// register a code challenge before authorizing, the callback binds the
// resulting identity to it, and the token endpoint redeems it exactly
// once against the matching verifier.
package pkce

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/store/core"
)

// RFC 7636 bounds on the code verifier.
const (
	MinVerifierLen = 43
	MaxVerifierLen = 128
)

type Flow struct {
	gw core.Gateway
}

func NewFlow(gw core.Gateway) *Flow {
	return &Flow{gw: gw}
}

// CreateChallenge records a client's code challenge. Re-registering the
// same challenge is a no-op, so retries are safe.
func (f *Flow) CreateChallenge(ctx context.Context, tenant, challenge string) error {
	if challenge == "" {
		return autherr.New(autherr.KindInvalidData, "missing challenge")
	}
	if err := f.gw.CreatePKCEChallenge(ctx, tenant, challenge); err != nil {
		return autherr.Wrap(autherr.KindInternal, "storing pkce challenge", err)
	}
	return nil
}

// LinkIdentity binds an authenticated identity to a pending challenge
// and returns the one-time code the client redeems at the token
// endpoint. A challenge already bound to a different identity does not
// match.
func (f *Flow) LinkIdentity(ctx context.Context, tenant string, identityID uuid.UUID, challenge string) (uuid.UUID, error) {
	code, err := f.gw.LinkPKCEIdentity(ctx, tenant, identityID, challenge)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return uuid.Nil, autherr.New(autherr.KindPKCEVerificationFailed, "could not verify pkce challenge")
		}
		return uuid.Nil, autherr.Wrap(autherr.KindInternal, "linking pkce challenge", err)
	}
	return code, nil
}

// StashProviderTokens attaches upstream provider tokens to the pending
// exchange so the token response can forward them.
func (f *Flow) StashProviderTokens(ctx context.Context, tenant string, code uuid.UUID, authToken, refreshToken, idToken *string) error {
	if err := f.gw.AddPKCEProviderTokens(ctx, tenant, code, authToken, refreshToken, idToken); err != nil {
		return autherr.Wrap(autherr.KindInternal, "storing provider tokens", err)
	}
	return nil
}

// Redeem validates verifier against the challenge bound to code and
// consumes the record. The delete happens before the result is
// returned, so a code can never be redeemed twice.
func (f *Flow) Redeem(ctx context.Context, tenant string, code uuid.UUID, verifier string) (core.PKCERecord, error) {
	if len(verifier) < MinVerifierLen || len(verifier) > MaxVerifierLen {
		return core.PKCERecord{}, autherr.Newf(autherr.KindInvalidData,
			"verifier must be between %d and %d characters", MinVerifierLen, MaxVerifierLen)
	}

	rec, err := f.gw.GetPKCE(ctx, tenant, code)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.PKCERecord{}, autherr.New(autherr.KindPKCEVerificationFailed, "could not verify pkce challenge")
		}
		return core.PKCERecord{}, autherr.Wrap(autherr.KindInternal, "loading pkce challenge", err)
	}
	if !VerifyChallenge(verifier, rec.Challenge) {
		return core.PKCERecord{}, autherr.New(autherr.KindPKCEVerificationFailed, "could not verify pkce challenge")
	}
	if rec.IdentityID == nil {
		return core.PKCERecord{}, autherr.New(autherr.KindPKCEVerificationFailed, "could not verify pkce challenge")
	}

	if err := f.gw.DeletePKCE(ctx, tenant, code); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// A concurrent redeem got there first.
			return core.PKCERecord{}, autherr.New(autherr.KindPKCEVerificationFailed, "could not verify pkce challenge")
		}
		return core.PKCERecord{}, autherr.Wrap(autherr.KindInternal, "consuming pkce challenge", err)
	}
	return rec, nil
}

// VerifyChallenge reports whether challenge is the S256 transform of
// verifier: base64url(sha256(verifier)) without padding.
func VerifyChallenge(verifier, challenge string) bool {
	sum := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(want), []byte(challenge)) == 1
}
