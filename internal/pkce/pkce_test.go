package pkce

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/store/mem"
)

func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func validVerifier() string {
	return strings.Repeat("v", MinVerifierLen)
}

func TestVerifyChallenge(t *testing.T) {
	v := validVerifier()
	assert.True(t, VerifyChallenge(v, challengeFor(v)))
	assert.False(t, VerifyChallenge(v, challengeFor("other-verifier")))
	assert.False(t, VerifyChallenge(v, ""))
}

func TestRedeemHappyPath(t *testing.T) {
	ctx := context.Background()
	st := mem.New()
	flow := NewFlow(st)

	verifier := validVerifier()
	challenge := challengeFor(verifier)
	require.NoError(t, flow.CreateChallenge(ctx, "acme", challenge))

	ident, _, err := st.UpsertIdentity(ctx, "acme", "github", "12345")
	require.NoError(t, err)

	code, err := flow.LinkIdentity(ctx, "acme", ident.ID, challenge)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, code)

	at := "upstream-access"
	require.NoError(t, flow.StashProviderTokens(ctx, "acme", code, &at, nil, nil))

	rec, err := flow.Redeem(ctx, "acme", code, verifier)
	require.NoError(t, err)
	require.NotNil(t, rec.IdentityID)
	assert.Equal(t, ident.ID, *rec.IdentityID)
	require.NotNil(t, rec.AuthToken)
	assert.Equal(t, "upstream-access", *rec.AuthToken)
}

func TestRedeemIsSingleUse(t *testing.T) {
	ctx := context.Background()
	st := mem.New()
	flow := NewFlow(st)

	verifier := validVerifier()
	challenge := challengeFor(verifier)
	require.NoError(t, flow.CreateChallenge(ctx, "acme", challenge))
	ident, _, err := st.UpsertIdentity(ctx, "acme", "github", "1")
	require.NoError(t, err)
	code, err := flow.LinkIdentity(ctx, "acme", ident.ID, challenge)
	require.NoError(t, err)

	_, err = flow.Redeem(ctx, "acme", code, verifier)
	require.NoError(t, err)

	_, err = flow.Redeem(ctx, "acme", code, verifier)
	require.Error(t, err)
	assert.Equal(t, autherr.KindPKCEVerificationFailed, autherr.KindOf(err))
}

func TestRedeemWrongVerifier(t *testing.T) {
	ctx := context.Background()
	st := mem.New()
	flow := NewFlow(st)

	verifier := validVerifier()
	challenge := challengeFor(verifier)
	require.NoError(t, flow.CreateChallenge(ctx, "acme", challenge))
	ident, _, err := st.UpsertIdentity(ctx, "acme", "github", "1")
	require.NoError(t, err)
	code, err := flow.LinkIdentity(ctx, "acme", ident.ID, challenge)
	require.NoError(t, err)

	_, err = flow.Redeem(ctx, "acme", code, strings.Repeat("w", MinVerifierLen))
	require.Error(t, err)
	assert.Equal(t, autherr.KindPKCEVerificationFailed, autherr.KindOf(err))

	// The failed attempt must not consume the record.
	_, err = flow.Redeem(ctx, "acme", code, verifier)
	assert.NoError(t, err)
}

func TestRedeemVerifierBounds(t *testing.T) {
	ctx := context.Background()
	flow := NewFlow(mem.New())

	for _, n := range []int{MinVerifierLen - 1, MaxVerifierLen + 1} {
		_, err := flow.Redeem(ctx, "acme", uuid.New(), strings.Repeat("v", n))
		require.Error(t, err, "length %d", n)
		assert.Equal(t, autherr.KindInvalidData, autherr.KindOf(err))
	}

	// Boundary lengths pass validation and fail only on the lookup.
	for _, n := range []int{MinVerifierLen, MaxVerifierLen} {
		_, err := flow.Redeem(ctx, "acme", uuid.New(), strings.Repeat("v", n))
		require.Error(t, err, "length %d", n)
		assert.Equal(t, autherr.KindPKCEVerificationFailed, autherr.KindOf(err))
	}
}

func TestLinkRejectsForeignChallenge(t *testing.T) {
	ctx := context.Background()
	st := mem.New()
	flow := NewFlow(st)

	challenge := challengeFor(validVerifier())
	require.NoError(t, flow.CreateChallenge(ctx, "acme", challenge))

	a, _, err := st.UpsertIdentity(ctx, "acme", "github", "a")
	require.NoError(t, err)
	b, _, err := st.UpsertIdentity(ctx, "acme", "github", "b")
	require.NoError(t, err)

	_, err = flow.LinkIdentity(ctx, "acme", a.ID, challenge)
	require.NoError(t, err)

	// Same identity may re-link; a different one may not.
	_, err = flow.LinkIdentity(ctx, "acme", a.ID, challenge)
	require.NoError(t, err)
	_, err = flow.LinkIdentity(ctx, "acme", b.ID, challenge)
	require.Error(t, err)
	assert.Equal(t, autherr.KindPKCEVerificationFailed, autherr.KindOf(err))
}

func TestUnlinkedChallengeCannotBeRedeemed(t *testing.T) {
	ctx := context.Background()
	st := mem.New()
	flow := NewFlow(st)

	verifier := validVerifier()
	require.NoError(t, flow.CreateChallenge(ctx, "acme", challengeFor(verifier)))

	_, err := flow.Redeem(ctx, "acme", uuid.New(), verifier)
	require.Error(t, err)
	assert.Equal(t, autherr.KindPKCEVerificationFailed, autherr.KindOf(err))
}
