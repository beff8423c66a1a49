package mem

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockhaven/authcore/internal/store/core"
)

func TestUpsertIdentityIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, created, err := s.UpsertIdentity(ctx, "acme", "https://accounts.google.com", "sub-1")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.UpsertIdentity(ctx, "acme", "https://accounts.google.com", "sub-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	// A different subject, tenant or issuer is a different identity.
	other, created, err := s.UpsertIdentity(ctx, "acme", "https://accounts.google.com", "sub-2")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)

	foreign, created, err := s.UpsertIdentity(ctx, "globex", "https://accounts.google.com", "sub-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, foreign.ID)
}

func TestLocalIdentitiesNeverCollide(t *testing.T) {
	s := New()
	ctx := context.Background()

	hash := "x"
	a, _, err := s.CreateEmailIdentity(ctx, "acme", "a@x.com", core.FactorPassword, &hash)
	require.NoError(t, err)
	b, _, err := s.CreateEmailIdentity(ctx, "acme", "b@x.com", core.FactorPassword, &hash)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, a.IsLocal())
}

func TestCreateEmailIdentityDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()

	hash := "x"
	_, _, err := s.CreateEmailIdentity(ctx, "acme", "a@x.com", core.FactorPassword, &hash)
	require.NoError(t, err)

	_, _, err = s.CreateEmailIdentity(ctx, "acme", "a@x.com", core.FactorPassword, &hash)
	assert.ErrorIs(t, err, core.ErrConstraint)

	// Duplicate across factor kinds too: one email, one local identity.
	_, _, err = s.CreateEmailIdentity(ctx, "acme", "a@x.com", core.FactorMagicLink, nil)
	assert.ErrorIs(t, err, core.ErrConstraint)

	// Same email under another tenant is fine.
	_, _, err = s.CreateEmailIdentity(ctx, "globex", "a@x.com", core.FactorPassword, &hash)
	assert.NoError(t, err)
}

func TestPKCELinkSetOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreatePKCEChallenge(ctx, "acme", "chal"))
	// Re-creating the same challenge keeps the existing record.
	require.NoError(t, s.CreatePKCEChallenge(ctx, "acme", "chal"))

	identity := uuid.New()
	code, err := s.LinkPKCEIdentity(ctx, "acme", identity, "chal")
	require.NoError(t, err)

	// Relinking the same identity is a no-op returning the same code.
	again, err := s.LinkPKCEIdentity(ctx, "acme", identity, "chal")
	require.NoError(t, err)
	assert.Equal(t, code, again)

	// A different identity never steals a linked record.
	_, err = s.LinkPKCEIdentity(ctx, "acme", uuid.New(), "chal")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeletePKCEExactlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreatePKCEChallenge(ctx, "acme", "chal"))
	code, err := s.LinkPKCEIdentity(ctx, "acme", uuid.New(), "chal")
	require.NoError(t, err)

	require.NoError(t, s.DeletePKCE(ctx, "acme", code))
	assert.ErrorIs(t, s.DeletePKCE(ctx, "acme", code), core.ErrNotFound)
	_, err = s.GetPKCE(ctx, "acme", code)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestConsumeAuthenticationChallengeUpsert(t *testing.T) {
	s := New()
	ctx := context.Background()
	handle := []byte("handle")

	require.NoError(t, s.UpsertAuthenticationChallenge(ctx, "acme", "a@x.com", handle, []byte("one")))
	require.NoError(t, s.UpsertAuthenticationChallenge(ctx, "acme", "a@x.com", handle, []byte("two")))

	chal, err := s.ConsumeAuthenticationChallenge(ctx, "acme", "a@x.com", handle)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), chal.Challenge)

	_, err = s.ConsumeAuthenticationChallenge(ctx, "acme", "a@x.com", handle)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSetEmailVerifiedOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	hash := "x"
	ident, _, err := s.CreateEmailIdentity(ctx, "acme", "a@x.com", core.FactorPassword, &hash)
	require.NoError(t, err)

	f, err := s.SetEmailVerified(ctx, "acme", ident.ID, time.Now())
	require.NoError(t, err)
	assert.NotNil(t, f.VerifiedAt)

	_, err = s.SetEmailVerified(ctx, "acme", ident.ID, time.Now())
	assert.ErrorIs(t, err, core.ErrNotFound)
}
