package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/store/mem"
)

func TestNewWebAuthnProviderValidatesOrigin(t *testing.T) {
	st := mem.New()

	_, err := NewWebAuthnProvider(st, "https://id.acme.test", "Acme")
	require.NoError(t, err)

	for _, origin := range []string{"", "not a url", "/relative/path"} {
		_, err := NewWebAuthnProvider(st, origin, "Acme")
		require.Error(t, err, "origin %q", origin)
		assert.Equal(t, autherr.KindMissingConfiguration, autherr.KindOf(err))
	}
}

func TestRegistrationOptionsPersistChallenge(t *testing.T) {
	ctx := context.Background()
	st := mem.New()
	p, err := NewWebAuthnProvider(st, "https://id.acme.test", "Acme")
	require.NoError(t, err)

	creation, handle, err := p.RegistrationOptions(ctx, "acme", "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, creation)
	assert.Len(t, handle, 32)
	assert.Equal(t, "id.acme.test", creation.Response.RelyingParty.ID)

	chal, err := st.ConsumeRegistrationChallenge(ctx, "acme", "a@x.com", handle)
	require.NoError(t, err)
	assert.Equal(t, string(chal.Challenge), creation.Response.Challenge.String())

	// Consumption is one-shot.
	_, err = st.ConsumeRegistrationChallenge(ctx, "acme", "a@x.com", handle)
	require.Error(t, err)
}

func TestAuthenticationOptionsUnknownEmail(t *testing.T) {
	ctx := context.Background()
	p, err := NewWebAuthnProvider(mem.New(), "https://id.acme.test", "Acme")
	require.NoError(t, err)

	_, err = p.AuthenticationOptions(ctx, "acme", "nobody@x.com")
	require.Error(t, err)
	assert.Equal(t, autherr.KindNoIdentityFound, autherr.KindOf(err))
}

func TestRegisterWithoutPendingChallenge(t *testing.T) {
	ctx := context.Background()
	p, err := NewWebAuthnProvider(mem.New(), "https://id.acme.test", "Acme")
	require.NoError(t, err)

	_, _, err = p.Register(ctx, "acme", "a@x.com", []byte("handle"), nil)
	require.Error(t, err)
	assert.Equal(t, autherr.KindNoIdentityFound, autherr.KindOf(err))
}
