package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/store/mem"
	"github.com/lockhaven/authcore/internal/token"
)

func TestMagicLinkRegister(t *testing.T) {
	ctx := context.Background()
	p := NewMagicLinkProvider(mem.New())

	ident, factor, err := p.Register(ctx, "acme", "a@x.com")
	require.NoError(t, err)
	assert.True(t, ident.IsLocal())
	assert.Nil(t, factor.PasswordHash)

	_, _, err = p.Register(ctx, "acme", "a@x.com")
	require.Error(t, err)
	assert.Equal(t, autherr.KindUserAlreadyRegistered, autherr.KindOf(err))
}

func TestMagicLinkTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := mem.New()
	p := NewMagicLinkProvider(st)
	codec := token.NewCodec("https://id.test/acme", []byte("0123456789abcdef0123456789abcdef"))

	ident, _, err := p.Register(ctx, "acme", "a@x.com")
	require.NoError(t, err)

	raw, err := p.MakeToken(codec, ident.ID, "https://app.test/cb", "the-challenge", 10*time.Minute)
	require.NoError(t, err)

	claims, err := p.VerifyToken(codec, raw)
	require.NoError(t, err)
	assert.Equal(t, ident.ID, claims.IdentityID)
	assert.Equal(t, "the-challenge", claims.Challenge)
	assert.Equal(t, "https://app.test/cb", claims.CallbackURL)
}

func TestMagicLinkTokenIsPurposeScoped(t *testing.T) {
	ctx := context.Background()
	p := NewMagicLinkProvider(mem.New())
	codec := token.NewCodec("https://id.test/acme", []byte("0123456789abcdef0123456789abcdef"))

	ident, _, err := p.Register(ctx, "acme", "a@x.com")
	require.NoError(t, err)

	raw, err := p.MakeToken(codec, ident.ID, "https://app.test/cb", "c", 10*time.Minute)
	require.NoError(t, err)

	// A session-key verification of a magic-link token must fail.
	_, err = codec.Verify(raw)
	require.Error(t, err)
	assert.Equal(t, autherr.KindInvalidData, autherr.KindOf(err))

	// So must verification under a different tenant key.
	_, err = p.VerifyToken(token.NewCodec("https://id.test/acme", []byte("another-signing-key-32-bytes-long")), raw)
	require.Error(t, err)
}

func TestMagicLinkTokenExpiry(t *testing.T) {
	ctx := context.Background()
	p := NewMagicLinkProvider(mem.New())
	codec := token.NewCodec("https://id.test/acme", []byte("0123456789abcdef0123456789abcdef"))

	ident, _, err := p.Register(ctx, "acme", "a@x.com")
	require.NoError(t, err)

	raw, err := p.MakeToken(codec, ident.ID, "https://app.test/cb", "c", -time.Minute)
	require.NoError(t, err)

	_, err = p.VerifyToken(codec, raw)
	require.Error(t, err)
	assert.Equal(t, autherr.KindInvalidData, autherr.KindOf(err))
}

func TestBuildLink(t *testing.T) {
	link, err := BuildLink("https://id.test/acme/magic-link/authenticate?foo=1", "tok123")
	require.NoError(t, err)
	assert.Contains(t, link, "token=tok123")
	assert.Contains(t, link, "foo=1")
}
