package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/store/mem"
)

func newRegistry(t *testing.T) (*Registry, *mem.Store) {
	t.Helper()
	st := mem.New()
	return NewRegistry(st, time.Minute), st
}

func TestTypedGetters(t *testing.T) {
	ctx := context.Background()
	reg, st := newRegistry(t)

	st.SetSetting("acme", KeyAppName, "Acme Portal")
	st.SetSetting("acme", "require_verification", false)
	st.SetSetting("acme", KeyTokenTTL, "15m")
	st.SetSetting("acme", KeyAllowedRedirectURLs, []string{"https://app.acme.test/auth"})

	s, err := reg.String(ctx, "acme", KeyAppName)
	require.NoError(t, err)
	assert.Equal(t, "Acme Portal", s)

	b, err := reg.RequireVerification(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, b)

	d, err := reg.TokenTTL(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	urls, err := reg.StringSlice(ctx, "acme", KeyAllowedRedirectURLs)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.acme.test/auth"}, urls)
}

func TestMissingSettingKind(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	_, err := reg.String(ctx, "acme", KeySigningKey)
	require.Error(t, err)
	assert.Equal(t, autherr.KindMissingConfiguration, autherr.KindOf(err))

	// Absent settings with fallbacks do not error.
	b, err := reg.RequireVerification(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, b)

	d, err := reg.MagicLinkTTL(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, d)
}

func TestSigningKeyLength(t *testing.T) {
	ctx := context.Background()
	reg, st := newRegistry(t)

	st.SetSetting("acme", KeySigningKey, "short")
	_, err := reg.SigningKey(ctx, "acme")
	require.Error(t, err)
	assert.Equal(t, autherr.KindMissingConfiguration, autherr.KindOf(err))

	st2 := mem.New()
	reg2 := NewRegistry(st2, time.Minute)
	st2.SetSetting("acme", KeySigningKey, "0123456789abcdef0123456789abcdef")
	key, err := reg2.SigningKey(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestIsURLAllowed(t *testing.T) {
	ctx := context.Background()
	reg, st := newRegistry(t)
	st.SetSetting("acme", KeyAllowedRedirectURLs, []string{"https://app.acme.test/auth"})

	base := "https://id.acme.test"
	cases := []struct {
		url string
		ok  bool
	}{
		{"https://app.acme.test/auth/callback", true},
		{"https://app.acme.test/auth", true},
		{"http://APP.ACME.TEST/auth/done", true},
		{"https://app.acme.test/other", false},
		{"https://app.acme.test/authx", false},
		{"https://evil.test/auth", false},
		{"https://id.acme.test/ui/signin", true},
	}
	for _, tc := range cases {
		ok, err := reg.IsURLAllowed(ctx, "acme", tc.url, base)
		require.NoError(t, err)
		assert.Equal(t, tc.ok, ok, tc.url)
	}
}

func TestProviderConfig(t *testing.T) {
	ctx := context.Background()
	reg, st := newRegistry(t)

	st.SetSetting("acme", "provider/github", map[string]string{
		"client_id":     "cid",
		"client_secret": "secret",
	})

	cfg, err := reg.Provider(ctx, "acme", "github")
	require.NoError(t, err)
	assert.Equal(t, "cid", cfg.ClientID)

	_, err = reg.Provider(ctx, "acme", "google")
	require.Error(t, err)
	assert.Equal(t, autherr.KindMissingConfiguration, autherr.KindOf(err))
}
