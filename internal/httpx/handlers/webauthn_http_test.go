package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWebAuthn(f *fixture) {
	f.store.SetSetting("acme", "webauthn/relying_party_origin", "https://app.test")
}

func TestWebAuthnRegisterOptions(t *testing.T) {
	f := newFixture(t)
	seedWebAuthn(f)

	rec := f.do(t, "GET", "/acme/webauthn/register/options?email=pk@x.com", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Options struct {
			PublicKey struct {
				Challenge string `json:"challenge"`
				RP        struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"rp"`
			} `json:"publicKey"`
		} `json:"options"`
		UserHandle string `json:"user_handle"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out.Options.PublicKey.Challenge)
	assert.Equal(t, "app.test", out.Options.PublicKey.RP.ID)
	assert.Equal(t, "Acme", out.Options.PublicKey.RP.Name)

	handle, err := base64.RawURLEncoding.DecodeString(out.UserHandle)
	require.NoError(t, err)
	assert.Len(t, handle, 32)
}

func TestWebAuthnOptionsWithoutOrigin(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/acme/webauthn/register/options?email=pk@x.com", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	kind, _ := decodeError(t, rec)
	assert.Equal(t, "MissingConfiguration", kind)
}

func TestWebAuthnAuthenticateOptionsUnknownEmail(t *testing.T) {
	f := newFixture(t)
	seedWebAuthn(f)

	rec := f.do(t, "GET", "/acme/webauthn/authenticate/options?email=ghost@x.com", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	kind, msg := decodeError(t, rec)
	assert.Equal(t, "NoIdentityFound", kind)
	assert.Equal(t, "could not find matching identity", msg)
}

func TestWebAuthnRegisterRejectsMalformedBody(t *testing.T) {
	f := newFixture(t)
	seedWebAuthn(f)

	req := httptest.NewRequest("POST", "/acme/webauthn/register",
		strings.NewReader(`{"email":"pk@x.com"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := doRaw(f, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebAuthnRegisterRejectsBadCredentialPayload(t *testing.T) {
	f := newFixture(t)
	seedWebAuthn(f)

	body := map[string]any{
		"email":       "pk@x.com",
		"user_handle": base64.RawURLEncoding.EncodeToString(make([]byte, 32)),
		"credentials": map[string]any{"id": "not-a-credential"},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/acme/webauthn/register", strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	rec := doRaw(f, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	kind, _ := decodeError(t, rec)
	assert.Equal(t, "InvalidData", kind)
}

func TestWebAuthnRegisterOptionsPersistsChallenge(t *testing.T) {
	f := newFixture(t)
	seedWebAuthn(f)

	first := f.do(t, "GET", "/acme/webauthn/register/options?email=pk@x.com", nil)
	second := f.do(t, "GET", "/acme/webauthn/register/options?email=pk@x.com", nil)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)

	// Each ceremony start issues a fresh challenge.
	var a, b struct {
		Options struct {
			PublicKey struct {
				Challenge string `json:"challenge"`
			} `json:"publicKey"`
		} `json:"options"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.NotEqual(t, a.Options.PublicKey.Challenge, b.Options.PublicKey.Challenge)
}

func TestWebAuthnOptionsRequireEmail(t *testing.T) {
	f := newFixture(t)
	seedWebAuthn(f)

	for _, path := range []string{
		"/acme/webauthn/register/options",
		"/acme/webauthn/authenticate/options",
	} {
		rec := f.do(t, "GET", path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}
