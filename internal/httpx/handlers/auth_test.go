package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockhaven/authcore/internal/email"
	"github.com/lockhaven/authcore/internal/httpx"
	"github.com/lockhaven/authcore/internal/pkce"
	"github.com/lockhaven/authcore/internal/rate"
	"github.com/lockhaven/authcore/internal/security/password"
	"github.com/lockhaven/authcore/internal/store/mem"
	"github.com/lockhaven/authcore/internal/tenant"
	"github.com/lockhaven/authcore/internal/token"
)

const (
	testBaseURL    = "https://id.test"
	testSigningKey = "0123456789abcdef0123456789abcdef"
)

type fixture struct {
	router http.Handler
	store  *mem.Store
	sender *email.MemorySender
	codec  *token.Codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := mem.New()
	st.SetSetting("acme", tenant.KeySigningKey, testSigningKey)
	st.SetSetting("acme", tenant.KeyAllowedRedirectURLs, []string{"https://app.test/auth"})
	st.SetSetting("acme", tenant.KeyAppName, "Acme")
	st.SetSetting("acme", "provider/github", map[string]string{
		"client_id": "cid", "client_secret": "sec",
	})

	tpls, err := email.LoadTemplates()
	require.NoError(t, err)
	sender := &email.MemorySender{}

	auth := NewAuth(Deps{
		Store:         st,
		Settings:      tenant.NewRegistry(st, time.Minute),
		Hasher:        password.NewHasher(password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1}),
		Templates:     tpls,
		Dispatcher:    email.NewDispatcher(sender),
		Limiter:       rate.NewLocalLimiter(100, time.Minute),
		PublicBaseURL: testBaseURL,
		Dev:           true,
	})
	return &fixture{
		router: auth.Routes(),
		store:  st,
		sender: sender,
		codec:  token.NewCodec(testBaseURL+"/acme", []byte(testSigningKey)),
	}
}

func (f *fixture) do(t *testing.T, method, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func doRaw(f *fixture, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Type, env.Error.Message
}

func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestRegisterThenAuthenticateEndToEnd(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/acme/register", url.Values{
		"email": {"a@x.com"}, "password": {"p"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reg struct {
		AuthToken  string `json:"auth_token"`
		IdentityID string `json:"identity_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	assert.NotEmpty(t, reg.AuthToken)
	assert.NotEmpty(t, reg.IdentityID)

	rec = f.do(t, "POST", "/acme/authenticate", url.Values{
		"email": {"a@x.com"}, "password": {"p"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var auth struct {
		IdentityID string `json:"identity_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auth))
	assert.Equal(t, reg.IdentityID, auth.IdentityID)

	rec = f.do(t, "POST", "/acme/authenticate", url.Values{
		"email": {"a@x.com"}, "password": {"wrong"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	kind, _ := decodeError(t, rec)
	assert.Equal(t, "NoIdentityFound", kind)
}

func TestAuthenticateOpacityOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/acme/register", url.Values{
		"email": {"real@example.com"}, "password": {"correct"},
	})

	unknown := f.do(t, "POST", "/acme/authenticate", url.Values{
		"email": {"nope@example.com"}, "password": {"wrong"},
	})
	wrongPw := f.do(t, "POST", "/acme/authenticate", url.Values{
		"email": {"real@example.com"}, "password": {"wrongpassword"},
	})

	assert.Equal(t, http.StatusForbidden, unknown.Code)
	assert.Equal(t, http.StatusForbidden, wrongPw.Code)
	assert.Equal(t, unknown.Body.String(), wrongPw.Body.String())
}

func TestSessionCookieAttributes(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "POST", "/acme/register", url.Values{
		"email": {"a@x.com"}, "password": {"p"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	assert.Equal(t, httpx.SessionCookieName, ck.Name)
	assert.True(t, ck.HttpOnly)
	assert.True(t, ck.Secure)
	assert.Equal(t, http.SameSiteStrictMode, ck.SameSite)
	assert.NotEmpty(t, ck.Value)
}

func TestDuplicateRegistration(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/acme/register", url.Values{"email": {"a@x.com"}, "password": {"p"}})

	rec := f.do(t, "POST", "/acme/register", url.Values{"email": {"a@x.com"}, "password": {"q"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	kind, _ := decodeError(t, rec)
	assert.Equal(t, "UserAlreadyRegistered", kind)
}

func TestPKCERedemptionLifecycle(t *testing.T) {
	f := newFixture(t)

	verifier := strings.Repeat("v", 43)
	challenge := challengeFor(verifier)

	rec := f.do(t, "POST", "/acme/register", url.Values{
		"email": {"a@x.com"}, "password": {"p"}, "challenge": {challenge},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Code)

	// Wrong-length verifiers are rejected before any lookup.
	for _, n := range []int{42, 129} {
		bad := f.do(t, "GET", "/acme/token?code="+out.Code+"&verifier="+strings.Repeat("v", n), nil)
		assert.Equal(t, http.StatusBadRequest, bad.Code, "length %d", n)
	}

	rec = f.do(t, "GET", "/acme/token?code="+out.Code+"&verifier="+verifier, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok struct {
		AuthToken  string `json:"auth_token"`
		IdentityID string `json:"identity_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.NotEmpty(t, tok.AuthToken)

	// Single use: the same code never redeems twice.
	rec = f.do(t, "GET", "/acme/token?code="+out.Code+"&verifier="+verifier, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTokenReturnsStashedProviderTokens(t *testing.T) {
	f := newFixture(t)
	verifier := strings.Repeat("v", 43)

	rec := f.do(t, "POST", "/acme/register", url.Values{
		"email": {"a@x.com"}, "password": {"p"}, "challenge": {challengeFor(verifier)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	code, err := uuid.Parse(out.Code)
	require.NoError(t, err)

	at, rt, idt := "upstream-access", "upstream-refresh", "upstream-id"
	require.NoError(t, pkce.NewFlow(f.store).StashProviderTokens(
		context.Background(), "acme", code, &at, &rt, &idt))

	rec = f.do(t, "GET", "/acme/token?code="+out.Code+"&verifier="+verifier, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok struct {
		ProviderToken        string `json:"provider_token"`
		ProviderRefreshToken string `json:"provider_refresh_token"`
		ProviderIDToken      string `json:"provider_id_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.Equal(t, "upstream-access", tok.ProviderToken)
	assert.Equal(t, "upstream-refresh", tok.ProviderRefreshToken)
	assert.Equal(t, "upstream-id", tok.ProviderIDToken)
}

func TestPKCEMaxLengthVerifier(t *testing.T) {
	f := newFixture(t)
	verifier := strings.Repeat("v", 128)
	challenge := challengeFor(verifier)

	rec := f.do(t, "POST", "/acme/register", url.Values{
		"email": {"a@x.com"}, "password": {"p"}, "challenge": {challenge},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	rec = f.do(t, "GET", "/acme/token?code="+out.Code+"&verifier="+verifier, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAuthorizeRedirectsToProvider(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/acme/authorize?provider=github&redirect_to="+
		url.QueryEscape("https://app.test/auth/done")+"&challenge=chal123", nil)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "github.com", loc.Host)
	q := loc.Query()
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, testBaseURL+"/acme/callback", q.Get("redirect_uri"))
	require.NotEmpty(t, q.Get("state"))

	// The state token round-trips through the tenant codec.
	claims, err := f.codec.Verify(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "github", claims["provider"])
	assert.Equal(t, "chal123", claims["challenge"])
	assert.Equal(t, "https://app.test/auth/done", claims["redirect_to"])
}

func TestAuthorizeRejectsUnlistedRedirect(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/acme/authorize?provider=github&redirect_to="+
		url.QueryEscape("https://evil.test/steal")+"&challenge=c", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterRejectsUnlistedRedirect(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "POST", "/acme/register", url.Values{
		"email": {"a@x.com"}, "password": {"p"},
		"redirect_to": {"https://evil.test/steal"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	kind, _ := decodeError(t, rec)
	assert.Equal(t, "InvalidData", kind)
	assert.Empty(t, rec.Result().Cookies())
}

func TestAuthenticateRejectsUnlistedRedirect(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "POST", "/acme/register", url.Values{
		"email": {"a@x.com"}, "password": {"p"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/acme/authenticate", url.Values{
		"email": {"a@x.com"}, "password": {"p"},
		"redirect_to": {"https://evil.test/steal"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	kind, _ := decodeError(t, rec)
	assert.Equal(t, "InvalidData", kind)
	assert.Empty(t, rec.Result().Cookies())
}

func TestAuthorizeUnconfiguredProvider(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/acme/authorize?provider=google&redirect_to="+
		url.QueryEscape("https://app.test/auth/done")+"&challenge=c", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	kind, _ := decodeError(t, rec)
	assert.Equal(t, "MissingConfiguration", kind)
}

func TestCallbackStateTamperRejected(t *testing.T) {
	f := newFixture(t)

	state, err := f.codec.Mint(map[string]any{
		"provider": "github", "redirect_to": "https://app.test/auth/done", "challenge": "c",
	}, 5*time.Minute)
	require.NoError(t, err)

	// Flip a byte in the signature segment.
	tampered := state[:len(state)-2] + "zz"
	rec := f.do(t, "GET", "/acme/callback?state="+url.QueryEscape(tampered)+"&code=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	kind, _ := decodeError(t, rec)
	assert.Equal(t, "InvalidData", kind)
}

func TestCallbackExpiredStateRejected(t *testing.T) {
	f := newFixture(t)

	state, err := f.codec.Mint(map[string]any{
		"provider": "github", "redirect_to": "https://app.test/auth/done", "challenge": "c",
	}, -time.Minute)
	require.NoError(t, err)

	rec := f.do(t, "GET", "/acme/callback?state="+url.QueryEscape(state)+"&code=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackForwardsProviderError(t *testing.T) {
	f := newFixture(t)

	state, err := f.codec.Mint(map[string]any{
		"provider": "github", "redirect_to": "https://app.test/auth/done", "challenge": "c",
	}, 5*time.Minute)
	require.NoError(t, err)

	rec := f.do(t, "GET", "/acme/callback?state="+url.QueryEscape(state)+
		"&error=access_denied&error_description="+url.QueryEscape("user said no"), nil)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.test", loc.Host)
	assert.Equal(t, "access_denied", loc.Query().Get("error"))
	assert.Equal(t, "user said no", loc.Query().Get("error_description"))
}

func TestCallbackWithoutStateRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/acme/callback?code=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownPath(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/acme/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	kind, _ := decodeError(t, rec)
	assert.Equal(t, "NotFound", kind)
}

func TestRegisterFailureRedirect(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/acme/register", url.Values{"email": {"a@x.com"}, "password": {"p"}})

	rec := f.do(t, "POST", "/acme/register", url.Values{
		"email":               {"a@x.com"},
		"password":            {"p"},
		"redirect_on_failure": {"https://app.test/auth/error"},
	})
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/auth/error", loc.Path)
	assert.Equal(t, "UserAlreadyRegistered", loc.Query().Get("error"))
}
