// Package handlers is the auth HTTP surface: one router dispatching the
// OAuth, PKCE, password, magic-link and WebAuthn flows, with a single
// error boundary translating domain errors into the JSON envelope or a
// failure redirect.
package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/email"
	"github.com/lockhaven/authcore/internal/httpx"
	"github.com/lockhaven/authcore/internal/local"
	"github.com/lockhaven/authcore/internal/metrics"
	"github.com/lockhaven/authcore/internal/pkce"
	"github.com/lockhaven/authcore/internal/rate"
	"github.com/lockhaven/authcore/internal/security/password"
	"github.com/lockhaven/authcore/internal/store/core"
	"github.com/lockhaven/authcore/internal/tenant"
	"github.com/lockhaven/authcore/internal/token"
)

// stateTTL bounds the authorize→callback round trip.
const stateTTL = 5 * time.Minute

// Deps wires the auth surface together.
type Deps struct {
	Store      core.Gateway
	Settings   *tenant.Registry
	Hasher     *password.Hasher
	Templates  *email.Templates
	Dispatcher *email.Dispatcher
	Limiter    rate.Limiter

	// PublicBaseURL is this service's externally visible base URL;
	// tenant issuer strings and callback URLs hang off it.
	PublicBaseURL string

	// Dev passes internal error messages through to responses.
	Dev bool
}

type Auth struct {
	deps Deps

	passwords  *local.PasswordProvider
	magicLinks *local.MagicLinkProvider
	exchanges  *pkce.Flow
}

func NewAuth(deps Deps) *Auth {
	return &Auth{
		deps:       deps,
		passwords:  local.NewPasswordProvider(deps.Store, deps.Hasher),
		magicLinks: local.NewMagicLinkProvider(deps.Store),
		exchanges:  pkce.NewFlow(deps.Store),
	}
}

// Routes mounts the per-tenant auth surface.
func (a *Auth) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(httpx.RequestID, httpx.Logging, httpx.SecurityHeaders, metrics.Middleware)

	r.Route("/{tenant}", func(r chi.Router) {
		r.Get("/authorize", a.handle(a.authorize))
		r.Get("/callback", a.handle(a.callback))
		r.Post("/callback", a.handle(a.callback))
		r.Get("/token", a.handle(a.token))

		r.Post("/register", a.handle(a.register))
		r.Post("/authenticate", a.handle(a.authenticate))
		r.Post("/send-reset-email", a.handle(a.sendResetEmail))
		r.Post("/reset-password", a.handle(a.resetPassword))
		r.Get("/verify", a.handle(a.verify))
		r.Post("/verify", a.handle(a.verify))
		r.Post("/resend-verification-email", a.handle(a.resendVerificationEmail))

		r.Post("/magic-link/register", a.handle(a.magicLinkRegister))
		r.Post("/magic-link/email", a.handle(a.magicLinkEmail))
		r.Get("/magic-link/authenticate", a.handle(a.magicLinkAuthenticate))

		r.Get("/webauthn/register/options", a.handle(a.webAuthnRegisterOptions))
		r.Post("/webauthn/register", a.handle(a.webAuthnRegister))
		r.Get("/webauthn/authenticate/options", a.handle(a.webAuthnAuthenticateOptions))
		r.Post("/webauthn/authenticate", a.handle(a.webAuthnAuthenticate))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, autherr.New(autherr.KindNotFound, "unknown path"), a.deps.Dev)
	})
	return r
}

// request carries the parsed input plus the failure-redirect target a
// handler registered before failing.
type request struct {
	*http.Request
	tenant string
	params map[string]string

	failureRedirect string
}

func (rq *request) param(key string) string { return rq.params[key] }

func (rq *request) requireParam(key string) (string, error) {
	v := rq.params[key]
	if v == "" {
		return "", autherr.Newf(autherr.KindInvalidData, "missing %q parameter", key)
	}
	return v, nil
}

type handlerFunc func(w http.ResponseWriter, rq *request) error

// handle is the single error boundary. Domain errors become the JSON
// envelope, or a redirect carrying error parameters when the caller
// supplied a failure-redirect target.
func (a *Auth) handle(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rq := &request{Request: r, tenant: chi.URLParam(r, "tenant")}

		params, err := httpx.ParseBody(r)
		if err != nil {
			httpx.WriteError(w, err, a.deps.Dev)
			return
		}
		rq.params = params

		if err := h(w, rq); err != nil {
			a.fail(w, rq, err)
		}
	}
}

func (a *Auth) fail(w http.ResponseWriter, rq *request, err error) {
	if rq.failureRedirect != "" {
		kind := autherr.KindOf(err)
		msg := err.Error()
		if kind == autherr.KindInternal && !a.deps.Dev {
			msg = "internal server error"
		}
		u, perr := url.Parse(rq.failureRedirect)
		if perr == nil {
			q := u.Query()
			q.Set("error", string(kind))
			q.Set("error_description", msg)
			u.RawQuery = q.Encode()
			http.Redirect(w, rq.Request, u.String(), http.StatusFound)
			return
		}
	}
	httpx.WriteError(w, err, a.deps.Dev)
}

// setFailureRedirect validates and registers the caller's failure
// target; later errors redirect there instead of returning a status.
func (a *Auth) setFailureRedirect(rq *request, key string) error {
	target := rq.param(key)
	if target == "" {
		return nil
	}
	ok, err := a.deps.Settings.IsURLAllowed(rq.Context(), rq.tenant, target, a.deps.PublicBaseURL)
	if err != nil {
		return err
	}
	if !ok {
		return autherr.Newf(autherr.KindInvalidData, "%q is not an allowed redirect url", target)
	}
	rq.failureRedirect = target
	return nil
}

// tenantIssuer is the iss claim for tenant-scoped tokens.
func (a *Auth) tenantIssuer(tenantName string) string {
	return strings.TrimRight(a.deps.PublicBaseURL, "/") + "/" + tenantName
}

// callbackURL is the redirect_uri registered with upstream providers.
func (a *Auth) callbackURL(tenantName string) string {
	return a.tenantIssuer(tenantName) + "/callback"
}

// codec builds the tenant's token codec from its signing key.
func (a *Auth) codec(ctx context.Context, tenantName string) (*token.Codec, error) {
	key, err := a.deps.Settings.SigningKey(ctx, tenantName)
	if err != nil {
		return nil, err
	}
	return token.NewCodec(a.tenantIssuer(tenantName), key), nil
}

// sessionToken mints the platform session token for an identity and
// returns it with the tenant's configured TTL.
func (a *Auth) sessionToken(ctx context.Context, tenantName string, identityID uuid.UUID) (string, time.Duration, error) {
	codec, err := a.codec(ctx, tenantName)
	if err != nil {
		return "", 0, err
	}
	ttl, err := a.deps.Settings.TokenTTL(ctx, tenantName)
	if err != nil {
		return "", 0, err
	}
	tok, err := codec.Mint(map[string]any{"sub": identityID.String()}, ttl)
	if err != nil {
		return "", 0, err
	}
	return tok, ttl, nil
}

// tokenPayload is the JSON success body for non-redirect paths.
type tokenPayload struct {
	AuthToken            string  `json:"auth_token"`
	IdentityID           string  `json:"identity_id"`
	ProviderToken        *string `json:"provider_token,omitempty"`
	ProviderRefreshToken *string `json:"provider_refresh_token,omitempty"`
	ProviderIDToken      *string `json:"provider_id_token,omitempty"`
}

// respondAuthenticated sets the session cookie and either redirects or
// returns the token payload.
func (a *Auth) respondAuthenticated(w http.ResponseWriter, rq *request, identityID uuid.UUID, redirectTo string, extraQuery url.Values) error {
	if redirectTo != "" {
		ok, err := a.deps.Settings.IsURLAllowed(rq.Context(), rq.tenant, redirectTo, a.deps.PublicBaseURL)
		if err != nil {
			return err
		}
		if !ok {
			return autherr.Newf(autherr.KindInvalidData, "%q is not an allowed redirect url", redirectTo)
		}
	}

	tok, ttl, err := a.sessionToken(rq.Context(), rq.tenant, identityID)
	if err != nil {
		return err
	}
	http.SetCookie(w, httpx.SessionCookie(tok, ttl))

	if redirectTo != "" {
		u, err := url.Parse(redirectTo)
		if err != nil {
			return autherr.New(autherr.KindInvalidData, "invalid redirect url")
		}
		q := u.Query()
		for k, vs := range extraQuery {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
		http.Redirect(w, rq.Request, u.String(), http.StatusFound)
		return nil
	}

	payload := tokenPayload{AuthToken: tok, IdentityID: identityID.String()}
	httpx.WriteJSON(w, http.StatusOK, payload)
	return nil
}
