package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/httpx"
	"github.com/lockhaven/authcore/internal/local"
	"github.com/lockhaven/authcore/internal/metrics"
)

// webAuthnProvider builds the ceremony provider from the tenant's
// configured relying-party origin.
func (a *Auth) webAuthnProvider(rq *request) (*local.WebAuthnProvider, error) {
	origin, err := a.deps.Settings.WebAuthnOrigin(rq.Context(), rq.tenant)
	if err != nil {
		return nil, err
	}
	appName, err := a.deps.Settings.StringOr(rq.Context(), rq.tenant, "app_name", rq.tenant)
	if err != nil {
		return nil, err
	}
	return local.NewWebAuthnProvider(a.deps.Store, origin, appName)
}

// webAuthnRegisterOptions begins a registration ceremony.
func (a *Auth) webAuthnRegisterOptions(w http.ResponseWriter, rq *request) error {
	emailAddr, err := rq.requireParam("email")
	if err != nil {
		return err
	}
	prov, err := a.webAuthnProvider(rq)
	if err != nil {
		return err
	}
	creation, handle, err := prov.RegistrationOptions(rq.Context(), rq.tenant, emailAddr)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"options":     creation,
		"user_handle": base64.RawURLEncoding.EncodeToString(handle),
	})
	return nil
}

type webAuthnRegisterBody struct {
	Email       string          `json:"email"`
	UserHandle  string          `json:"user_handle"`
	Credentials json.RawMessage `json:"credentials"`
	Challenge   string          `json:"challenge"`
	RedirectTo  string          `json:"redirect_to"`
}

// webAuthnRegister completes a registration ceremony.
func (a *Auth) webAuthnRegister(w http.ResponseWriter, rq *request) error {
	if err := a.setFailureRedirect(rq, "redirect_on_failure"); err != nil {
		return err
	}
	var body webAuthnRegisterBody
	if err := httpx.ReadJSON(rq.Request, &body); err != nil {
		return err
	}
	if body.Email == "" || body.UserHandle == "" || len(body.Credentials) == 0 {
		return autherr.New(autherr.KindInvalidData, "email, user_handle and credentials are required")
	}
	handle, err := base64.RawURLEncoding.DecodeString(body.UserHandle)
	if err != nil {
		return autherr.New(autherr.KindInvalidData, "malformed user_handle")
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body.Credentials))
	if err != nil {
		return autherr.Wrap(autherr.KindInvalidData, "malformed credential response", err)
	}

	prov, err := a.webAuthnProvider(rq)
	if err != nil {
		return err
	}
	ident, _, err := prov.Register(rq.Context(), rq.tenant, body.Email, handle, parsed)
	if err != nil {
		metrics.RecordAuthAttempt(rq.tenant, "webauthn", "failure")
		return err
	}
	metrics.RecordAuthAttempt(rq.tenant, "webauthn", "success")

	if body.Challenge != "" {
		return a.linkAndRespond(w, rq, ident.ID, body.Challenge, body.RedirectTo)
	}
	return a.respondAuthenticated(w, rq, ident.ID, body.RedirectTo, nil)
}

// webAuthnAuthenticateOptions begins an authentication ceremony.
func (a *Auth) webAuthnAuthenticateOptions(w http.ResponseWriter, rq *request) error {
	emailAddr, err := rq.requireParam("email")
	if err != nil {
		return err
	}
	prov, err := a.webAuthnProvider(rq)
	if err != nil {
		return err
	}
	assertion, err := prov.AuthenticationOptions(rq.Context(), rq.tenant, emailAddr)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, assertion)
	return nil
}

type webAuthnAuthenticateBody struct {
	Email      string          `json:"email"`
	Assertion  json.RawMessage `json:"assertion"`
	Challenge  string          `json:"challenge"`
	RedirectTo string          `json:"redirect_to"`
}

// webAuthnAuthenticate completes an authentication ceremony.
func (a *Auth) webAuthnAuthenticate(w http.ResponseWriter, rq *request) error {
	if err := a.setFailureRedirect(rq, "redirect_on_failure"); err != nil {
		return err
	}
	var body webAuthnAuthenticateBody
	if err := httpx.ReadJSON(rq.Request, &body); err != nil {
		return err
	}
	if body.Email == "" || len(body.Assertion) == 0 {
		return autherr.New(autherr.KindInvalidData, "email and assertion are required")
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(body.Assertion))
	if err != nil {
		return autherr.Wrap(autherr.KindInvalidData, "malformed assertion response", err)
	}

	prov, err := a.webAuthnProvider(rq)
	if err != nil {
		return err
	}
	ident, err := prov.Authenticate(rq.Context(), rq.tenant, body.Email, parsed)
	if err != nil {
		metrics.RecordAuthAttempt(rq.tenant, "webauthn", "failure")
		return err
	}
	metrics.RecordAuthAttempt(rq.tenant, "webauthn", "success")

	if body.Challenge != "" {
		return a.linkAndRespond(w, rq, ident.ID, body.Challenge, body.RedirectTo)
	}
	return a.respondAuthenticated(w, rq, ident.ID, body.RedirectTo, nil)
}
