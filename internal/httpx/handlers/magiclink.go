package handlers

import (
	"net/http"
	"net/url"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/email"
	"github.com/lockhaven/authcore/internal/httpx"
	"github.com/lockhaven/authcore/internal/local"
	"github.com/lockhaven/authcore/internal/metrics"
	"github.com/lockhaven/authcore/internal/store/core"
)

// magicLinkRegister creates a passwordless identity and mails its
// first sign-in link.
func (a *Auth) magicLinkRegister(w http.ResponseWriter, rq *request) error {
	if err := a.setFailureRedirect(rq, "redirect_on_failure"); err != nil {
		return err
	}
	emailAddr, err := rq.requireParam("email")
	if err != nil {
		return err
	}

	ident, _, err := a.magicLinks.Register(rq.Context(), rq.tenant, emailAddr)
	if err != nil {
		return err
	}
	return a.sendMagicLink(w, rq, &ident, emailAddr)
}

// magicLinkEmail mails a sign-in link to an existing address; unknown
// addresses are indistinguishable from known ones.
func (a *Auth) magicLinkEmail(w http.ResponseWriter, rq *request) error {
	if err := a.setFailureRedirect(rq, "redirect_on_failure"); err != nil {
		return err
	}
	emailAddr, err := rq.requireParam("email")
	if err != nil {
		return err
	}

	factor, lookupErr := a.magicLinks.Factor(rq.Context(), rq.tenant, emailAddr)
	if lookupErr != nil {
		if autherr.KindOf(lookupErr) != autherr.KindNoIdentityFound {
			return lookupErr
		}
		return a.sendMagicLink(w, rq, nil, emailAddr)
	}
	ident := core.Identity{ID: factor.IdentityID}
	return a.sendMagicLink(w, rq, &ident, emailAddr)
}

// sendMagicLink validates the flow parameters, registers the PKCE
// challenge and dispatches the link with the timing mask. A nil ident
// runs the same path without a send.
func (a *Auth) sendMagicLink(w http.ResponseWriter, rq *request, ident *core.Identity, emailAddr string) error {
	challenge, err := rq.requireParam("challenge")
	if err != nil {
		return err
	}
	callbackURL, err := rq.requireParam("callback_url")
	if err != nil {
		return err
	}
	ok, err := a.deps.Settings.IsURLAllowed(rq.Context(), rq.tenant, callbackURL, a.deps.PublicBaseURL)
	if err != nil {
		return err
	}
	if !ok {
		return autherr.Newf(autherr.KindInvalidData, "%q is not an allowed redirect url", callbackURL)
	}
	if err := a.allowEmailSend(rq, emailAddr); err != nil {
		return err
	}
	if err := a.exchanges.CreateChallenge(rq.Context(), rq.tenant, challenge); err != nil {
		return err
	}

	var msg *email.Message
	if ident != nil {
		codec, err := a.codec(rq.Context(), rq.tenant)
		if err != nil {
			return err
		}
		ttl, err := a.deps.Settings.MagicLinkTTL(rq.Context(), rq.tenant)
		if err != nil {
			return err
		}
		authURL := a.tenantIssuer(rq.tenant) + "/magic-link/authenticate"
		tok, err := a.magicLinks.MakeToken(codec, ident.ID, callbackURL, challenge, ttl)
		if err != nil {
			return err
		}
		link, err := local.BuildLink(authURL, tok)
		if err != nil {
			return err
		}
		msg, err = a.composeEmail(rq, "magic_link", emailAddr, link, ttl)
		if err != nil {
			return err
		}
		metrics.RecordEmailSend(rq.tenant, "magic_link")
	}

	if err := a.deps.Dispatcher.Dispatch(rq.Context(), msg); err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"email_sent": emailAddr})
	return nil
}

// magicLinkAuthenticate redeems an emailed link: the token carries the
// PKCE challenge and callback, so the browser lands back in the app
// with a redeemable code.
func (a *Auth) magicLinkAuthenticate(w http.ResponseWriter, rq *request) error {
	raw, err := rq.requireParam("token")
	if err != nil {
		return err
	}
	codec, err := a.codec(rq.Context(), rq.tenant)
	if err != nil {
		return err
	}
	claims, err := a.magicLinks.VerifyToken(codec, raw)
	if err != nil {
		metrics.RecordAuthAttempt(rq.tenant, "magic_link", "failure")
		return err
	}

	code, err := a.exchanges.LinkIdentity(rq.Context(), rq.tenant, claims.IdentityID, claims.Challenge)
	if err != nil {
		metrics.RecordAuthAttempt(rq.tenant, "magic_link", "failure")
		return err
	}
	metrics.RecordAuthAttempt(rq.tenant, "magic_link", "success")
	return a.respondAuthenticated(w, rq, claims.IdentityID, claims.CallbackURL, url.Values{"code": {code.String()}})
}
