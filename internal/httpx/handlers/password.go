package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/email"
	"github.com/lockhaven/authcore/internal/httpx"
	"github.com/lockhaven/authcore/internal/local"
	"github.com/lockhaven/authcore/internal/metrics"
	"github.com/lockhaven/authcore/internal/tenant"
	"github.com/lockhaven/authcore/internal/token"
)

// Purpose strings scoping the reset and verification token keys.
const (
	purposeReset  = "reset"
	purposeVerify = "verify"
)

const resetTokenTTL = 10 * time.Minute

// register creates an email+password identity. With verification
// enabled the caller gets no session until the address is verified.
func (a *Auth) register(w http.ResponseWriter, rq *request) error {
	if err := a.setFailureRedirect(rq, "redirect_on_failure"); err != nil {
		return err
	}
	emailAddr, err := rq.requireParam("email")
	if err != nil {
		return err
	}
	plaintext, err := rq.requireParam("password")
	if err != nil {
		return err
	}

	ident, _, err := a.passwords.Register(rq.Context(), rq.tenant, emailAddr, plaintext)
	if err != nil {
		metrics.RecordAuthAttempt(rq.tenant, "password", "failure")
		return err
	}
	metrics.RecordAuthAttempt(rq.tenant, "password", "success")

	required, err := a.deps.Settings.RequireVerification(rq.Context(), rq.tenant)
	if err != nil {
		return err
	}
	if required {
		verifyURL, err := rq.requireParam("verify_url")
		if err != nil {
			return err
		}
		if err := a.sendVerificationEmail(rq, ident.ID, emailAddr, verifyURL); err != nil {
			return err
		}
		httpx.WriteJSON(w, http.StatusCreated, map[string]any{
			"identity_id":                ident.ID.String(),
			"verification_email_sent_at": time.Now().UTC().Format(time.RFC3339),
		})
		return nil
	}

	if challenge := rq.param("challenge"); challenge != "" {
		return a.linkAndRespond(w, rq, ident.ID, challenge, rq.param("redirect_to"))
	}
	return a.respondAuthenticated(w, rq, ident.ID, rq.param("redirect_to"), nil)
}

// authenticate verifies email+password, opaquely.
func (a *Auth) authenticate(w http.ResponseWriter, rq *request) error {
	if err := a.setFailureRedirect(rq, "redirect_on_failure"); err != nil {
		return err
	}
	emailAddr, err := rq.requireParam("email")
	if err != nil {
		return err
	}
	plaintext, err := rq.requireParam("password")
	if err != nil {
		return err
	}

	factor, err := a.passwords.Authenticate(rq.Context(), rq.tenant, emailAddr, plaintext)
	if err != nil {
		metrics.RecordAuthAttempt(rq.tenant, "password", "failure")
		return err
	}

	required, err := a.deps.Settings.RequireVerification(rq.Context(), rq.tenant)
	if err != nil {
		return err
	}
	if required && factor.VerifiedAt == nil {
		metrics.RecordAuthAttempt(rq.tenant, "password", "failure")
		return autherr.New(autherr.KindVerificationRequired, "email verification required")
	}
	metrics.RecordAuthAttempt(rq.tenant, "password", "success")

	if challenge := rq.param("challenge"); challenge != "" {
		return a.linkAndRespond(w, rq, factor.IdentityID, challenge, rq.param("redirect_to"))
	}
	return a.respondAuthenticated(w, rq, factor.IdentityID, rq.param("redirect_to"), nil)
}

// sendResetEmail mails a reset link. Unknown addresses get the same
// response and latency as known ones.
func (a *Auth) sendResetEmail(w http.ResponseWriter, rq *request) error {
	if err := a.setFailureRedirect(rq, "redirect_on_failure"); err != nil {
		return err
	}
	emailAddr, err := rq.requireParam("email")
	if err != nil {
		return err
	}
	resetURL, err := rq.requireParam("reset_url")
	if err != nil {
		return err
	}
	ok, err := a.deps.Settings.IsURLAllowed(rq.Context(), rq.tenant, resetURL, a.deps.PublicBaseURL)
	if err != nil {
		return err
	}
	if !ok {
		return autherr.Newf(autherr.KindInvalidData, "%q is not an allowed redirect url", resetURL)
	}
	if err := a.allowEmailSend(rq, emailAddr); err != nil {
		return err
	}

	var msg *email.Message
	factor, secret, lookupErr := a.passwords.FactorAndSecret(rq.Context(), rq.tenant, emailAddr)
	if lookupErr == nil {
		codec, err := a.codec(rq.Context(), rq.tenant)
		if err != nil {
			return err
		}
		resetToken, err := codec.ForPurpose(purposeReset).Mint(map[string]any{
			"sub":       factor.IdentityID.String(),
			"secret":    secret,
			"challenge": rq.param("challenge"),
		}, resetTokenTTL)
		if err != nil {
			return err
		}
		link, err := local.BuildLink(resetURL, resetToken)
		if err != nil {
			return err
		}
		msg, err = a.composeEmail(rq, "reset_password", emailAddr, link, resetTokenTTL)
		if err != nil {
			return err
		}
		metrics.RecordEmailSend(rq.tenant, "reset_password")
	} else if autherr.KindOf(lookupErr) != autherr.KindNoIdentityFound {
		return lookupErr
	}

	if err := a.deps.Dispatcher.Dispatch(rq.Context(), msg); err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"email_sent": emailAddr})
	return nil
}

// resetPassword redeems a reset token and stores the new password.
func (a *Auth) resetPassword(w http.ResponseWriter, rq *request) error {
	if err := a.setFailureRedirect(rq, "redirect_on_failure"); err != nil {
		return err
	}
	resetToken, err := rq.requireParam("reset_token")
	if err != nil {
		return err
	}
	plaintext, err := rq.requireParam("password")
	if err != nil {
		return err
	}

	codec, err := a.codec(rq.Context(), rq.tenant)
	if err != nil {
		return err
	}
	claims, err := codec.ForPurpose(purposeReset).Verify(resetToken)
	if err != nil {
		return err
	}
	sub, err := token.StringClaim(claims, "sub")
	if err != nil {
		return err
	}
	identityID, err := uuid.Parse(sub)
	if err != nil {
		return autherr.New(autherr.KindInvalidData, "invalid token subject")
	}
	secret, err := token.StringClaim(claims, "secret")
	if err != nil {
		return err
	}

	if _, err := a.passwords.ValidateResetSecret(rq.Context(), rq.tenant, identityID, secret); err != nil {
		return err
	}
	if err := a.passwords.UpdatePassword(rq.Context(), rq.tenant, identityID, plaintext); err != nil {
		return err
	}

	if challenge := token.MaybeStringClaim(claims, "challenge"); challenge != "" {
		return a.linkAndRespond(w, rq, identityID, challenge, rq.param("redirect_to"))
	}
	return a.respondAuthenticated(w, rq, identityID, rq.param("redirect_to"), nil)
}

// verify redeems a verification token and stamps the factor.
func (a *Auth) verify(w http.ResponseWriter, rq *request) error {
	verificationToken, err := rq.requireParam("verification_token")
	if err != nil {
		return err
	}
	codec, err := a.codec(rq.Context(), rq.tenant)
	if err != nil {
		return err
	}
	claims, err := codec.ForPurpose(purposeVerify).Verify(verificationToken)
	if err != nil {
		return err
	}
	sub, err := token.StringClaim(claims, "sub")
	if err != nil {
		return err
	}
	identityID, err := uuid.Parse(sub)
	if err != nil {
		return autherr.New(autherr.KindInvalidData, "invalid token subject")
	}

	if _, err := a.passwords.MarkVerified(rq.Context(), rq.tenant, identityID, time.Now()); err != nil {
		return err
	}

	// Finish the exchange the registration started, if one is pending.
	challenge := token.MaybeStringClaim(claims, "challenge")
	redirectTo := token.MaybeStringClaim(claims, "redirect_to")
	if challenge != "" {
		return a.linkAndRespond(w, rq, identityID, challenge, redirectTo)
	}
	if redirectTo != "" {
		ok, err := a.deps.Settings.IsURLAllowed(rq.Context(), rq.tenant, redirectTo, a.deps.PublicBaseURL)
		if err != nil {
			return err
		}
		if !ok {
			return autherr.Newf(autherr.KindInvalidData, "%q is not an allowed redirect url", redirectTo)
		}
		http.Redirect(w, rq.Request, redirectTo, http.StatusFound)
		return nil
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// resendVerificationEmail re-mails the verification link, opaquely.
func (a *Auth) resendVerificationEmail(w http.ResponseWriter, rq *request) error {
	emailAddr, err := rq.requireParam("email")
	if err != nil {
		return err
	}
	verifyURL, err := rq.requireParam("verify_url")
	if err != nil {
		return err
	}
	if err := a.allowEmailSend(rq, emailAddr); err != nil {
		return err
	}

	factor, _, lookupErr := a.passwords.FactorAndSecret(rq.Context(), rq.tenant, emailAddr)
	if lookupErr == nil && factor.VerifiedAt == nil {
		if err := a.sendVerificationEmail(rq, factor.IdentityID, emailAddr, verifyURL); err != nil {
			return err
		}
	} else {
		// Unknown or already-verified address: delay only.
		if err := a.deps.Dispatcher.Dispatch(rq.Context(), nil); err != nil {
			return err
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"email_sent": emailAddr})
	return nil
}

func (a *Auth) sendVerificationEmail(rq *request, identityID uuid.UUID, emailAddr, verifyURL string) error {
	ok, err := a.deps.Settings.IsURLAllowed(rq.Context(), rq.tenant, verifyURL, a.deps.PublicBaseURL)
	if err != nil {
		return err
	}
	if !ok {
		return autherr.Newf(autherr.KindInvalidData, "%q is not an allowed redirect url", verifyURL)
	}

	codec, err := a.codec(rq.Context(), rq.tenant)
	if err != nil {
		return err
	}
	claims := map[string]any{"sub": identityID.String()}
	if challenge := rq.param("challenge"); challenge != "" {
		claims["challenge"] = challenge
	}
	if redirectTo := rq.param("redirect_to"); redirectTo != "" {
		ok, err := a.deps.Settings.IsURLAllowed(rq.Context(), rq.tenant, redirectTo, a.deps.PublicBaseURL)
		if err != nil {
			return err
		}
		if !ok {
			return autherr.Newf(autherr.KindInvalidData, "%q is not an allowed redirect url", redirectTo)
		}
		claims["redirect_to"] = redirectTo
	}
	verifyToken, err := codec.ForPurpose(purposeVerify).Mint(claims, 24*time.Hour)
	if err != nil {
		return err
	}
	link, err := local.BuildLink(verifyURL, verifyToken)
	if err != nil {
		return err
	}
	msg, err := a.composeEmail(rq, "verify_email", emailAddr, link, 24*time.Hour)
	if err != nil {
		return err
	}
	metrics.RecordEmailSend(rq.tenant, "verify_email")
	return a.deps.Dispatcher.Dispatch(rq.Context(), msg)
}

func (a *Auth) composeEmail(rq *request, template, to, link string, ttl time.Duration) (*email.Message, error) {
	appName, err := a.deps.Settings.StringOr(rq.Context(), rq.tenant, tenant.KeyAppName, rq.tenant)
	if err != nil {
		return nil, err
	}
	html, text, err := a.deps.Templates.Render(template, email.TemplateVars{
		AppName:   appName,
		UserEmail: to,
		Link:      link,
		TTL:       ttl.String(),
	})
	if err != nil {
		return nil, err
	}
	subject := map[string]string{
		"reset_password": "Reset your " + appName + " password",
		"verify_email":   "Verify your email for " + appName,
		"magic_link":     "Sign in to " + appName,
	}[template]
	return &email.Message{To: to, Subject: subject, HTMLBody: html, TextBody: text}, nil
}

// allowEmailSend applies the per-address send limit.
func (a *Auth) allowEmailSend(rq *request, emailAddr string) error {
	if a.deps.Limiter == nil {
		return nil
	}
	res, err := a.deps.Limiter.Allow(rq.Context(), rq.tenant+":"+emailAddr)
	if err != nil {
		// The limiter is best effort; an unreachable backend must not
		// take the auth flows down with it.
		return nil
	}
	if !res.Allowed {
		return autherr.New(autherr.KindInvalidData, "too many requests for this address")
	}
	return nil
}

// linkAndRespond binds an authenticated identity to a pending PKCE
// challenge and hands back the one-time code.
func (a *Auth) linkAndRespond(w http.ResponseWriter, rq *request, identityID uuid.UUID, challenge, redirectTo string) error {
	if err := a.exchanges.CreateChallenge(rq.Context(), rq.tenant, challenge); err != nil {
		return err
	}
	code, err := a.exchanges.LinkIdentity(rq.Context(), rq.tenant, identityID, challenge)
	if err != nil {
		return err
	}
	if redirectTo != "" {
		return a.respondAuthenticated(w, rq, identityID, redirectTo, url.Values{"code": {code.String()}})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"code": code.String()})
	return nil
}
