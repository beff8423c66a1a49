package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/httpx"
	"github.com/lockhaven/authcore/internal/metrics"
	"github.com/lockhaven/authcore/internal/provider"
	"github.com/lockhaven/authcore/internal/token"
)

// authorize starts an OAuth cycle: persist the app's PKCE challenge,
// mint the state token and bounce the browser to the provider.
func (a *Auth) authorize(w http.ResponseWriter, rq *request) error {
	providerName, err := rq.requireParam("provider")
	if err != nil {
		return err
	}
	redirectTo, err := rq.requireParam("redirect_to")
	if err != nil {
		return err
	}
	challenge, err := rq.requireParam("challenge")
	if err != nil {
		return err
	}

	ok, err := a.deps.Settings.IsURLAllowed(rq.Context(), rq.tenant, redirectTo, a.deps.PublicBaseURL)
	if err != nil {
		return err
	}
	if !ok {
		return autherr.Newf(autherr.KindInvalidData, "%q is not an allowed redirect url", redirectTo)
	}

	prov, err := provider.Lookup(providerName)
	if err != nil {
		return err
	}
	cfg, err := a.providerConfig(rq, providerName)
	if err != nil {
		return err
	}

	if err := a.exchanges.CreateChallenge(rq.Context(), rq.tenant, challenge); err != nil {
		return err
	}

	nonce, err := randomHex(16)
	if err != nil {
		return err
	}
	codec, err := a.codec(rq.Context(), rq.tenant)
	if err != nil {
		return err
	}
	state, err := codec.Mint(map[string]any{
		"provider":    providerName,
		"redirect_to": redirectTo,
		"challenge":   challenge,
		"nonce":       nonce,
	}, stateTTL)
	if err != nil {
		return err
	}

	authURL, err := prov.AuthorizeURL(rq.Context(), cfg, a.callbackURL(rq.tenant), state, nonce)
	if err != nil {
		return err
	}
	http.Redirect(w, rq.Request, authURL, http.StatusFound)
	return nil
}

// callback finishes the provider round trip. Provider-reported errors
// are forwarded to the verified redirect target, never surfaced as a
// server fault.
func (a *Auth) callback(w http.ResponseWriter, rq *request) error {
	state, err := rq.requireParam("state")
	if err != nil {
		return err
	}
	codec, err := a.codec(rq.Context(), rq.tenant)
	if err != nil {
		return err
	}
	claims, err := codec.Verify(state)
	if err != nil {
		return err
	}
	providerName, err := token.StringClaim(claims, "provider")
	if err != nil {
		return err
	}
	redirectTo, err := token.StringClaim(claims, "redirect_to")
	if err != nil {
		return err
	}
	challenge, err := token.StringClaim(claims, "challenge")
	if err != nil {
		return err
	}
	nonce := token.MaybeStringClaim(claims, "nonce")

	if provErr := rq.param("error"); provErr != "" {
		u, err := url.Parse(redirectTo)
		if err != nil {
			return autherr.New(autherr.KindInvalidData, "invalid redirect url in state")
		}
		q := u.Query()
		q.Set("error", provErr)
		if desc := rq.param("error_description"); desc != "" {
			q.Set("error_description", desc)
		}
		u.RawQuery = q.Encode()
		http.Redirect(w, rq.Request, u.String(), http.StatusFound)
		return nil
	}

	code, err := rq.requireParam("code")
	if err != nil {
		return err
	}

	prov, err := provider.Lookup(providerName)
	if err != nil {
		return err
	}
	cfg, err := a.providerConfig(rq, providerName)
	if err != nil {
		return err
	}

	tokens, err := prov.ExchangeCode(rq.Context(), cfg, code, a.callbackURL(rq.tenant))
	if err != nil {
		metrics.RecordAuthAttempt(rq.tenant, providerName, "failure")
		return err
	}
	upstream, err := prov.FetchIdentity(rq.Context(), cfg, tokens, nonce)
	if err != nil {
		metrics.RecordAuthAttempt(rq.tenant, providerName, "failure")
		return err
	}

	ident, _, err := a.deps.Store.UpsertIdentity(rq.Context(), rq.tenant, prov.IssuerURL(), upstream.Subject)
	if err != nil {
		return autherr.Wrap(autherr.KindInternal, "upserting identity", err)
	}

	pkceCode, err := a.exchanges.LinkIdentity(rq.Context(), rq.tenant, ident.ID, challenge)
	if err != nil {
		return err
	}
	var accessTok, refreshTok, idTok *string
	if tokens.AccessToken != "" {
		accessTok = &tokens.AccessToken
	}
	if tokens.RefreshToken != "" {
		refreshTok = &tokens.RefreshToken
	}
	if tokens.IDToken != "" {
		idTok = &tokens.IDToken
	}
	if err := a.exchanges.StashProviderTokens(rq.Context(), rq.tenant, pkceCode, accessTok, refreshTok, idTok); err != nil {
		return err
	}

	metrics.RecordAuthAttempt(rq.tenant, providerName, "success")
	return a.respondAuthenticated(w, rq, ident.ID, redirectTo, url.Values{"code": {pkceCode.String()}})
}

// token redeems a PKCE code for the session token; the record is
// deleted before the response is written, so redemption is single-use.
func (a *Auth) token(w http.ResponseWriter, rq *request) error {
	codeRaw, err := rq.requireParam("code")
	if err != nil {
		return err
	}
	verifier, err := rq.requireParam("verifier")
	if err != nil {
		return err
	}
	code, err := uuid.Parse(codeRaw)
	if err != nil {
		return autherr.New(autherr.KindInvalidData, "malformed code")
	}

	rec, err := a.exchanges.Redeem(rq.Context(), rq.tenant, code, verifier)
	if err != nil {
		metrics.RecordPKCERedemption(rq.tenant, "failure")
		return err
	}
	metrics.RecordPKCERedemption(rq.tenant, "success")

	tok, ttl, err := a.sessionToken(rq.Context(), rq.tenant, *rec.IdentityID)
	if err != nil {
		return err
	}
	http.SetCookie(w, httpx.SessionCookie(tok, ttl))
	httpx.WriteJSON(w, http.StatusOK, tokenPayload{
		AuthToken:            tok,
		IdentityID:           rec.IdentityID.String(),
		ProviderToken:        rec.AuthToken,
		ProviderRefreshToken: rec.RefreshToken,
		ProviderIDToken:      rec.IDToken,
	})
	return nil
}

func (a *Auth) providerConfig(rq *request, name string) (provider.Config, error) {
	cfg, err := a.deps.Settings.Provider(rq.Context(), rq.tenant, name)
	if err != nil {
		return provider.Config{}, err
	}
	return provider.Config{
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		AdditionalScope: cfg.AdditionalScope,
	}, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", autherr.Wrap(autherr.KindInternal, "generating nonce", err)
	}
	return hex.EncodeToString(b), nil
}
