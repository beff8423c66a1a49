package httpx

import (
	"net/http"
	"time"
)

// SessionCookieName is the cookie the platform reads the session token
// from.
const SessionCookieName = "authcore-session"

// SessionCookie builds the session cookie. ttl <= 0 produces a cookie
// scoped to the browser session, matching non-expiring tokens.
func SessionCookie(token string, ttl time.Duration) *http.Cookie {
	ck := &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
	if ttl > 0 {
		ck.Expires = time.Now().Add(ttl).UTC()
		ck.MaxAge = int(ttl.Seconds())
	}
	return ck
}
