package auth

import (
	"net/http"
	"time"
)

const (
	RefreshTokenCookie = "refresh_token"
	CSRFTokenCookie    = "csrf_token"
	CSRFTokenHeader    = "X-CSRF-Token"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain      string // Empty string = current host only
	Secure      bool   // HTTPS only
	SameSite    string // "strict", "lax", or "none"
	RefreshPath string // Path scope of the refresh cookie, defaults to /auth
}

// SetRefreshTokenCookie sets the refresh token in an httpOnly cookie that
// expires with the session.
func SetRefreshTokenCookie(w http.ResponseWriter, refreshToken string, expiresAt time.Time, config CookieConfig) {
	path := config.RefreshPath
	if path == "" {
		path = "/auth"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookie,
		Value:    refreshToken,
		Path:     path,
		Domain:   config.Domain,
		Expires:  expiresAt,
		MaxAge:   maxAgeUntil(expiresAt),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// SetCSRFTokenCookie sets the CSRF token in a readable cookie. The client
// echoes it back in the X-CSRF-Token header.
func SetCSRFTokenCookie(w http.ResponseWriter, csrfToken string, expiresAt time.Time, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFTokenCookie,
		Value:    csrfToken,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  expiresAt,
		MaxAge:   maxAgeUntil(expiresAt),
		HttpOnly: false,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// ClearSessionCookies removes both the refresh and CSRF cookies
func ClearSessionCookies(w http.ResponseWriter, config CookieConfig) {
	path := config.RefreshPath
	if path == "" {
		path = "/auth"
	}
	for _, c := range []struct {
		name     string
		path     string
		httpOnly bool
	}{
		{RefreshTokenCookie, path, true},
		{CSRFTokenCookie, "/", false},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			Domain:   config.Domain,
			MaxAge:   -1, // Negative MaxAge deletes the cookie
			HttpOnly: c.httpOnly,
			Secure:   config.Secure,
			SameSite: parseSameSite(config.SameSite),
		})
	}
}

// GetRefreshTokenCookie retrieves the refresh token from cookies
func GetRefreshTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// CSRFTokenFromRequest prefers the header and falls back to the cookie
func CSRFTokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(CSRFTokenHeader); token != "" {
		return token
	}
	cookie, err := r.Cookie(CSRFTokenCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func maxAgeUntil(expiresAt time.Time) int {
	seconds := int(time.Until(expiresAt).Seconds())
	if seconds < 1 {
		return -1
	}
	return seconds
}

// parseSameSite converts string to http.SameSite constant
func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
