package session

const cookiePrefix = "oauth."

// CookieName returns the per-provider cookie name, e.g. "oauth.twitter".
func CookieName(service string) string {
	return cookiePrefix + service
}

// TokenCookie is the signed cookie payload: the access-token identifier
// for one provider plus an expiry. The token secret never enters the
// cookie.
type TokenCookie struct {
	Service   string `json:"service"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}
