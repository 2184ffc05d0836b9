package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var SameSite = http.SameSiteLaxMode
var UseDomain = false

// Compute HMAC-SHA256 signature of a message using secret
func computeHMAC(message string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// Validate HMAC signature
func validateHMAC(message, sig string, secret []byte) bool {
	expected := computeHMAC(message, secret)
	return hmac.Equal([]byte(sig), []byte(expected))
}

// SetProviderCookie signs the token identifier and sets it as the
// provider's oauth.<service> cookie.
func SetProviderCookie(w http.ResponseWriter, service, token string, secret []byte, ttl time.Duration, domain string) error {
	payload := TokenCookie{
		Service:   service,
		Token:     token,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	value := base64.URLEncoding.EncodeToString(jsonData)
	sig := computeHMAC(value, secret)
	c := &http.Cookie{
		Name:     CookieName(service),
		Value:    fmt.Sprintf("%s|%s", value, sig),
		Path:     "/",
		Expires:  time.Unix(payload.ExpiresAt, 0),
		HttpOnly: true,
		Secure:   true,
		SameSite: SameSite,
	}
	if UseDomain {
		c.Domain = domain
	}
	http.SetCookie(w, c)
	return nil
}

// GetProviderCookie reads and verifies the provider cookie, returning
// the access-token identifier it carries.
func GetProviderCookie(r *http.Request, service string, secret []byte) (string, error) {
	c, err := r.Cookie(CookieName(service))
	if err != nil {
		return "", err
	}
	parts := strings.Split(c.Value, "|")
	if len(parts) != 2 {
		return "", errors.New("invalid session cookie format")
	}
	value, sig := parts[0], parts[1]
	if !validateHMAC(value, sig, secret) {
		return "", errors.New("invalid session signature")
	}
	jsonData, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return "", err
	}
	var payload TokenCookie
	if err := json.Unmarshal(jsonData, &payload); err != nil {
		return "", err
	}
	if time.Now().Unix() > payload.ExpiresAt {
		return "", errors.New("session expired")
	}
	if payload.Service != service {
		return "", errors.New("session cookie service mismatch")
	}
	return payload.Token, nil
}

// ClearProviderCookie expires the provider cookie immediately.
func ClearProviderCookie(w http.ResponseWriter, service string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName(service),
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
		SameSite: SameSite,
	})
}
