package oauth1

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SignatureMethod is the only signature method this package supports.
	SignatureMethod = "HMAC-SHA1"
	oauthVersion    = "1.0"
)

// Signer produces OAuth 1.0a protocol parameters and HMAC-SHA1
// signatures. The zero value uses the real clock and random nonces;
// tests may pin Now and Nonce to get deterministic signatures.
// Production code must leave both nil.
type Signer struct {
	Now   func() time.Time
	Nonce func() string
}

// ProtocolParams returns a fresh set of oauth_* parameters for one
// outbound request: consumer key, nonce, signature method, timestamp
// and version. The nonce and timestamp are unique per call.
func (s *Signer) ProtocolParams(consumerKey string) url.Values {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	nonce := uuid.NewString
	if s.Nonce != nil {
		nonce = s.Nonce
	}
	return url.Values{
		"oauth_consumer_key":     {consumerKey},
		"oauth_nonce":            {nonce()},
		"oauth_signature_method": {SignatureMethod},
		"oauth_timestamp":        {strconv.FormatInt(now().Unix(), 10)},
		"oauth_version":          {oauthVersion},
	}
}

// Sign computes the OAuth 1.0a signature over the given request.
// params must hold every request parameter, oauth_* fields included,
// except oauth_signature itself.
func (s *Signer) Sign(method, rawURL string, params url.Values, consumerSecret, tokenSecret string) string {
	return HMACSign(SigningKey(consumerSecret, tokenSecret), SignatureBase(method, rawURL, params))
}

// SignatureBase assembles the RFC 5849 §3.4.1 base string:
// METHOD&enc(url)&enc(canonical-params).
func SignatureBase(method, rawURL string, params url.Values) string {
	return strings.ToUpper(method) + "&" + PercentEncode(rawURL) + "&" + PercentEncode(Canonicalize(params))
}

// SigningKey derives the HMAC key: enc(consumerSecret)&enc(tokenSecret),
// with the token part empty before a token is bound.
func SigningKey(consumerSecret, tokenSecret string) string {
	return PercentEncode(consumerSecret) + "&" + PercentEncode(tokenSecret)
}

// HMACSign signs an already-assembled base string with an
// already-derived key and base64-encodes the digest. Split out so the
// per-service memoized key (see Registry.ServiceKey) can be reused
// without re-encoding the consumer secret on every request.
func HMACSign(key, base string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
