// Package tokenstore holds OAuth request and access tokens across a
// fast cache and a durable store, plus per-token rate-limit counters.
package tokenstore

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrNotFound is returned when a token is absent, expired, or was
// already consumed.
var ErrNotFound = errors.New("token not found")

const (
	// RequestTokenTTL bounds how long a request token may sit between
	// the authorize redirect and the callback.
	RequestTokenTTL = 5 * time.Minute

	// QuotaWindow is the width of one rate-limit bucket.
	QuotaWindow = 10 * time.Minute

	// ExpirationWindow and CleanupBatchSize drive the durable sweep of
	// stale request tokens.
	ExpirationWindow = time.Hour
	CleanupBatchSize = 100
)

// AccessToken is a long-lived credential issued by the provider.
// Specifier, when set, names the account the token belongs to; at most
// one durable access token exists per specifier.
type AccessToken struct {
	Token     string    `bson:"oauth_token" json:"oauth_token"`
	Secret    string    `bson:"oauth_token_secret" json:"-"`
	Specifier string    `bson:"specifier,omitempty" json:"specifier,omitempty"`
	Created   time.Time `bson:"created" json:"created"`
}

// Store is the token persistence contract. Mutating operations on a
// single token identifier are atomic with respect to concurrent
// callers: of two racing TakeRequestToken calls exactly one wins.
type Store interface {
	// PutRequestToken stores a short-lived request token, overwriting
	// any existing entry for the same identifier.
	PutRequestToken(ctx context.Context, token, secret string) error

	// TakeRequestToken looks up a request token's secret and
	// invalidates it in the same step. Returns ErrNotFound when the
	// token is absent, expired, or was already taken.
	TakeRequestToken(ctx context.Context, token string) (string, error)

	// DeleteRequestToken removes a request token. Idempotent.
	DeleteRequestToken(ctx context.Context, token string) error

	// PutAccessToken persists an access token durably and primes the
	// cache. When tok.Specifier is set, any previous durable record
	// with the same specifier is removed first.
	PutAccessToken(ctx context.Context, tok AccessToken) error

	// LookupAccessToken resolves an access token by identifier: cache
	// first, then the durable store (backfilling the cache), then any
	// legacy representation. Returns ErrNotFound on a total miss.
	LookupAccessToken(ctx context.Context, token string) (AccessToken, error)

	// IncrQuota bumps the request counter for (token, time bucket) and
	// returns the new count. The counter expires with its bucket.
	IncrQuota(ctx context.Context, token string, at time.Time) (int64, error)

	// Cleanup removes up to CleanupBatchSize request tokens older than
	// ExpirationWindow from the durable store and reports how many
	// went away. Best effort; a backend without age queries may return
	// (0, nil) and rely on TTL expiry alone.
	Cleanup(ctx context.Context) (int64, error)
}

// QuotaBucket labels the fixed-width window containing at, e.g.
// "quota:2840136:tok". Counters for different buckets never collide.
func QuotaBucket(token string, at time.Time) string {
	return "quota:" + formatBucket(at) + ":" + token
}

func formatBucket(at time.Time) string {
	return strconv.FormatInt(at.Unix()/int64(QuotaWindow/time.Second), 10)
}
