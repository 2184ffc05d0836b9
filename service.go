package oauth1

import (
	"context"
	"fmt"
	"net/url"
	"sync"
)

// APIClient is the view of a bound client handed to a SpecifierFunc.
// The concrete implementation lives in the client package; declaring
// the interface here keeps ServiceConfig free of that dependency.
type APIClient interface {
	Get(ctx context.Context, apiMethod string, params url.Values, expected ...int) (map[string]any, error)
}

// SpecifierFunc derives a stable per-user identifier (e.g. the account
// handle) by calling the provider's API with a freshly bound client.
type SpecifierFunc func(ctx context.Context, c APIClient) (string, error)

// ServiceConfig describes one OAuth 1.0a provider. Loaded at startup
// and never mutated afterwards.
type ServiceConfig struct {
	ConsumerKey    string
	ConsumerSecret string

	RequestTokenURL string
	AccessTokenURL  string
	AuthorizeURL    string

	// Relative API method names are resolved as APIPrefix+method+APISuffix.
	APIPrefix string
	APISuffix string

	// Specifier, when set, is invoked after a successful token exchange
	// to name the account the new token belongs to.
	Specifier SpecifierFunc
}

// Registry maps provider names to their configuration and owns the
// per-provider signing-key memo. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[string]ServiceConfig
	keys     map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]ServiceConfig),
		keys:     make(map[string]string),
	}
}

// Register adds or replaces a provider configuration. Intended for
// process start; replacing a config drops its memoized signing key.
func (r *Registry) Register(name string, cfg ServiceConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = cfg
	delete(r.keys, name)
}

// Lookup returns the configuration for a provider name.
func (r *Registry) Lookup(name string) (ServiceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.services[name]
	return cfg, ok
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// ServiceKey returns the consumer half of the signing key,
// "enc(consumerSecret)&", memoized per provider. Callers append the
// encoded token secret to form the full HMAC key.
func (r *Registry) ServiceKey(name string) (string, error) {
	r.mu.RLock()
	key, ok := r.keys[name]
	r.mu.RUnlock()
	if ok {
		return key, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.keys[name]; ok {
		return key, nil
	}
	cfg, ok := r.services[name]
	if !ok {
		return "", fmt.Errorf("unknown OAuth service provider: %q", name)
	}
	key = PercentEncode(cfg.ConsumerSecret) + "&"
	r.keys[name] = key
	return key, nil
}

// Twitter returns the stock Twitter service configuration: the v1.1
// API with .json method suffixes, and a specifier handler that names
// tokens after the account's screen name.
func Twitter(consumerKey, consumerSecret string) ServiceConfig {
	return ServiceConfig{
		ConsumerKey:     consumerKey,
		ConsumerSecret:  consumerSecret,
		RequestTokenURL: "https://api.twitter.com/oauth/request_token",
		AccessTokenURL:  "https://api.twitter.com/oauth/access_token",
		AuthorizeURL:    "https://api.twitter.com/oauth/authorize",
		APIPrefix:       "https://api.twitter.com/1.1",
		APISuffix:       ".json",
		Specifier:       TwitterSpecifier,
	}
}

// TwitterSpecifier resolves the screen name of the account a token
// was issued for.
func TwitterSpecifier(ctx context.Context, c APIClient) (string, error) {
	info, err := c.Get(ctx, "/account/verify_credentials", nil)
	if err != nil {
		return "", err
	}
	name, ok := info["screen_name"].(string)
	if !ok {
		return "", fmt.Errorf("verify_credentials response missing screen_name")
	}
	return name, nil
}
