// Package client drives the three-legged OAuth 1.0a flow against a
// registered provider and relays signed API calls for bound tokens.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Seann-Moser/oauth1"
	"github.com/Seann-Moser/oauth1/tokenstore"
)

// Client walks one user through Login -> authorize redirect ->
// Callback -> signed API calls. A Client is bound to one provider and,
// after Callback or SetToken, to one access token. Not safe for
// concurrent use; construct one per request.
type Client struct {
	service  string
	cfg      oauth1.ServiceConfig
	registry *oauth1.Registry
	store    tokenstore.Store
	signer   *oauth1.Signer
	http     *http.Client

	callbackURL string
	token       *tokenstore.AccessToken
}

var _ oauth1.APIClient = (*Client)(nil)

// Option adjusts Client construction.
type Option func(*Client)

// WithHTTPClient replaces the outbound HTTP client (timeouts, tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithCallbackURL sets the URL the provider should redirect the user
// back to after authorization.
func WithCallbackURL(u string) Option {
	return func(c *Client) { c.callbackURL = u }
}

// WithSigner replaces the signer; tests use it to pin nonce and clock.
func WithSigner(s *oauth1.Signer) Option {
	return func(c *Client) { c.signer = s }
}

// New builds a Client for the named provider. An unregistered name is
// a configuration error.
func New(registry *oauth1.Registry, store tokenstore.Store, service string, opts ...Option) (*Client, error) {
	cfg, ok := registry.Lookup(service)
	if !ok {
		return nil, configErrorf("unknown OAuth service provider: %q", service)
	}
	c := &Client{
		service:  service,
		cfg:      cfg,
		registry: registry,
		store:    store,
		signer:   &oauth1.Signer{},
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Service returns the provider name the client is bound to.
func (c *Client) Service() string { return c.service }

// Token returns the bound access token, nil before Callback/SetToken.
func (c *Client) Token() *tokenstore.AccessToken { return c.token }

// SetToken binds a previously issued access token by identifier.
func (c *Client) SetToken(ctx context.Context, token string) error {
	tok, err := c.store.LookupAccessToken(ctx, token)
	if err == tokenstore.ErrNotFound {
		return tokenError(http.StatusForbidden, "token is invalid")
	} else if err != nil {
		return fmt.Errorf("lookup access token: %w", err)
	}
	c.token = &tok
	return nil
}

// Login obtains a request token from the provider, stores it with a
// short TTL, and returns the authorize URL to redirect the user to.
func (c *Client) Login(ctx context.Context) (string, error) {
	status, body, err := c.fetch(ctx, http.MethodGet, c.cfg.RequestTokenURL, "", "", nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", protocolError(status, body, "request token request failed")
	}
	token, secret, err := parseTokenResponse(body)
	if err != nil {
		return "", protocolError(status, body, fmt.Sprintf("invalid request token response: %v", err))
	}
	if err := c.store.PutRequestToken(ctx, token, secret); err != nil {
		return "", fmt.Errorf("store request token: %w", err)
	}

	extra := url.Values{"oauth_token": {token}}
	if c.callbackURL != "" {
		extra.Set("oauth_callback", c.callbackURL)
	}
	authorizeURL, err := c.signedURL(http.MethodGet, c.cfg.AuthorizeURL, token, secret, extra)
	if err != nil {
		return "", err
	}
	return authorizeURL, nil
}

// Callback consumes the request token returned by the provider's
// redirect, exchanges it (with the verifier) for an access token,
// persists it, binds it, and returns its identifier.
//
// A missing token is treated as an invalid-token error rather than a
// silent restart of the login flow.
func (c *Client) Callback(ctx context.Context, token, verifier string) (string, error) {
	if token == "" {
		return "", tokenError(http.StatusBadRequest, "callback is missing oauth_token")
	}
	secret, err := c.store.TakeRequestToken(ctx, token)
	if err == tokenstore.ErrNotFound {
		return "", tokenError(http.StatusInternalServerError, fmt.Sprintf("request token is invalid: [%s]", token))
	} else if err != nil {
		return "", fmt.Errorf("take request token: %w", err)
	}

	extra := url.Values{"oauth_verifier": {verifier}}
	status, body, err := c.fetch(ctx, http.MethodGet, c.cfg.AccessTokenURL, token, secret, extra)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", protocolError(status, body, "access token exchange failed")
	}
	accessToken, accessSecret, err := parseTokenResponse(body)
	if err != nil {
		return "", protocolError(status, body, fmt.Sprintf("invalid access token response: %v", err))
	}

	tok := tokenstore.AccessToken{Token: accessToken, Secret: accessSecret, Created: time.Now()}
	c.token = &tok
	if c.cfg.Specifier != nil {
		specifier, err := c.cfg.Specifier(ctx, c)
		if err != nil {
			return "", err
		}
		tok.Specifier = specifier
		c.token = &tok
	}
	if err := c.store.PutAccessToken(ctx, tok); err != nil {
		return "", fmt.Errorf("store access token: %w", err)
	}
	return tok.Token, nil
}

// Get performs a signed GET against the provider's API. apiMethod may
// be relative ("/statuses/home_timeline") or an absolute URL. expected
// defaults to 200; any other status is a protocol error carrying the
// provider's status and body.
func (c *Client) Get(ctx context.Context, apiMethod string, params url.Values, expected ...int) (map[string]any, error) {
	return c.call(ctx, http.MethodGet, apiMethod, params, expected)
}

// Post performs a signed POST with a form-encoded body.
func (c *Client) Post(ctx context.Context, apiMethod string, params url.Values, expected ...int) (map[string]any, error) {
	return c.call(ctx, http.MethodPost, apiMethod, params, expected)
}

// Logout unbinds the access token. The token stays valid at the
// provider; no revocation call exists in OAuth 1.0a.
func (c *Client) Logout() {
	c.token = nil
}

// Cleanup sweeps expired request tokens from the durable store.
func (c *Client) Cleanup(ctx context.Context) (int64, error) {
	return c.store.Cleanup(ctx)
}

func (c *Client) call(ctx context.Context, method, apiMethod string, params url.Values, expected []int) (map[string]any, error) {
	if c.token == nil {
		return nil, tokenError(http.StatusInternalServerError, "token is not set")
	}
	target := c.resolveAPIMethod(apiMethod)
	status, body, err := c.fetch(ctx, method, target, c.token.Token, c.token.Secret, params)
	if err != nil {
		return nil, err
	}
	if len(expected) == 0 {
		expected = []int{http.StatusOK}
	}
	ok := false
	for _, want := range expected {
		if status == want {
			ok = true
			break
		}
	}
	if !ok {
		return nil, protocolError(status, body, fmt.Sprintf("%s %s returned unexpected status", method, apiMethod))
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return nil, protocolError(status, body, fmt.Sprintf("unparseable provider response: %v", err))
	}
	return decoded, nil
}

func (c *Client) resolveAPIMethod(apiMethod string) string {
	if strings.HasPrefix(apiMethod, "http://") || strings.HasPrefix(apiMethod, "https://") {
		return apiMethod
	}
	return c.cfg.APIPrefix + apiMethod + c.cfg.APISuffix
}

// signedParams assembles the full parameter set for one request:
// fresh oauth_* protocol fields, the caller's extras, oauth_token when
// bound, and the computed oauth_signature.
func (c *Client) signedParams(method, rawURL, token, tokenSecret string, extra url.Values) (url.Values, error) {
	params := c.signer.ProtocolParams(c.cfg.ConsumerKey)
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	if token != "" && params.Get("oauth_token") == "" {
		params.Set("oauth_token", token)
	}

	serviceKey, err := c.registry.ServiceKey(c.service)
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	key := serviceKey + oauth1.PercentEncode(tokenSecret)
	base := oauth1.SignatureBase(method, rawURL, params)
	params.Set("oauth_signature", oauth1.HMACSign(key, base))
	return params, nil
}

func (c *Client) signedURL(method, rawURL, token, tokenSecret string, extra url.Values) (string, error) {
	params, err := c.signedParams(method, rawURL, token, tokenSecret, extra)
	if err != nil {
		return "", err
	}
	return rawURL + "?" + params.Encode(), nil
}

// fetch signs and executes one provider request. GETs carry the
// parameters in the query string, POSTs in a form-encoded body.
func (c *Client) fetch(ctx context.Context, method, rawURL, token, tokenSecret string, extra url.Values) (int, string, error) {
	params, err := c.signedParams(method, rawURL, token, tokenSecret, extra)
	if err != nil {
		return 0, "", err
	}

	var req *http.Request
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, rawURL, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, rawURL+"?"+params.Encode(), nil)
	}
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", transportError(err, fmt.Sprintf("request to %s failed", rawURL))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", transportError(err, "reading provider response")
	}
	return resp.StatusCode, string(body), nil
}

// parseTokenResponse decodes the key=value&key=value body of the token
// endpoints and validates the required fields.
func parseTokenResponse(body string) (token, secret string, err error) {
	values, err := url.ParseQuery(strings.TrimSpace(body))
	if err != nil {
		return "", "", err
	}
	token = values.Get("oauth_token")
	secret = values.Get("oauth_token_secret")
	if token == "" {
		return "", "", fmt.Errorf("missing oauth_token")
	}
	if secret == "" {
		return "", "", fmt.Errorf("missing oauth_token_secret")
	}
	return token, secret, nil
}
