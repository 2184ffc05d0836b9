package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seann-Moser/oauth1"
	"github.com/Seann-Moser/oauth1/tokenstore"
)

// fakeProvider is an httptest OAuth 1.0a provider that verifies the
// HMAC-SHA1 signature of every incoming request before answering.
type fakeProvider struct {
	t *testing.T

	consumerSecret string
	requestToken   string
	requestSecret  string
	accessToken    string
	accessSecret   string
	verifier       string
	screenName     string

	srv *httptest.Server
}

func newFakeProvider(t *testing.T) *fakeProvider {
	p := &fakeProvider{
		t:              t,
		consumerSecret: "consumer-secret",
		requestToken:   "req-token",
		requestSecret:  "req-secret",
		accessToken:    "acc-token",
		accessSecret:   "acc-secret",
		verifier:       "verifier-123",
		screenName:     "gopher",
	}
	m := http.NewServeMux()
	m.HandleFunc("/oauth/request_token", p.handleRequestToken)
	m.HandleFunc("/oauth/access_token", p.handleAccessToken)
	m.HandleFunc("/1.1/account/verify_credentials.json", p.handleVerifyCredentials)
	m.HandleFunc("/1.1/statuses/update.json", p.handleStatusUpdate)
	p.srv = httptest.NewServer(m)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) config() oauth1.ServiceConfig {
	return oauth1.ServiceConfig{
		ConsumerKey:     "consumer-key",
		ConsumerSecret:  p.consumerSecret,
		RequestTokenURL: p.srv.URL + "/oauth/request_token",
		AccessTokenURL:  p.srv.URL + "/oauth/access_token",
		AuthorizeURL:    p.srv.URL + "/oauth/authorize",
		APIPrefix:       p.srv.URL + "/1.1",
		APISuffix:       ".json",
		Specifier:       oauth1.TwitterSpecifier,
	}
}

// requestParams extracts the signed parameter set from a query string
// or a form body.
func (p *fakeProvider) requestParams(r *http.Request) url.Values {
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(r.Body)
		assert.NoError(p.t, err)
		params, err := url.ParseQuery(string(body))
		assert.NoError(p.t, err)
		return params
	}
	return r.URL.Query()
}

// checkSignature recomputes the request signature from scratch and
// compares. tokenSecret is the secret the provider expects the client
// to have signed with at this stage of the flow.
func (p *fakeProvider) checkSignature(r *http.Request, params url.Values, tokenSecret string) {
	got := params.Get("oauth_signature")
	assert.NotEmpty(p.t, got, "unsigned request to %s", r.URL.Path)
	params.Del("oauth_signature")

	base := oauth1.SignatureBase(r.Method, "http://"+r.Host+r.URL.Path, params)
	want := oauth1.HMACSign(oauth1.SigningKey(p.consumerSecret, tokenSecret), base)
	assert.Equal(p.t, want, got, "signature mismatch on %s", r.URL.Path)
}

func (p *fakeProvider) handleRequestToken(w http.ResponseWriter, r *http.Request) {
	params := p.requestParams(r)
	p.checkSignature(r, params, "")
	fmt.Fprintf(w, "oauth_token=%s&oauth_token_secret=%s", p.requestToken, p.requestSecret)
}

func (p *fakeProvider) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	params := p.requestParams(r)
	p.checkSignature(r, params, p.requestSecret)
	if params.Get("oauth_token") != p.requestToken || params.Get("oauth_verifier") != p.verifier {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"Invalid or expired token."}`)
		return
	}
	fmt.Fprintf(w, "oauth_token=%s&oauth_token_secret=%s", p.accessToken, p.accessSecret)
}

func (p *fakeProvider) handleVerifyCredentials(w http.ResponseWriter, r *http.Request) {
	params := p.requestParams(r)
	p.checkSignature(r, params, p.accessSecret)
	fmt.Fprintf(w, `{"screen_name":%q}`, p.screenName)
}

func (p *fakeProvider) handleStatusUpdate(w http.ResponseWriter, r *http.Request) {
	params := p.requestParams(r)
	if params.Get("oauth_token") != p.accessToken {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"Invalid or expired token."}`)
		return
	}
	p.checkSignature(r, params, p.accessSecret)
	fmt.Fprintf(w, `{"id":1,"text":%q}`, params.Get("status"))
}

func newTestSetup(t *testing.T) (*oauth1.Registry, *tokenstore.MemoryStore, *fakeProvider) {
	p := newFakeProvider(t)
	registry := oauth1.NewRegistry()
	registry.Register("twitter", p.config())
	return registry, tokenstore.NewMemoryStore(), p
}

func TestNew_UnknownService(t *testing.T) {
	registry, store, _ := newTestSetup(t)
	_, err := New(registry, store, "flickr")
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestLoginCallbackFlow(t *testing.T) {
	ctx := context.Background()
	registry, store, p := newTestSetup(t)

	c, err := New(registry, store, "twitter",
		WithCallbackURL("http://localhost/oauth/twitter/callback"))
	require.NoError(t, err)

	authorizeURL, err := c.Login(ctx)
	require.NoError(t, err)
	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize", u.Path)
	assert.Equal(t, p.requestToken, u.Query().Get("oauth_token"))
	assert.Equal(t, "http://localhost/oauth/twitter/callback", u.Query().Get("oauth_callback"))
	assert.NotEmpty(t, u.Query().Get("oauth_signature"))

	tokenID, err := c.Callback(ctx, p.requestToken, p.verifier)
	require.NoError(t, err)
	assert.Equal(t, p.accessToken, tokenID)

	tok, err := store.LookupAccessToken(ctx, p.accessToken)
	require.NoError(t, err)
	assert.Equal(t, p.accessSecret, tok.Secret)
	assert.Equal(t, p.screenName, tok.Specifier)

	require.NotNil(t, c.Token())
	assert.Equal(t, p.accessToken, c.Token().Token)
}

func TestCallback_MissingToken(t *testing.T) {
	registry, store, _ := newTestSetup(t)
	c, err := New(registry, store, "twitter")
	require.NoError(t, err)

	_, err = c.Callback(context.Background(), "", "v")
	require.Error(t, err)
	assert.Equal(t, KindTokenInvalid, KindOf(err))
	assert.Equal(t, http.StatusBadRequest, err.(*Error).Code)
}

func TestCallback_UnknownToken(t *testing.T) {
	registry, store, _ := newTestSetup(t)
	c, err := New(registry, store, "twitter")
	require.NoError(t, err)

	_, err = c.Callback(context.Background(), "never-issued", "v")
	require.Error(t, err)
	assert.Equal(t, KindTokenInvalid, KindOf(err))
	assert.Contains(t, err.(*Error).Message, "never-issued")
}

func TestCallback_RequestTokenIsSingleUse(t *testing.T) {
	ctx := context.Background()
	registry, store, p := newTestSetup(t)
	c, err := New(registry, store, "twitter")
	require.NoError(t, err)

	_, err = c.Login(ctx)
	require.NoError(t, err)
	_, err = c.Callback(ctx, p.requestToken, p.verifier)
	require.NoError(t, err)

	// A replayed callback finds the request token already consumed.
	_, err = c.Callback(ctx, p.requestToken, p.verifier)
	require.Error(t, err)
	assert.Equal(t, KindTokenInvalid, KindOf(err))
}

func TestCallback_BadVerifier(t *testing.T) {
	ctx := context.Background()
	registry, store, p := newTestSetup(t)
	c, err := New(registry, store, "twitter")
	require.NoError(t, err)

	_, err = c.Login(ctx)
	require.NoError(t, err)
	_, err = c.Callback(ctx, p.requestToken, "wrong-verifier")
	require.Error(t, err)
	assert.Equal(t, KindProtocol, KindOf(err))
	assert.Equal(t, http.StatusUnauthorized, err.(*Error).Code)
}

func TestSetToken(t *testing.T) {
	ctx := context.Background()
	registry, store, p := newTestSetup(t)
	c, err := New(registry, store, "twitter")
	require.NoError(t, err)

	err = c.SetToken(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, KindTokenInvalid, KindOf(err))
	assert.Equal(t, http.StatusForbidden, err.(*Error).Code)

	require.NoError(t, store.PutAccessToken(ctx, tokenstore.AccessToken{
		Token: p.accessToken, Secret: p.accessSecret,
	}))
	require.NoError(t, c.SetToken(ctx, p.accessToken))
	assert.Equal(t, p.accessSecret, c.Token().Secret)
}

func TestCall_TokenNotSet(t *testing.T) {
	registry, store, _ := newTestSetup(t)
	c, err := New(registry, store, "twitter")
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/account/verify_credentials", nil)
	require.Error(t, err)
	assert.Equal(t, KindTokenInvalid, KindOf(err))
}

func TestPost_ProviderRejectsToken(t *testing.T) {
	ctx := context.Background()
	registry, store, _ := newTestSetup(t)
	c, err := New(registry, store, "twitter")
	require.NoError(t, err)

	// A token the store knows but the provider no longer honors.
	require.NoError(t, store.PutAccessToken(ctx, tokenstore.AccessToken{
		Token: "revoked-token", Secret: "revoked-secret",
	}))
	require.NoError(t, c.SetToken(ctx, "revoked-token"))

	_, err = c.Post(ctx, "/statuses/update", url.Values{"status": {"hi"}})
	require.Error(t, err)
	e := err.(*Error)
	assert.Equal(t, KindProtocol, e.Kind)
	assert.Equal(t, http.StatusUnauthorized, e.Code)
	assert.Contains(t, e.Body, "Invalid or expired token.")
}

func TestPost_StatusUpdate(t *testing.T) {
	ctx := context.Background()
	registry, store, p := newTestSetup(t)
	c, err := New(registry, store, "twitter")
	require.NoError(t, err)

	require.NoError(t, store.PutAccessToken(ctx, tokenstore.AccessToken{
		Token: p.accessToken, Secret: p.accessSecret,
	}))
	require.NoError(t, c.SetToken(ctx, p.accessToken))

	resp, err := c.Post(ctx, "/statuses/update", url.Values{"status": {"hello world"}})
	require.NoError(t, err)
	assert.Equal(t, "hello world", resp["text"])
}

func TestLogin_StoreFailure(t *testing.T) {
	registry, _, _ := newTestSetup(t)
	mock := &tokenstore.MockStore{
		PutRequestTokenFunc: func(ctx context.Context, token, secret string) error {
			return errors.New("db down")
		},
	}
	c, err := New(registry, mock, "twitter")
	require.NoError(t, err)

	_, err = c.Login(context.Background())
	require.Error(t, err)
	// Store failures are plain errors, not structured client errors.
	assert.Equal(t, Kind(0), KindOf(err))
	assert.Contains(t, err.Error(), "db down")
}

func TestLogin_ProviderDown(t *testing.T) {
	registry, store, p := newTestSetup(t)
	c, err := New(registry, store, "twitter")
	require.NoError(t, err)

	p.srv.Close()
	_, err = c.Login(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	registry, store, p := newTestSetup(t)
	c, err := New(registry, store, "twitter")
	require.NoError(t, err)

	require.NoError(t, store.PutAccessToken(ctx, tokenstore.AccessToken{
		Token: p.accessToken, Secret: p.accessSecret,
	}))
	require.NoError(t, c.SetToken(ctx, p.accessToken))
	c.Logout()
	assert.Nil(t, c.Token())
}

func TestParseTokenResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		token   string
		secret  string
		wantErr bool
	}{
		{
			name:   "valid",
			body:   "oauth_token=tok&oauth_token_secret=sec&oauth_callback_confirmed=true",
			token:  "tok",
			secret: "sec",
		},
		{
			name:   "trailing newline",
			body:   "oauth_token=tok&oauth_token_secret=sec\n",
			token:  "tok",
			secret: "sec",
		},
		{
			name:    "missing token",
			body:    "oauth_token_secret=sec",
			wantErr: true,
		},
		{
			name:    "missing secret",
			body:    "oauth_token=tok",
			wantErr: true,
		},
		{
			name:    "not key-value",
			body:    "<html>rate limited</html>;%zz",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, secret, err := parseTokenResponse(tt.body)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.token, token)
			assert.Equal(t, tt.secret, secret)
		})
	}
}
