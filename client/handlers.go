package client

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Seann-Moser/oauth1"
	"github.com/Seann-Moser/oauth1/session"
	"github.com/Seann-Moser/oauth1/tokenstore"
	"github.com/Seann-Moser/oauth1/utils"
)

// Action enumerates the operations reachable through the OAuth
// endpoint. Dispatch goes through the actions table below, so only
// whitelisted names ever reach a client method.
type Action int

const (
	ActionLogin Action = iota + 1
	ActionLogout
	ActionCallback
	ActionCleanup
)

var actions = map[string]Action{
	"login":    ActionLogin,
	"logout":   ActionLogout,
	"callback": ActionCallback,
	"cleanup":  ActionCleanup,
}

const quotaLimit = 50

// Handler exposes the OAuth flow and the authenticated update endpoint
// over HTTP.
type Handler struct {
	registry      *oauth1.Registry
	store         tokenstore.Store
	sessionSecret []byte
	sessionTTL    time.Duration

	// updateService names the provider /update posts through.
	updateService string
	// callbackBase, when set, is the external origin used to build
	// per-service callback URLs (e.g. "https://app.example.com").
	callbackBase string

	clientOpts []Option
}

// HandlerOption adjusts Handler construction.
type HandlerOption func(*Handler)

// WithCallbackBase sets the external origin for authorize-redirect
// callback URLs.
func WithCallbackBase(origin string) HandlerOption {
	return func(h *Handler) { h.callbackBase = strings.TrimSuffix(origin, "/") }
}

// WithUpdateService routes /update through a provider other than
// twitter.
func WithUpdateService(service string) HandlerOption {
	return func(h *Handler) { h.updateService = service }
}

// WithClientOptions forwards options to every per-request Client the
// handler constructs; tests use it to inject HTTP clients and signers.
func WithClientOptions(opts ...Option) HandlerOption {
	return func(h *Handler) { h.clientOpts = opts }
}

func NewHandler(registry *oauth1.Registry, store tokenstore.Store, sessionSecret []byte, opts ...HandlerOption) *Handler {
	h := &Handler{
		registry:      registry,
		store:         store,
		sessionSecret: sessionSecret,
		sessionTTL:    30 * 24 * time.Hour,
		updateService: "twitter",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes attaches the handler's endpoints to a mux router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/oauth/{service}/{action}", h.OAuth)
	r.HandleFunc("/oauth/{service}", h.OAuth)
	r.HandleFunc("/update", h.Update).Methods(http.MethodGet, http.MethodPost)
}

// OAuth dispatches /oauth/{service}/{action}. Unknown actions fall
// through to login, matching the historical behavior of the endpoint;
// unknown services are a client error.
func (h *Handler) OAuth(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	service := vars["service"]

	opts := h.clientOpts
	if h.callbackBase != "" {
		opts = append(opts[:len(opts):len(opts)],
			WithCallbackURL(h.callbackBase+"/oauth/"+service+"/callback"))
	}
	c, err := New(h.registry, h.store, service, opts...)
	if err != nil {
		h.renderError(w, err)
		return
	}

	action, ok := actions[vars["action"]]
	if !ok {
		action = ActionLogin
	}
	switch action {
	case ActionLogin:
		redirect, err := c.Login(r.Context())
		if err != nil {
			h.renderError(w, err)
			return
		}
		http.Redirect(w, r, redirect, http.StatusFound)

	case ActionCallback:
		q := r.URL.Query()
		tokenID, err := c.Callback(r.Context(), q.Get("oauth_token"), q.Get("oauth_verifier"))
		if err != nil {
			h.renderError(w, err)
			return
		}
		if err := session.SetProviderCookie(w, service, tokenID, h.sessionSecret, h.sessionTTL, utils.GetDomain(r)); err != nil {
			log.Printf("Error setting provider cookie: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to set session")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"oauth_token": tokenID})

	case ActionLogout:
		session.ClearProviderCookie(w, service)
		c.Logout()
		returnTo := r.URL.Query().Get("return_to")
		if !strings.HasPrefix(returnTo, "/") {
			returnTo = "/"
		}
		http.Redirect(w, r, returnTo, http.StatusFound)

	case ActionCleanup:
		cleaned, err := c.Cleanup(r.Context())
		if err != nil {
			log.Printf("Cleanup sweep failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Cleanup failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"cleaned": cleaned})
	}
}

// Update posts a status update through the bound provider on behalf of
// an access token, enforcing the per-token quota.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	token := r.FormValue("token")
	if token == "" {
		writeError(w, http.StatusForbidden, "token is not specified")
		return
	}
	status := r.FormValue("status")
	if status == "" {
		writeError(w, http.StatusForbidden, "status is not specified")
		return
	}

	c, err := New(h.registry, h.store, h.updateService, h.clientOpts...)
	if err != nil {
		h.renderError(w, err)
		return
	}
	if err := c.SetToken(r.Context(), token); err != nil {
		h.renderError(w, err)
		return
	}

	count, err := h.store.IncrQuota(r.Context(), token, time.Now())
	if err != nil {
		log.Printf("Quota increment failed for token %s: %v", token, err)
		writeError(w, http.StatusInternalServerError, "Failed to check quota")
		return
	}
	if count > quotaLimit {
		h.renderError(w, &Error{Kind: KindQuota, Code: http.StatusServiceUnavailable, Message: "too many access"})
		return
	}

	if _, err := c.Post(r.Context(), "/statuses/update", url.Values{"status": {status}}); err != nil {
		h.renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// renderError maps a structured client error onto an HTTP response.
// Protocol errors relay the provider's status and, when the body is a
// JSON error document, its extracted message.
func (h *Handler) renderError(w http.ResponseWriter, err error) {
	e, ok := err.(*Error)
	if !ok {
		log.Printf("Internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	status := e.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message := e.Message
	if e.Kind == KindProtocol {
		if m := providerErrorMessage(e.Body); m != "" {
			message = m
		}
		log.Printf("Provider error %d: %s", e.Code, e.Body)
	}
	writeError(w, status, fmt.Sprintf("Error %d - %s", status, message))
}

// providerErrorMessage pulls the "error" field out of a JSON error
// body, e.g. {"error":"Invalid or expired token."}.
func providerErrorMessage(body string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return ""
	}
	return payload.Error
}

// writeJSON helper sends a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}

// writeError helper sends a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
