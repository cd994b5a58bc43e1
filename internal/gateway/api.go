// ABOUTME: HTTP API handlers for login, user lookup and thread history
// ABOUTME: Read-only companions to the WebSocket protocol for clients that poll

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/NightFury20/microbe-messaging/internal/auth"
	"github.com/NightFury20/microbe-messaging/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoginRequest is the JSON request body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=256"`
}

// LoginResponse is the JSON response for POST /api/login.
type LoginResponse struct {
	Token     string        `json:"token"`
	ExpiresIn int64         `json:"expiresIn"`
	User      store.UserRef `json:"user"`
}

// LookupResponse is the JSON response for GET /api/users/lookup.
type LookupResponse struct {
	Found  bool  `json:"found"`
	UserID int64 `json:"userId,omitempty"`
	// Self is set when the username is the caller's own
	Self bool `json:"self,omitempty"`
}

// registerHTTPAPIRoutes mounts the JSON API. Everything but login requires a
// bearer token.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux) {
	requireAuth := auth.HTTPAuthMiddleware(g.verifier)

	mux.HandleFunc("POST /api/login", g.handleLogin)
	mux.Handle("GET /api/users/lookup", requireAuth(http.HandlerFunc(g.handleLookup)))
	mux.Handle("GET /api/threads", requireAuth(http.HandlerFunc(g.handleThreads)))
	mux.Handle("GET /api/threads/{id}/messages", requireAuth(http.HandlerFunc(g.handleThreadMessages)))
}

// handleLogin exchanges a username and password for an identity token.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	id, err := auth.CheckCredentials(r.Context(), g.store, req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		g.logger.Error("login failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	ttl := g.config.Auth.TokenTTL
	token, err := g.verifier.Generate(*id, ttl)
	if err != nil {
		g.logger.Error("failed to sign token", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("user logged in", "user_id", id.ID)
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresIn: int64(ttl.Seconds()),
		User:      store.UserRef{ID: id.ID, Username: id.Username},
	})
}

// handleLookup resolves ?username= for starting a new chat.
func (g *Gateway) handleLookup(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	ref, err := g.conversation.FindUser(r.Context(), r.URL.Query().Get("username"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, LookupResponse{Found: false})
		return
	}
	if err != nil {
		g.logger.Error("failed to look up user", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, LookupResponse{
		Found:  true,
		UserID: ref.ID,
		Self:   ref.ID == caller.ID,
	})
}

// handleThreads returns the caller's thread summaries, most recent first.
func (g *Gateway) handleThreads(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	threads, err := g.conversation.GetThreads(r.Context(), caller.ID)
	if err != nil {
		g.logger.Error("failed to get threads", "user_id", caller.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

// handleThreadMessages handles GET /api/threads/{id}/messages, where id is the
// other participant. Opening a thread marks it read, so the caller's other
// sessions are signalled afterwards.
func (g *Gateway) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	otherID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || otherID <= 0 {
		g.sendJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	messages, err := g.conversation.OpenThread(r.Context(), caller.ID, otherID)
	if err != nil {
		g.logger.Error("failed to open thread", "user_id", caller.ID, "other_id", otherID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.notify(r.Context(), caller.ID)
	writeJSON(w, http.StatusOK, messages)
}
