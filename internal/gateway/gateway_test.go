// ABOUTME: Tests for Gateway lifecycle, health endpoints and shared test helpers
// ABOUTME: Runs the real HTTP stack over httptest with a SQLite store in a temp dir

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NightFury20/microbe-messaging/internal/auth"
	"github.com/NightFury20/microbe-messaging/internal/config"
	"github.com/NightFury20/microbe-messaging/internal/store"
)

const testSecret = "test-secret-that-is-at-least-32-bytes-long"

// testConfig creates a minimal config for testing with an available port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to find available HTTP port")
	httpAddr := ln.Addr().String()
	ln.Close()

	return &config.Config{
		Server: config.ServerConfig{
			HTTPAddr: httpAddr,
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "microbe.db"),
		},
		Auth: config.AuthConfig{
			JWTSecret: testSecret,
			Issuer:    config.DefaultIssuer,
			Audience:  config.DefaultAudience,
			TokenTTL:  time.Hour,
		},
		RateLimit: config.RateLimitConfig{
			Window: time.Minute,
		},
		WebSocket: config.WebSocketConfig{
			WriteTimeout: 5 * time.Second,
			PingInterval: 30 * time.Second,
			StoreTimeout: 5 * time.Second,
		},
		Dedupe: config.DedupeConfig{
			TTL:        5 * time.Minute,
			MaxEntries: 100,
		},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGateway builds a gateway from cfg and serves it over httptest.
// Shutdown runs before the server closes so WebSocket handlers exit first.
func newTestGateway(t *testing.T, cfg *config.Config) (*Gateway, *httptest.Server) {
	t.Helper()

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw, srv
}

// createUser stores a user with password "password" and returns its identity.
func createUser(t *testing.T, gw *Gateway, username string) auth.Identity {
	t.Helper()

	hash, err := auth.HashPassword("password")
	require.NoError(t, err)
	u := &store.User{Username: username, PasswordHash: hash}
	require.NoError(t, gw.store.CreateUser(t.Context(), u))
	return auth.Identity{ID: u.ID, Username: u.Username}
}

func tokenFor(t *testing.T, gw *Gateway, id auth.Identity) string {
	t.Helper()
	token, err := gw.verifier.Generate(id, time.Hour)
	require.NoError(t, err)
	return token
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.Same(t, cfg, gw.config)
	assert.NotNil(t, gw.store)
	assert.NotNil(t, gw.conversation)
	assert.NotNil(t, gw.hub)
	assert.NotNil(t, gw.dedupe)
	assert.Nil(t, gw.relay, "relay is off without redis")
	assert.Nil(t, gw.limiter, "limiter is off without redis")
}

func TestGatewayNewRejectsWeakSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "short"

	_, err := New(cfg, testLogger())
	require.ErrorIs(t, err, auth.ErrWeakSecret)
}

func TestGatewayShutdownIsIdempotent(t *testing.T) {
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	require.NoError(t, gw.Shutdown(context.Background()))
	require.NoError(t, gw.Shutdown(context.Background()))
}

func TestGatewayRunServesUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := newTestGateway(t, testConfig(t))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))
}

func TestReadyEndpoint(t *testing.T) {
	gw, srv := newTestGateway(t, testConfig(t))
	bob := createUser(t, gw, "bob")
	dial(t, srv, tokenFor(t, gw, bob)).expect(frameDataReady)

	resp, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body readyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, readyResponse{Status: "ready", Sessions: 1, Users: 1}, body)
}

func TestReadyEndpointStoreDown(t *testing.T) {
	gw, srv := newTestGateway(t, testConfig(t))
	require.NoError(t, gw.store.Close())

	resp, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body readyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unavailable", body.Status)
}
