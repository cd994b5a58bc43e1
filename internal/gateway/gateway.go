// ABOUTME: Gateway orchestrator that wires store, hub, relay and HTTP server together
// ABOUTME: Manages the HTTP/WebSocket server lifecycle and health endpoints

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/NightFury20/microbe-messaging/internal/auth"
	"github.com/NightFury20/microbe-messaging/internal/config"
	"github.com/NightFury20/microbe-messaging/internal/conversation"
	"github.com/NightFury20/microbe-messaging/internal/dedupe"
	"github.com/NightFury20/microbe-messaging/internal/hub"
	"github.com/NightFury20/microbe-messaging/internal/ratelimit"
	"github.com/NightFury20/microbe-messaging/internal/relay"
	"github.com/NightFury20/microbe-messaging/internal/store"
)

// readyTimeout bounds the store ping behind /health/ready
const readyTimeout = 2 * time.Second

// Gateway orchestrates the microbe-gateway server components.
type Gateway struct {
	config       *config.Config
	store        store.Store
	conversation *conversation.Service
	hub          *hub.Hub
	verifier     *auth.JWTVerifier
	httpServer   *http.Server
	mux          *http.ServeMux
	logger       *slog.Logger

	// dedupe makes client retries of one send exactly-once
	dedupe *dedupe.Cache

	// redis, relay and limiter are nil unless redis.addr is configured
	redis   redis.UniversalClient
	relay   *relay.Redis
	limiter ratelimit.Limiter

	// baseCtx is the parent of every request context; cancelling it ends
	// hijacked WebSocket connections that http.Server.Shutdown leaves alone
	baseCtx    context.Context
	cancelBase context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore creates and returns a store based on config.
func initStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := store.NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	}
}

// initRedis wires the relay and rate limiter when Redis is configured.
func (g *Gateway) initRedis(cfg *config.Config, logger *slog.Logger) error {
	if cfg.Redis.Addr == "" {
		return nil
	}

	g.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	g.relay = relay.NewRedis(g.redis, cfg.Redis.Channel, logger)

	if cfg.RateLimit.Messages > 0 {
		limiter, err := ratelimit.NewFixedWindow(g.redis, "", cfg.RateLimit.Messages, cfg.RateLimit.Window, logger)
		if err != nil {
			return fmt.Errorf("creating rate limiter: %w", err)
		}
		g.limiter = limiter
	}

	logger.Info("redis enabled",
		"addr", cfg.Redis.Addr,
		"channel", cfg.Redis.Channel,
		"instance", g.relay.Instance(),
		"rate_limit", cfg.RateLimit.Messages)
	return nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	s, err := initStore(context.Background(), cfg.Database)
	if err != nil {
		return nil, err
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	gw := &Gateway{
		config:       cfg,
		store:        s,
		conversation: conversation.New(s, logger),
		hub:          hub.New(logger),
		verifier:     verifier,
		dedupe:       dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries),
		logger:       logger.With("component", "gateway"),
		baseCtx:      baseCtx,
		cancelBase:   cancelBase,
	}

	if err := gw.initRedis(cfg, logger); err != nil {
		_ = gw.Shutdown(context.Background())
		return nil, err
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	gw.registerHTTPAPIRoutes(mux)

	// WebSocket authenticates itself so that it can reject before upgrading
	mux.HandleFunc("GET /ws", gw.handleWebSocket)

	gw.mux = mux
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	return gw, nil
}

// Handler returns the gateway's HTTP handler, for embedding in tests.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// Hub returns the session hub.
func (g *Gateway) Hub() *hub.Hub {
	return g.hub
}

// Run serves HTTP (and the Redis relay, when configured) until ctx is
// cancelled or a component fails, then shuts everything down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if g.relay != nil {
		eg.Go(func() error {
			if err := g.relay.Run(egCtx, g.hub, nil); err != nil {
				return fmt.Errorf("relay: %w", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting connections, disconnects every session and closes
// the store. It is safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		g.cancelBase()
		if g.httpServer != nil {
			errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
		}

		// Ends every WebSocket writer, which closes its connection
		g.hub.Close()
		g.dedupe.Close()

		if g.redis != nil {
			errs = appendCloseError(errs, "redis close", g.redis.Close())
		}
		errs = appendCloseError(errs, "store close", g.store.Close())

		if len(errs) > 0 {
			g.shutdownErr = fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
		}
	})
	return g.shutdownErr
}

// notify signals every local session of userIDs and, when a relay is
// configured, every other instance. Call only after the change is persisted.
func (g *Gateway) notify(ctx context.Context, userIDs ...int64) {
	g.hub.Signal(userIDs...)
	if g.relay == nil {
		return
	}
	if err := g.relay.Publish(ctx, userIDs...); err != nil {
		g.logger.Warn("relay publish failed", "users", userIDs, "error", err)
	}
}

// storeContext detaches store work from the connection that asked for it,
// so a disconnect mid-request still lets the write or read finish.
func (g *Gateway) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), g.config.WebSocket.StoreTimeout)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// readyResponse is the /health/ready body
type readyResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Users    int    `json:"users"`
}

// handleReady returns 200 when the store answers, with session counts.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	stats := g.hub.Stats()
	resp := readyResponse{Status: "ready", Sessions: stats.Sessions, Users: stats.Users}
	status := http.StatusOK
	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
