// ABOUTME: Per-user session registry and payload-free ready-signal fan-out
// ABOUTME: Every connection of a user joins that user's group; signals reach all of them

package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/NightFury20/microbe-messaging/internal/hub"

// Session is one connection's membership in its user's group.
type Session struct {
	ID     string
	UserID int64

	// signal has capacity 1. A pending value already means "your data is
	// stale", so further signals coalesce into it.
	signal chan struct{}

	mu     sync.Mutex
	closed bool
}

// Signals returns the channel that receives ready-signals. It is closed
// when the session leaves the hub.
func (s *Session) Signals() <-chan struct{} {
	return s.signal
}

// notify delivers a ready-signal without blocking. Returns false when the
// session is gone.
func (s *Session) notify() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.signal <- struct{}{}:
	default:
		// already pending
	}
	return true
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.signal)
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Sessions int `json:"sessions"`
	Users    int `json:"users"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithMeterProvider sets the MeterProvider used for hub metrics.
// The global provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(h *Hub) { h.meterProvider = mp }
}

// Hub owns the group registry for one process. It is constructed at startup
// and handed to connection handlers; there is no package-level instance.
type Hub struct {
	mu     sync.RWMutex
	groups map[int64]map[string]*Session // userID -> sessionID -> session
	logger *slog.Logger

	meterProvider metric.MeterProvider
	sessions      metric.Int64UpDownCounter
	signals       metric.Int64Counter
}

// New creates a Hub. Pass nil logger for default.
func New(logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		groups: make(map[int64]map[string]*Session),
		logger: logger.With("component", "hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.meterProvider == nil {
		h.meterProvider = otel.GetMeterProvider()
	}

	meter := h.meterProvider.Meter(meterName)
	var err error
	h.sessions, err = meter.Int64UpDownCounter("microbe.hub.sessions",
		metric.WithDescription("Connected sessions"))
	if err != nil {
		h.logger.Warn("failed to create sessions instrument", "error", err)
	}
	h.signals, err = meter.Int64Counter("microbe.hub.signals",
		metric.WithDescription("Ready-signals delivered to sessions"))
	if err != nil {
		h.logger.Warn("failed to create signals instrument", "error", err)
	}
	return h
}

// Join registers a new session in userID's group. The session leaves
// automatically when ctx is cancelled.
func (h *Hub) Join(ctx context.Context, userID int64) *Session {
	s := &Session{
		ID:     uuid.New().String(),
		UserID: userID,
		signal: make(chan struct{}, 1),
	}

	h.mu.Lock()
	group, ok := h.groups[userID]
	if !ok {
		group = make(map[string]*Session)
		h.groups[userID] = group
	}
	group[s.ID] = s
	size := len(group)
	h.mu.Unlock()

	if h.sessions != nil {
		h.sessions.Add(ctx, 1)
	}
	h.logger.Debug("session joined",
		"user_id", userID,
		"session_id", s.ID,
		"group_size", size)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		h.Leave(s)
	}()

	return s
}

// Leave removes the session from its group and closes its signal channel.
// Empty groups are dropped. Calling Leave more than once is a no-op.
func (h *Hub) Leave(s *Session) {
	h.mu.Lock()
	group, ok := h.groups[s.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := group[s.ID]; !exists {
		h.mu.Unlock()
		return
	}
	delete(group, s.ID)
	if len(group) == 0 {
		delete(h.groups, s.UserID)
	}
	s.close()
	h.mu.Unlock()

	if h.sessions != nil {
		h.sessions.Add(context.Background(), -1)
	}
	h.logger.Debug("session left",
		"user_id", s.UserID,
		"session_id", s.ID)
}

// Signal sends one ready-signal to every session of each distinct user.
// It never blocks on a slow session.
func (h *Hub) Signal(userIDs ...int64) int {
	userIDs = lo.Uniq(userIDs)

	// Copy targets under read lock to avoid holding it during delivery
	h.mu.RLock()
	var targets []*Session
	for _, id := range userIDs {
		for _, s := range h.groups[id] {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.notify() {
			delivered++
		}
	}

	if h.signals != nil && delivered > 0 {
		h.signals.Add(context.Background(), int64(delivered),
			metric.WithAttributes(attribute.Int("users", len(userIDs))))
	}
	h.logger.Debug("signalled groups",
		"users", userIDs,
		"sessions", delivered)
	return delivered
}

// Count returns the number of sessions in userID's group.
func (h *Hub) Count(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[userID])
}

// Stats returns the total sessions and distinct connected users.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{Users: len(h.groups)}
	for _, group := range h.groups {
		st.Sessions += len(group)
	}
	return st
}

// Close removes every session and closes their signal channels.
func (h *Hub) Close() {
	h.mu.Lock()
	var n int64
	for userID, group := range h.groups {
		for id, s := range group {
			s.close()
			delete(group, id)
			n++
		}
		delete(h.groups, userID)
	}
	h.mu.Unlock()

	if h.sessions != nil && n > 0 {
		h.sessions.Add(context.Background(), -n)
	}
	h.logger.Debug("hub closed")
}
