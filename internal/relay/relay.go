// ABOUTME: Cross-process ready-signal relay over Redis pub/sub
// ABOUTME: Lets a send on one gateway instance reach sessions connected to another

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Signaler receives relayed signals. hub.Hub satisfies it.
type Signaler interface {
	Signal(userIDs ...int64) int
}

// envelope is the wire form of one relayed signal.
type envelope struct {
	Origin string  `json:"origin"`
	Users  []int64 `json:"users"`
}

// Redis publishes local signals to other instances and replays theirs locally.
type Redis struct {
	client   redis.UniversalClient
	channel  string
	instance string
	logger   *slog.Logger
}

// NewRedis creates a relay on channel. Each relay gets a fresh instance id so
// it can ignore its own publications.
func NewRedis(client redis.UniversalClient, channel string, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	instance := uuid.New().String()
	return &Redis{
		client:   client,
		channel:  channel,
		instance: instance,
		logger:   logger.With("component", "relay", "instance", instance),
	}
}

// Instance returns this relay's origin id.
func (r *Redis) Instance() string {
	return r.instance
}

// Publish announces that userIDs have new data. Local sessions must already
// have been signalled by the caller.
func (r *Redis) Publish(ctx context.Context, userIDs ...int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(envelope{Origin: r.instance, Users: userIDs})
	if err != nil {
		return fmt.Errorf("encoding signal: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing signal: %w", err)
	}
	return nil
}

// Run subscribes to the channel and forwards signals from other instances to
// target until ctx is cancelled. ready, if non-nil, is closed once the
// subscription is confirmed.
func (r *Redis) Run(ctx context.Context, target Signaler, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for confirmation so that nothing published after Run reports
	// ready is missed
	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info("relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			r.handle(target, msg.Payload)
		}
	}
}

func (r *Redis) handle(target Signaler, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("dropping malformed relay message", "error", err)
		return
	}
	if env.Origin == r.instance {
		return
	}
	n := target.Signal(env.Users...)
	r.logger.Debug("relayed signal",
		"origin", env.Origin,
		"users", env.Users,
		"sessions", n)
}
