package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL.
	URL string
	// ChannelPrefix is prepended to the document id to form the channel.
	// Default: "docsync:doc:"
	ChannelPrefix string
	// HealthInterval is the PING period used to detect outages.
	// Default: 2s
	HealthInterval time.Duration
	// TLS replaces the client TLS configuration of a rediss:// URL. The
	// server name from the URL is kept.
	TLS *tls.Config
}

// RedisRelay publishes each document on its own Redis channel. One PubSub
// connection carries every subscription of the instance.
type RedisRelay struct {
	client *redis.Client
	pubsub *redis.PubSub
	prefix string
	subs   *subscriptions
	hooks  hooks
	logger *slog.Logger

	interval  time.Duration
	available atomic.Bool
	closed    atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisRelay connects to Redis. An unreachable server is not an error:
// the relay starts unavailable and recovers when the health check passes.
func NewRedisRelay(ctx context.Context, cfg RedisConfig, instanceID string, logger *slog.Logger) (*RedisRelay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis relay: parse url: %w", err)
	}
	if cfg.TLS != nil {
		t := cfg.TLS.Clone()
		if opts.TLSConfig != nil && t.ServerName == "" {
			t.ServerName = opts.TLSConfig.ServerName
		}
		opts.TLSConfig = t
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "docsync:doc:"
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 2 * time.Second
	}

	client := redis.NewClient(opts)
	runCtx, cancel := context.WithCancel(context.Background())
	r := &RedisRelay{
		client:   client,
		pubsub:   client.Subscribe(runCtx),
		prefix:   cfg.ChannelPrefix,
		subs:     newSubscriptions(instanceID, logger),
		logger:   logger,
		interval: cfg.HealthInterval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis relay unreachable at startup, running single-instance",
			"addr", opts.Addr, "error", err)
	} else {
		r.available.Store(true)
	}

	go r.receiveLoop()
	go r.healthLoop(runCtx)

	logger.Info("redis relay started", "addr", opts.Addr, "prefix", cfg.ChannelPrefix)
	return r, nil
}

func (r *RedisRelay) channel(documentID string) string {
	return r.prefix + documentID
}

// Publish implements Relay.
func (r *RedisRelay) Publish(ctx context.Context, msg Message) error {
	if r.closed.Load() {
		return domain.ErrRelayUnavailable.WithDetails("relay closed")
	}
	if err := r.client.Publish(ctx, r.channel(msg.DocumentID), msg.Encode()).Err(); err != nil {
		r.markDown(err)
		return domain.ErrRelayUnavailable.WithCause(err).WithDetails("publish " + msg.DocumentID)
	}
	return nil
}

// Subscribe implements Relay.
func (r *RedisRelay) Subscribe(ctx context.Context, documentID string, h Handler) error {
	if !r.subs.add(documentID, h) {
		return nil
	}
	if err := r.pubsub.Subscribe(ctx, r.channel(documentID)); err != nil {
		// go-redis re-subscribes every channel on reconnect, so the
		// subscription takes effect once the server is back.
		r.markDown(err)
		return domain.ErrRelayUnavailable.WithCause(err).WithDetails("subscribe " + documentID)
	}
	return nil
}

// Unsubscribe implements Relay.
func (r *RedisRelay) Unsubscribe(ctx context.Context, documentID string) error {
	if !r.subs.remove(documentID) {
		return nil
	}
	if err := r.pubsub.Unsubscribe(ctx, r.channel(documentID)); err != nil {
		return domain.ErrRelayUnavailable.WithCause(err).WithDetails("unsubscribe " + documentID)
	}
	return nil
}

// OnReconnect implements Relay.
func (r *RedisRelay) OnReconnect(fn func()) {
	r.hooks.add(fn)
}

// Available implements Relay.
func (r *RedisRelay) Available() bool {
	return r.available.Load() && !r.closed.Load()
}

func (r *RedisRelay) receiveLoop() {
	defer close(r.done)
	for m := range r.pubsub.Channel() {
		r.subs.dispatchRaw([]byte(m.Payload))
	}
}

func (r *RedisRelay) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, r.interval)
			err := r.client.Ping(pingCtx).Err()
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					r.markDown(err)
				}
				continue
			}
			if r.available.CompareAndSwap(false, true) {
				r.logger.Info("redis relay reconnected, requesting resync",
					"documents", len(r.subs.documents()))
				r.hooks.fire()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *RedisRelay) markDown(err error) {
	if r.available.CompareAndSwap(true, false) {
		r.logger.Warn("redis relay unavailable, cross-instance sync paused", "error", err)
	}
}

// Close implements Relay.
func (r *RedisRelay) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.cancel()
	err := r.pubsub.Close()
	<-r.done
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}
