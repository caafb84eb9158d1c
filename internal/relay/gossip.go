package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/hashicorp/memberlist"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// GossipConfig configures the memberlist backend.
type GossipConfig struct {
	// BindAddr is the address to bind for gossip communication.
	BindAddr string
	// BindPort is the gossip port. 0 picks a free port.
	BindPort int
	// AdvertiseAddr is the address other members use to reach this one.
	AdvertiseAddr string
	// Seeds are members to join at startup.
	Seeds []string
}

// GossipRelay sends messages straight to the other instances of a
// memberlist cluster. Every member receives every message and keeps the
// ones for documents it has open.
type GossipRelay struct {
	ml     *memberlist.Memberlist
	subs   *subscriptions
	hooks  hooks
	logger *slog.Logger
	name   string

	closed atomic.Bool
}

// NewGossipRelay creates the memberlist and joins the seeds.
func NewGossipRelay(cfg GossipConfig, instanceID string, logger *slog.Logger) (*GossipRelay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &GossipRelay{
		subs:   newSubscriptions(instanceID, logger),
		logger: logger,
		name:   instanceID,
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = instanceID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	if cfg.AdvertiseAddr != "" {
		mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
		mlConfig.AdvertisePort = cfg.BindPort
	}
	mlConfig.Delegate = &messageDelegate{relay: g}
	mlConfig.Events = &memberEvents{relay: g}
	mlConfig.LogOutput = &slogWriter{logger: logger}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	g.ml = ml

	if len(cfg.Seeds) > 0 {
		n, err := ml.Join(cfg.Seeds)
		if err != nil {
			// Seeds may not be up yet; peers that join later find us.
			logger.Warn("gossip seeds unreachable", "seeds", cfg.Seeds, "error", err)
		} else {
			logger.Info("joined gossip cluster", "seeds", cfg.Seeds, "joined_count", n)
		}
	} else {
		logger.Info("started gossip relay (bootstrap mode)", "node", instanceID)
	}
	return g, nil
}

// Publish implements Relay. Only members gossip considers alive are sent
// to, and it returns an error when one of them could not be reached or
// ctx ended first.
func (g *GossipRelay) Publish(ctx context.Context, msg Message) error {
	if g.closed.Load() {
		return domain.ErrRelayUnavailable.WithDetails("relay closed")
	}
	if err := ctx.Err(); err != nil {
		return domain.ErrRelayUnavailable.WithCause(err).WithDetails("publish " + msg.DocumentID)
	}
	b := msg.Encode()
	var eg errgroup.Group
	for _, node := range g.ml.Members() {
		if node.Name == g.name || node.State != memberlist.StateAlive {
			continue
		}
		if msg.Target != "" && node.Name != msg.Target {
			continue
		}
		eg.Go(func() error {
			if err := g.ml.SendReliable(node, b); err != nil {
				return fmt.Errorf("%s: %w", node.Name, err)
			}
			return nil
		})
	}

	// SendReliable is bounded by memberlist's TCP timeout, not by ctx
	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return domain.ErrRelayUnavailable.WithCause(err).WithDetails("publish " + msg.DocumentID)
		}
		return nil
	case <-ctx.Done():
		return domain.ErrRelayUnavailable.WithCause(ctx.Err()).WithDetails("publish " + msg.DocumentID)
	}
}

// Subscribe implements Relay.
func (g *GossipRelay) Subscribe(_ context.Context, documentID string, h Handler) error {
	g.subs.add(documentID, h)
	return nil
}

// Unsubscribe implements Relay.
func (g *GossipRelay) Unsubscribe(_ context.Context, documentID string) error {
	g.subs.remove(documentID)
	return nil
}

// OnReconnect implements Relay. A member joining counts as a reconnect: it
// may have missed everything published so far.
func (g *GossipRelay) OnReconnect(fn func()) {
	g.hooks.add(fn)
}

// Available implements Relay.
func (g *GossipRelay) Available() bool {
	return !g.closed.Load()
}

// Members returns the names of the current members.
func (g *GossipRelay) Members() []string {
	nodes := g.ml.Members()
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

// Addr returns the bound gossip address.
func (g *GossipRelay) Addr() string {
	n := g.ml.LocalNode()
	return fmt.Sprintf("%s:%d", n.Addr, n.Port)
}

// Close leaves the cluster and shuts memberlist down.
func (g *GossipRelay) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := g.ml.Leave(0); err != nil {
		g.logger.Warn("failed to leave gossip cluster", "error", err)
	}
	if err := g.ml.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	return nil
}

// messageDelegate implements memberlist.Delegate.
type messageDelegate struct {
	relay *GossipRelay
}

func (d *messageDelegate) NodeMeta(limit int) []byte { return nil }

// NotifyMsg is called for every user message. DecodeMessage copies what it
// keeps, so the buffer may be reused afterwards.
func (d *messageDelegate) NotifyMsg(b []byte) {
	d.relay.subs.dispatchRaw(b)
}

func (d *messageDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *messageDelegate) LocalState(join bool) []byte               { return nil }
func (d *messageDelegate) MergeRemoteState(buf []byte, join bool)     {}

// memberEvents implements memberlist.EventDelegate.
type memberEvents struct {
	relay *GossipRelay
}

func (e *memberEvents) NotifyJoin(node *memberlist.Node) {
	if node.Name == e.relay.name {
		return
	}
	e.relay.logger.Info("gossip member joined", "node", node.Name, "addr", node.Address())
	e.relay.hooks.fire()
}

func (e *memberEvents) NotifyLeave(node *memberlist.Node) {
	e.relay.logger.Info("gossip member left", "node", node.Name)
}

func (e *memberEvents) NotifyUpdate(node *memberlist.Node) {
	e.relay.logger.Debug("gossip member updated", "node", node.Name)
}

// slogWriter adapts slog.Logger to io.Writer for memberlist.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Debug(string(p))
	return len(p), nil
}
