// Package ferry is the cluster-coordination core for applications running
// on a LiteFS-replicated SQLite database. It decides whether the local node
// may write, guards the write path against replica and split-brain writes,
// forwards mutating HTTP requests from replicas to the primary, and serves
// role-aware health probes.
//
// Basic usage:
//
//	node, err := ferry.New(ferry.Settings{
//	    MountPath:       "/mnt/lfs",
//	    DataPath:        "/var/lib/litefs",
//	    DatabaseName:    "db.sqlite3",
//	    LeaderElection:  ferry.ElectionStatic,
//	    ProxyAddr:       ":20202",
//	    Enabled:         true,
//	    PrimaryHostname: "node1",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	mux.Handle("/litefs/", http.StripPrefix("/litefs", node.ProbeRouter()))
//	handler := node.Middleware()(appHandler)
package ferry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eleven-am/ferry/internal/adapters/election"
	"github.com/eleven-am/ferry/internal/adapters/events"
	"github.com/eleven-am/ferry/internal/adapters/litefsconf"
	"github.com/eleven-am/ferry/internal/adapters/metrics"
	"github.com/eleven-am/ferry/internal/adapters/mount"
	"github.com/eleven-am/ferry/internal/adapters/resolution"
	"github.com/eleven-am/ferry/internal/core"
	"github.com/eleven-am/ferry/internal/domain"
	"github.com/eleven-am/ferry/internal/forward"
	"github.com/eleven-am/ferry/internal/httpx"
	"github.com/eleven-am/ferry/internal/ports"
)

// Settings is the process-wide cluster configuration.
type Settings = domain.Settings

// ForwardingSettings configures write forwarding from replicas.
type ForwardingSettings = domain.ForwardingSettings

// ProxySettings configures the daemon's own HTTP proxy section.
type ProxySettings = domain.ProxySettings

// FailoverEvent is emitted on role transitions and blocked promotions.
type FailoverEvent = domain.FailoverEvent

// SplitBrainDetectedEvent is emitted when multiple leaders are observed.
type SplitBrainDetectedEvent = domain.SplitBrainDetectedEvent

// Role is the node's cluster role.
type Role = domain.Role

const (
	ElectionStatic = domain.ElectionStatic
	ElectionRaft   = domain.ElectionRaft

	RolePrimary = domain.RolePrimary
	RoleReplica = domain.RoleReplica
)

// Error predicates for callers that branch on guard rejections.
var (
	IsNotPrimary       = domain.IsNotPrimary
	IsSplitBrain       = domain.IsSplitBrain
	IsConfigError      = domain.IsConfigError
	IsMountUnavailable = domain.IsMountUnavailable
)

// ParseSettings builds settings from a generic map, rejecting unknown keys.
func ParseSettings(raw map[string]interface{}) (Settings, error) {
	return domain.ParseSettings(raw)
}

type options struct {
	logger        *slog.Logger
	electionPort  ports.LeaderElection
	raftPort      ports.RaftLeaderElection
	httpClient    ports.HTTPClient
	metrics       ports.Metrics
	markerTTL     time.Duration
	localHostname string
}

type Option func(*options)

// WithLogger sets the structured logger shared by all components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLeaderElection injects an election backend instead of the built-in
// static or raft adapter.
func WithLeaderElection(port ports.LeaderElection) Option {
	return func(o *options) {
		o.electionPort = port
		if raft, ok := port.(ports.RaftLeaderElection); ok {
			o.raftPort = raft
		}
	}
}

// WithHTTPClient injects the outbound client used for write forwarding.
func WithHTTPClient(client ports.HTTPClient) Option {
	return func(o *options) { o.httpClient = client }
}

// WithMetrics injects a metrics backend.
func WithMetrics(m ports.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPrometheus registers the built-in Prometheus metrics on reg.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *options) { o.metrics = metrics.NewPrometheus(reg) }
}

// WithMarkerCacheTTL enables TTL caching of marker observations. Zero
// keeps caching disabled.
func WithMarkerCacheTTL(ttl time.Duration) Option {
	return func(o *options) { o.markerTTL = ttl }
}

// WithLocalHostname overrides the hostname used for static election.
func WithLocalHostname(hostname string) Option {
	return func(o *options) { o.localHostname = hostname }
}

// Node wires the coordination core together: one instance per process,
// constructed at startup and shared by every request worker.
type Node struct {
	settings    Settings
	nodeID      string
	observer    *mount.Observer
	emitter     *events.Emitter
	resolver    *core.RoleResolver
	detector    *core.SplitBrainDetector
	coordinator *core.FailoverCoordinator
	guard       *core.WriteGuard
	engine      *forward.Engine
	probes      *httpx.Probes
	fencer      *resolution.MarkerFencer
	logger      *slog.Logger
	closers     []func() error
}

func New(settings Settings, opts ...Option) (*Node, error) {
	settings, err := domain.NewSettings(settings)
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	metricsPort := o.metrics
	if metricsPort == nil {
		metricsPort = ports.NoopMetrics{}
	}

	nodeID, err := election.HostnameNodeIDResolver{}.ResolveNodeID()
	if err != nil {
		return nil, err
	}

	node := &Node{
		settings: settings,
		nodeID:   nodeID,
		observer: mount.NewObserver(settings.MountPath, o.markerTTL, logger),
		emitter:  events.NewEmitter(logger),
		fencer:   resolution.NewMarkerFencer(settings.MountPath, logger),
		logger:   logger,
	}

	electionPort, raftPort, err := node.buildElection(&o)
	if err != nil {
		return nil, err
	}

	node.resolver = core.NewRoleResolver(electionPort, node.observer, logger)

	var detectorPort ports.SplitBrainDetector
	if raftPort != nil {
		node.detector = core.NewSplitBrainDetector(raftPort, nodeID, node.emitter, metricsPort, logger)
		detectorPort = node.detector
	}

	node.guard = core.NewWriteGuard(node.resolver, detectorPort, logger)

	node.coordinator = core.NewFailoverCoordinator(core.CoordinatorOptions{
		Election:   electionPort,
		Raft:       raftPort,
		Resolution: node.fencer,
		Emitter:    node.emitter,
		Metrics:    metricsPort,
		Drainer:    node.guard,
		Logger:     logger,
	})

	node.engine, err = forward.NewEngine(settings.Forwarding, node.resolver, o.httpClient, metricsPort, logger)
	if err != nil {
		return nil, err
	}

	node.probes = httpx.NewProbes(node.observer, node.coordinator, detectorPort, logger)

	return node, nil
}

func (n *Node) buildElection(o *options) (ports.LeaderElection, ports.RaftLeaderElection, error) {
	if o.electionPort != nil {
		return o.electionPort, o.raftPort, nil
	}

	switch n.settings.LeaderElection {
	case domain.ElectionStatic:
		local := o.localHostname
		if local == "" {
			hostname, err := os.Hostname()
			if err != nil {
				return nil, nil, fmt.Errorf("resolve local hostname: %w", err)
			}
			local = hostname
		}
		return election.NewStatic(n.settings.PrimaryHostname, local), nil, nil

	case domain.ElectionRaft:
		peers := map[string]string{n.nodeID: n.settings.SelfAddr}
		for _, addr := range n.settings.Peers {
			if addr == n.settings.SelfAddr {
				continue
			}
			peers[addr] = addr
		}
		raft, err := election.NewRaft(election.RaftOptions{
			NodeID:   n.nodeID,
			BindAddr: n.settings.SelfAddr,
			DataDir:  filepath.Join(n.settings.DataPath, "raft"),
			Peers:    peers,
			Logger:   n.logger,
		})
		if err != nil {
			return nil, nil, err
		}
		n.closers = append(n.closers, raft.Close)
		return raft, raft, nil
	}

	return nil, nil, domain.NewConfigError("leader_election", "unsupported mode: %q", n.settings.LeaderElection)
}

// Guard returns the write-path guard for the database layer.
func (n *Node) Guard() *core.WriteGuard {
	return n.guard
}

// Coordinator returns the failover coordinator for scheduler ticks and
// operator handoff.
func (n *Node) Coordinator() *core.FailoverCoordinator {
	return n.coordinator
}

// Resolver answers the primary/replica question.
func (n *Node) Resolver() *core.RoleResolver {
	return n.resolver
}

// Fencer exposes conflict resolution for operator tooling.
func (n *Node) Fencer() *resolution.MarkerFencer {
	return n.fencer
}

// Subscribe registers a handler for failover and split-brain events and
// returns its unsubscribe function.
func (n *Node) Subscribe(fn func(event interface{})) func() {
	return n.emitter.Subscribe(fn)
}

// Middleware returns the request pipeline: split-brain blocking first, then
// write forwarding.
func (n *Node) Middleware() func(http.Handler) http.Handler {
	var detector ports.SplitBrainDetector
	if n.detector != nil {
		detector = n.detector
	}
	return httpx.Chain(detector, n.engine, n.logger)
}

// ProbeRouter serves GET /liveness, /readiness, and /health.
func (n *Node) ProbeRouter() chi.Router {
	return n.probes.Router()
}

// Tick evaluates the failover transition table once.
func (n *Node) Tick() {
	n.coordinator.CoordinateTransition()
}

// Run ticks the coordinator on the given interval until ctx is cancelled.
func (n *Node) Run(ctx context.Context, tickInterval time.Duration) error {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				n.coordinator.CoordinateTransition()
			}
		}
	})
	return g.Wait()
}

// DaemonConfig renders the replication daemon's YAML configuration for
// these settings.
func (n *Node) DaemonConfig() ([]byte, error) {
	return litefsconf.Generate(n.settings)
}

// ParseDaemonConfig reads a daemon configuration document back into
// validated settings.
func ParseDaemonConfig(data []byte) (Settings, error) {
	return litefsconf.Parse(data)
}

// Close releases backend resources (the raft election node, when one was
// built).
func (n *Node) Close() error {
	var firstErr error
	for _, closer := range n.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
