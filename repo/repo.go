// Package repo is the Synchronizer's public façade: a Repo owns the model,
// the pure reducer, and the command executor, and exposes per-document
// Handles to callers. It mirrors the teacher's consumer.Service shape --
// a thin constructor wiring config + adapters into a running component,
// with the imperative detail kept in the layers underneath (syncer/exec).
package repo

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"go.gazette.dev/sync/adapter"
	"go.gazette.dev/sync/channel"
	"go.gazette.dev/sync/crdt"
	"go.gazette.dev/sync/ephemeral"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/internal/config"
	"go.gazette.dev/sync/internal/logging"
	"go.gazette.dev/sync/internal/metrics"
	"go.gazette.dev/sync/outbound"
	"go.gazette.dev/sync/rules"
	"go.gazette.dev/sync/sched"
	"go.gazette.dev/sync/syncer"
	"go.gazette.dev/sync/syncer/exec"
	"go.gazette.dev/sync/wire"
)

// ErrClosed is returned by Repo methods invoked after Disconnect.
var ErrClosed = errors.New("repo: closed")

// Config configures a Repo. NewDoc is required; every other field falls
// back to a usable default.
type Config struct {
	Identity syncer.Identity
	Adapters []adapter.Adapter
	Rules    *rules.Rules
	Config   config.Config
	// Metrics is the registry Repo-owned collectors are registered against.
	// Nil uses a private registry, so a Repo never panics from double
	// registration when a process runs more than one.
	Metrics prometheus.Registerer
	NewDoc  func(ids.DocID) crdt.Doc
}

// Repo is the running Synchronizer: one Model, one Program, one Executor,
// wired to every configured Adapter, with a background heartbeat loop.
type Repo struct {
	mu      sync.Mutex
	exec    *exec.Executor
	cfg     Config
	metrics *metrics.Metrics
	handles map[ids.DocID]*Handle

	cancel context.CancelFunc
	closed bool
}

// New constructs and starts a Repo: every Adapter is initialized and
// started, and a heartbeat goroutine begins reaping idle channels per
// cfg.Config.ChannelIdleTimeout.
func New(cfg Config) (*Repo, error) {
	if cfg.NewDoc == nil {
		return nil, errors.New("repo: Config.NewDoc is required")
	}
	if cfg.Rules == nil {
		cfg.Rules = rules.Default()
	}
	if cfg.Config == (config.Config{}) {
		cfg.Config = config.Default()
	}
	logging.SetLevel(cfg.Config.LogLevel)

	var registerer = cfg.Metrics
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	var model = syncer.NewModel(cfg.Identity, cfg.NewDoc)
	var program = syncer.NewProgram(cfg.Rules, cfg.Config.ChannelIdleTimeout)
	var directory = adapter.NewDirectory()
	var ephemeralStore = ephemeral.NewStore(cfg.Config.EphemeralTTL)
	var m = metrics.New(registerer)
	var batcher = outbound.NewBatcher(directory, cfg.Config.OutboundQueueCap).WithMetrics(m)

	var r = &Repo{
		cfg:     cfg,
		metrics: m,
		handles: make(map[ids.DocID]*Handle),
	}
	r.exec = exec.New(model, program, directory, ephemeralStore, batcher, r).WithMetrics(m)

	for _, a := range cfg.Adapters {
		directory.RegisterAdapter(a)
		if err := a.Initialize(r.hooksFor(a, directory)); err != nil {
			return nil, errors.WithMessagef(err, "initialize adapter %s", a.Type())
		}
	}

	var ctx context.Context
	ctx, r.cancel = context.WithCancel(context.Background())

	// Adapters are started concurrently; the first one to fail cancels the
	// group's derived context so its siblings abandon their own Start calls
	// instead of running to completion pointlessly.
	var g, gctx = errgroup.WithContext(ctx)
	for _, a := range cfg.Adapters {
		var a = a
		g.Go(func() error { return errors.WithMessagef(a.Start(gctx), "start adapter %s", a.Type()) })
	}
	if err := g.Wait(); err != nil {
		r.cancel()
		return nil, err
	}

	go r.exec.Scheduler.Run(ctx)
	if cfg.Config.HeartbeatInterval > 0 {
		go r.heartbeatLoop(ctx, cfg.Config.HeartbeatInterval)
	}
	return r, nil
}

func (r *Repo) hooksFor(a adapter.Adapter, dir *adapter.Directory) adapter.Hooks {
	return adapter.Hooks{
		ChannelConnected: func(kind channel.Kind, adapterType string, send channel.SendFunc) *channel.Channel {
			var ch = channel.New(dir.NextChannelID(), adapterType, kind)
			if err := ch.Connect(send); err != nil {
				logging.WithFields(log.Fields{"adapterType": adapterType, "err": err}).Warn("repo: channel connect failed")
				return ch
			}
			dir.Add(ch, a)
			r.exec.ObserveChannelState(adapterType, ch.State())
			r.exec.Dispatch(syncer.PeerArrived{Channel: ch})
			return ch
		},
		Receive: func(fromChannelID ids.ChannelID, msg wire.Message) {
			r.metrics.MessagesReceived.WithLabelValues(a.Type(), msg.Type.String()).Inc()
			r.exec.Dispatch(syncer.ChannelReceive{FromChannelID: fromChannelID, Message: msg})
		},
		ChannelRemoved: func(id ids.ChannelID) {
			r.exec.Dispatch(syncer.PeerDeparted{ChannelID: id})
		},
	}
}

func (r *Repo) heartbeatLoop(ctx context.Context, interval time.Duration) {
	var t = time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.exec.Dispatch(syncer.HeartbeatTick{Now: now})
		}
	}
}

// Get returns the Handle for docID, creating and announcing the document
// if this is the first time it has been requested locally.
func (r *Repo) Get(docID ids.DocID) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[docID]; ok {
		return h
	}
	var h = &Handle{docID: docID, repo: r}
	r.handles[docID] = h
	r.exec.Dispatch(syncer.AddDocument{DocID: docID})
	return h
}

// Delete removes docID from the local Model and stops tracking its Handle.
// It does not notify peers; they keep whatever they last synced.
func (r *Repo) Delete(docID ids.DocID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	delete(r.handles, docID)
	r.exec.Dispatch(syncer.RemoveDocument{DocID: docID})
	return nil
}

// Disconnect stops every Adapter and the scheduler, releasing all
// resources. Disconnect is idempotent.
func (r *Repo) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.exec.Scheduler.Stop()
	r.cancel()

	var firstErr error
	for _, a := range r.cfg.Adapters {
		if err := a.Stop(); err != nil && firstErr == nil {
			firstErr = errors.WithMessagef(err, "stop adapter %s", a.Type())
		}
	}
	return firstErr
}

// ReadyStateChanged implements exec.Events: it fans the recomputed
// ReadyState list out to every registered per-Handle callback.
func (r *Repo) ReadyStateChanged(docID ids.DocID, states []syncer.ReadyState) {
	r.mu.Lock()
	var h = r.handles[docID]
	r.mu.Unlock()
	if h != nil {
		h.notifyReady(states)
	}
}

// EphemeralChanged implements exec.Events.
func (r *Repo) EphemeralChanged(docID ids.DocID, namespace string, peerID ids.PeerID, source syncer.ChangeSource) {
	r.mu.Lock()
	var h = r.handles[docID]
	r.mu.Unlock()
	if h != nil {
		h.notifyEphemeral(namespace, peerID, source)
	}
}

// Dispatch exposes the underlying executor's Dispatch, letting callers
// inject Msgs (for example synthetic ones in tests).
func (r *Repo) Dispatch(msg syncer.Msg) { r.exec.Dispatch(msg) }

// Scheduler exposes the Repo's scheduler.
func (r *Repo) Scheduler() *sched.Scheduler { return r.exec.Scheduler }
