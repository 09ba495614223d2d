/*
	Package manager implements the ViewManager described in spec §4.2: a
	registry that lazily creates and addresses ViewCoordinators by view
	identity, and fans NewDataAvailable out to all of them.
*/
package manager

import (
	"context"
	"sync"

	"github.com/inconshreveable/log15"
	"golang.org/x/sync/errgroup"

	"github.com/kaaas/schedoscope/actors/coordinator"
	"github.com/kaaas/schedoscope/config"
	"github.com/kaaas/schedoscope/def"
	"github.com/kaaas/schedoscope/executor"
	"github.com/kaaas/schedoscope/schema"
	"github.com/kaaas/schedoscope/scheduler"
	"github.com/kaaas/schedoscope/watch"
)

/*
	Manager is the registry. Its zero value is not usable; construct one
	with New, which wires the collaborators every coordinator it creates
	will need.

	The registry itself holds no materialization state -- it only ever
	hands out or creates *coordinator.Coordinator values and remembers
	which view identity maps to which.
*/
type Manager struct {
	mu   sync.Mutex
	byID map[def.ViewID]*coordinator.Coordinator

	action    executor.Runner
	fs        executor.FSChecker
	schema    schema.Service
	config    config.Config
	scheduler scheduler.Scheduler
	log       log15.Logger

	// watcher is the filesystem watch bridge (spec §4.2): the manager
	// owns it and tells it about each view's fullPath the first time a
	// coordinator is created for that view, in CoordinatorFor. It is nil
	// if the underlying fsnotify watch could not be started (e.g. the
	// platform's inotify instance limit is exhausted) -- the manager
	// still works, it just never observes external filesystem changes.
	watcher *watch.Watcher
}

var _ coordinator.Manager = (*Manager)(nil)

func New(action executor.Runner, fs executor.FSChecker, svc schema.Service, cfg config.Config, sched scheduler.Scheduler, log log15.Logger) *Manager {
	if log == nil {
		log = log15.New()
	}
	if sched == nil {
		sched = scheduler.Real{}
	}
	m := &Manager{
		byID:      make(map[def.ViewID]*coordinator.Coordinator),
		action:    action,
		fs:        fs,
		schema:    svc,
		config:    cfg,
		scheduler: sched,
		log:       log,
	}
	w, err := watch.New(m, log)
	if err != nil {
		log.Warn("filesystem watch bridge unavailable, external NewDataAvailable notifications will not fire", "err", err)
	} else {
		m.watcher = w
	}
	return m
}

// CoordinatorFor returns the running Coordinator for view, creating and
// starting it on first reference. Per spec §3's lifecycle note, once
// created a coordinator persists for the manager's lifetime; there is no
// eviction. The lookup is bounded by ctx (coordinators pass a
// DependencyTimeout context; this package's own callers pass
// context.Background()) even though the lookup itself -- a mutex-guarded map
// access -- is expected to return in microseconds; a breach is logged
// rather than aborted, since there is no partial result to fall back to.
func (m *Manager) CoordinatorFor(ctx context.Context, view *def.View) coordinator.Outbox {
	done := make(chan coordinator.Outbox, 1)
	go func() { done <- m.coordinatorFor(view) }()

	select {
	case c := <-done:
		return c
	case <-ctx.Done():
		m.log.Warn("dependency lookup exceeded its timeout", "view", view.ID)
		return <-done
	}
}

func (m *Manager) coordinatorFor(view *def.View) coordinator.Outbox {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.byID[view.ID]; ok {
		return c
	}

	// Clone so the coordinator's state is never aliased to a View the
	// caller (or the view DSL that built the graph) might go on to
	// mutate after handing it off.
	owned := view.Clone()

	c := coordinator.New(owned, coordinator.Deps{
		Manager:   m,
		Action:    m.action,
		FS:        m.fs,
		Schema:    m.schema,
		Config:    m.config,
		Scheduler: m.scheduler,
		Log:       m.log,
	})
	c.Start()
	m.byID[owned.ID] = c

	if m.watcher != nil {
		if err := m.watcher.Watch(owned); err != nil {
			m.log.Warn("failed to watch view directory", "view", owned.ID, "err", err)
		}
	}
	return c
}

// Run starts the manager's filesystem watch bridge and blocks until ctx
// is done. Callers that don't need external filesystem notifications
// (most tests) can simply never call it; CoordinatorFor and Broadcast
// work regardless.
func (m *Manager) Run(ctx context.Context) {
	if m.watcher != nil {
		m.watcher.Run(ctx)
	}
}

// Close releases the filesystem watch bridge's resources.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// Materialize is a convenience front door equivalent to
// CoordinatorFor(view).Deliver(Materialize{ReplyTo: to}), matching how a
// caller outside this package is expected to kick off a round.
func (m *Manager) Materialize(view *def.View, to coordinator.Outbox) {
	m.CoordinatorFor(context.Background(), view).Deliver(coordinator.Materialize{ReplyTo: to})
}

/*
	Broadcast delivers msg to every coordinator currently registered,
	concurrently. Each coordinator decides for itself, per spec §5,
	whether msg.View was actually one of its dependencies -- Broadcast
	does not filter, it only fans out.

	Using errgroup here (rather than a bare sync.WaitGroup, as the
	original foreman's catalog-observer loop does with plain channels) is
	not about error handling -- Deliver on a coordinator can never itself
	return an error, so every goroutine returns nil -- but it's the idiom
	this module's dependency set already commits to for every other
	concurrent fan-out, so recursing back to a WaitGroup here would be
	the odd one out.
*/
func (m *Manager) Broadcast(msg coordinator.NewDataAvailable) {
	m.mu.Lock()
	targets := make([]*coordinator.Coordinator, 0, len(m.byID))
	for _, c := range m.byID {
		targets = append(targets, c)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, c := range targets {
		c := c
		g.Go(func() error {
			c.Deliver(msg)
			return nil
		})
	}
	_ = g.Wait()
}

// Status returns the StatusReply for view's coordinator, blocking until
// it answers. Intended for diagnostics and tests, not the hot path.
func (m *Manager) Status(view *def.View) coordinator.StatusReply {
	reply := make(chan coordinator.StatusReply, 1)
	m.CoordinatorFor(context.Background(), view).Deliver(coordinator.GetStatus{ReplyTo: replySink(reply)})
	return <-reply
}

type replySink chan coordinator.StatusReply

func (r replySink) Deliver(msg interface{}) {
	if sr, ok := msg.(coordinator.StatusReply); ok {
		r <- sr
	}
}
