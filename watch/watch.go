/*
	Package watch is the supplementary bridge from real filesystem change
	events to the scheduler's message world, grounded in the kind of
	fsnotify-backed watcher the rest of the pack uses for incremental
	updates. It has nothing to do with a coordinator's own Materialize
	flow -- it exists only to let something external to this process
	(another job landing data under a view's fullPath) eventually produce
	a NewDataAvailable for the right view.
*/
package watch

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/inconshreveable/log15"

	"github.com/kaaas/schedoscope/actors/coordinator"
	"github.com/kaaas/schedoscope/def"
)

// Broadcaster is the slice of manager.Manager this package needs.
type Broadcaster interface {
	Broadcast(msg coordinator.NewDataAvailable)
}

// successMarkerName mirrors executor/local's sentinel; duplicated here
// rather than imported to avoid a watch -> executor/local dependency for
// one constant.
const successMarkerName = "_SUCCESS"

/*
	Watcher watches a fixed set of views' fullPath directories and calls
	Broadcaster.Broadcast(NewDataAvailable{view}) whenever a success
	marker is created or rewritten under one of them.

	It does not itself decide freshness or act on the event -- that's
	every coordinator's own job on receipt of NewDataAvailable (spec
	§4.1 states 5/6). This just gets the notification into the system at
	all for changes that didn't originate from this scheduler's own
	ActionRunner.Touch calls. It does not tell those apart from the
	markers this scheduler's own ActionRunner.Touch writes under a
	watched directory: both trigger a broadcast.
*/
type Watcher struct {
	fsw *fsnotify.Watcher
	log log15.Logger

	mu         sync.Mutex
	pathToView map[string]def.ViewID

	broadcaster Broadcaster
}

func New(broadcaster Broadcaster, log log15.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = log15.New()
	}
	return &Watcher{
		fsw:         fsw,
		log:         log,
		pathToView:  make(map[string]def.ViewID),
		broadcaster: broadcaster,
	}, nil
}

// Watch registers view's fullPath for monitoring. Safe to call before or
// after Run; the underlying fsnotify watch is added immediately.
func (w *Watcher) Watch(view *def.View) error {
	w.mu.Lock()
	w.pathToView[view.FullPath] = view.ID
	w.mu.Unlock()
	return w.fsw.Add(view.FullPath)
}

// Run processes filesystem events until ctx is done or Close is called.
// It is meant to run on its own goroutine for the lifetime of the
// process; it is not restartable once it returns.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("filesystem watch error", "err", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if filepath.Base(event.Name) != successMarkerName {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	dir := filepath.Dir(event.Name)
	w.mu.Lock()
	view, ok := w.pathToView[dir]
	w.mu.Unlock()
	if !ok {
		return
	}

	w.log.Debug("external success marker change detected", "view", view, "path", event.Name)
	w.broadcaster.Broadcast(coordinator.NewDataAvailable{View: view})
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}
