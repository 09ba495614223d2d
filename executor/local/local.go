/*
	Package local is the reference ActionRunner driver: spec §1 puts the
	real transformation drivers (SQL/filesystem/morphline executors) out
	of scope, so this package stands in for "some driver" against a plain
	local filesystem, just well-behaved enough to exercise the scheduler's
	retry and reporting paths in tests and in the bootstrap command.
*/
package local

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/inconshreveable/log15"

	"github.com/kaaas/schedoscope/def"
	"github.com/kaaas/schedoscope/executor"
)

// successMarkerName is the sentinel file spec §6 describes.
const successMarkerName = "_SUCCESS"

// Runner executes Transformation values against the local filesystem.
// It is safe for concurrent use by multiple coordinators.
type Runner struct {
	log log15.Logger

	mu       sync.Mutex
	attempts map[def.ViewID]int // FaultyTransformation attempt counter, per view
}

var _ executor.Runner = (*Runner)(nil)
var _ executor.FSChecker = (*Runner)(nil)

func New(log log15.Logger) *Runner {
	if log == nil {
		log = log15.New()
	}
	return &Runner{
		log:      log,
		attempts: make(map[def.ViewID]int),
	}
}

func SuccessMarkerPath(fullPath string) string {
	return filepath.Join(fullPath, successMarkerName)
}

func (r *Runner) Submit(ctx context.Context, view *def.View, to executor.Receiver) {
	go func() {
		err := r.run(ctx, view)
		if err != nil {
			r.log.Debug("transformation failed", "view", view.ID, "kind", view.Transformation.Kind(), "err", err)
			to.Deliver(executor.ActionFailure{View: view.ID, Err: err})
			return
		}
		to.Deliver(executor.ActionSuccess{View: view.ID})
	}()
}

func (r *Runner) run(ctx context.Context, view *def.View) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch t := view.Transformation.(type) {
	case def.NoOpTransformation:
		// NoOp views never reach transform() in the coordinator, but a
		// driver that got handed one anyway has nothing to do.
		return nil
	case def.FilesystemTransformation:
		return r.runFilesystem(view, t)
	case def.ComputeTransformation:
		return r.runCompute(view, t)
	case def.FaultyTransformation:
		return r.runFaulty(view, t)
	default:
		return executor.ConfigError.New("no local driver for transformation kind %q", view.Transformation.Kind())
	}
}

func (r *Runner) runFilesystem(view *def.View, t def.FilesystemTransformation) error {
	if err := os.MkdirAll(view.FullPath, 0o755); err != nil {
		return executor.FileActionError.Wrap(err)
	}
	if t.SourcePath == "" {
		return nil
	}
	data, err := ioutil.ReadFile(t.SourcePath)
	if err != nil {
		return executor.FileActionError.Wrap(err)
	}
	dest := filepath.Join(view.FullPath, filepath.Base(t.SourcePath))
	if err := ioutil.WriteFile(dest, data, 0o644); err != nil {
		return executor.FileActionError.Wrap(err)
	}
	return nil
}

func (r *Runner) runCompute(view *def.View, t def.ComputeTransformation) error {
	if err := os.MkdirAll(view.FullPath, 0o755); err != nil {
		return executor.FileActionError.Wrap(err)
	}
	marker := filepath.Join(view.FullPath, ".data")
	content := fmt.Sprintf("driver=%s command=%s args=%v\n", t.Driver, t.Command, t.Args)
	if err := ioutil.WriteFile(marker, []byte(content), 0o644); err != nil {
		return executor.FileActionError.Wrap(err)
	}
	return nil
}

func (r *Runner) runFaulty(view *def.View, t def.FaultyTransformation) error {
	r.mu.Lock()
	n := r.attempts[view.ID]
	r.attempts[view.ID] = n + 1
	r.mu.Unlock()
	if n < t.FailuresBeforeSuccess {
		return executor.UnknownError.New("faulty transformation: attempt %d of %d configured failures", n+1, t.FailuresBeforeSuccess)
	}
	return r.runCompute(view, def.ComputeTransformation{Driver: "faulty"})
}

func (r *Runner) Touch(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return executor.FileActionError.Wrap(err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return executor.FileActionError.Wrap(err)
	}
	return f.Close()
}

func (r *Runner) Delete(ctx context.Context, path string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
		if os.IsNotExist(err) {
			err = nil
		}
	}
	if err != nil {
		return executor.FileActionError.Wrap(err)
	}
	return nil
}

func (r *Runner) Exists(ctx context.Context, userIdentity, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, executor.FileActionError.Wrap(err)
}
