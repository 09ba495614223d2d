/*
	Package fake is a test double for executor.Runner: it never actually
	runs anything.  Submissions are recorded and held until the test
	explicitly resolves them with Resolve, so tests can assert on
	intermediate coordinator state (e.g. "it's in Transforming now") before
	deciding whether the driver succeeded or failed.
*/
package fake

import (
	"context"
	"sync"

	"github.com/kaaas/schedoscope/def"
	"github.com/kaaas/schedoscope/executor"
)

type submission struct {
	view *def.View
	to   executor.Receiver
}

type Runner struct {
	mu sync.Mutex

	pending map[def.ViewID][]submission
	exists  map[string]bool // path -> whether a marker is present
	touched []string
	deleted []string

	SubmitCount int
}

var _ executor.Runner = (*Runner)(nil)
var _ executor.FSChecker = (*Runner)(nil)

func New() *Runner {
	return &Runner{
		pending: make(map[def.ViewID][]submission),
		exists:  make(map[string]bool),
	}
}

func (r *Runner) Submit(ctx context.Context, view *def.View, to executor.Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SubmitCount++
	r.pending[view.ID] = append(r.pending[view.ID], submission{view: view, to: to})
}

// Resolve answers the oldest unresolved submission for view with success
// or failure.  It panics if there is no pending submission, since that
// means the test's model of the coordinator's state has drifted.
func (r *Runner) Resolve(view def.ViewID, err error) {
	r.mu.Lock()
	subs := r.pending[view]
	if len(subs) == 0 {
		r.mu.Unlock()
		panic("fake.Runner: no pending submission for view " + string(view))
	}
	s := subs[0]
	r.pending[view] = subs[1:]
	r.mu.Unlock()

	if err != nil {
		s.to.Deliver(executor.ActionFailure{View: view, Err: err})
		return
	}
	s.to.Deliver(executor.ActionSuccess{View: view})
}

func (r *Runner) Pending(view def.ViewID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[view])
}

func (r *Runner) SetExists(path string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exists[path] = v
}

func (r *Runner) Touch(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, path)
	r.exists[path] = true
	return nil
}

func (r *Runner) Delete(ctx context.Context, path string, recursive bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, path)
	r.exists[path] = false
	return nil
}

func (r *Runner) Exists(ctx context.Context, userIdentity, path string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exists[path], nil
}

func (r *Runner) Touched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.touched...)
}

func (r *Runner) Deleted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}
