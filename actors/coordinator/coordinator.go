/*
	Package coordinator implements the ViewCoordinator described in spec
	§4.1: one instance per view, owning that view's state machine,
	collecting dependency outcomes, triggering transformations, and
	handling retries.

	A Coordinator is a single-threaded cooperative entity (spec §5): at
	most one message is ever being handled at a time, and that's the only
	thing making the rest of this package's field accesses safe without a
	mutex -- all of them happen on the one goroutine started by Start.
*/
package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/inconshreveable/log15"

	"github.com/kaaas/schedoscope/config"
	"github.com/kaaas/schedoscope/def"
	"github.com/kaaas/schedoscope/executor"
	"github.com/kaaas/schedoscope/executor/local"
	"github.com/kaaas/schedoscope/metrics"
	"github.com/kaaas/schedoscope/schema"
	"github.com/kaaas/schedoscope/scheduler"
)

/*
	Manager is the slice of ViewManager a Coordinator needs: resolve a
	dependency's Coordinator (creating it lazily if this is the first
	reference), and fan a NewDataAvailable out to every coordinator so
	they can each decide for themselves whether it's relevant (spec §4.2).

	Declaring this here, rather than importing the manager package
	directly, is what lets manager import coordinator without a cycle --
	see spec §9's note on cyclic references.
*/
type Manager interface {
	CoordinatorFor(ctx context.Context, view *def.View) Outbox
	Broadcast(msg NewDataAvailable)
}

// Deps bundles a Coordinator's external collaborators.
type Deps struct {
	Manager   Manager
	Action    executor.Runner
	FS        executor.FSChecker
	Schema    schema.Service
	Config    config.Config
	Scheduler scheduler.Scheduler
	Log       log15.Logger
}

type Coordinator struct {
	view *def.View
	deps Deps
	log  log15.Logger

	inbox *mailbox

	// fsm state -- touched only from the loop goroutine.
	state      State
	retryCount int
	waiters    []Outbox

	pendingDeps               map[def.ViewID]struct{}
	depsFreshness             uint64
	lastTransformationTs      uint64
	oneDependencyReturnedData bool
	incomplete                bool
	withErrors                bool

	// pendingRetry is the outstanding backoff timer while in Retrying, if
	// any. transform cancels it before starting a fresh attempt so a
	// superseded retry timer can never fire a stale Retry into a round
	// that has already moved on.
	pendingRetry scheduler.Cancellable

	roundStart time.Time
}

var _ executor.Receiver = (*Coordinator)(nil)
var _ Outbox = (*Coordinator)(nil)

func New(view *def.View, deps Deps) *Coordinator {
	log := deps.Log
	if log == nil {
		log = log15.New()
	}
	return &Coordinator{
		view:  view,
		deps:  deps,
		log:   log.New("view", view.ID),
		inbox: newMailbox(),
		state: Initial,
	}
}

func (c *Coordinator) View() *def.View { return c.view }

// Start begins the coordinator's single consumer goroutine. Calling it
// more than once is a caller error (there is nothing graceful to do with
// two goroutines racing over unsynchronized FSM fields).
func (c *Coordinator) Start() {
	go c.loop()
}

func (c *Coordinator) loop() {
	for {
		msg := c.inbox.pop()
		c.handle(msg)
	}
}

// Deliver enqueues msg for processing on the coordinator's own goroutine.
// It never blocks the caller on that processing.
func (c *Coordinator) Deliver(msg interface{}) {
	c.inbox.push(msg)
}

func (c *Coordinator) handle(msg interface{}) {
	// GetStatus is answered the same way regardless of state, and never
	// changes state -- spec calls this out explicitly, so it's handled
	// once here instead of being repeated in every state's case list.
	if m, ok := msg.(GetStatus); ok {
		m.ReplyTo.Deliver(StatusReply{View: c.view.ID, State: c.state.String()})
		return
	}
	switch c.state {
	case Initial:
		c.handleInitial(msg)
	case Waiting:
		c.handleWaiting(msg)
	case Transforming:
		c.handleTransforming(msg)
	case Retrying:
		c.handleRetrying(msg)
	case Materialized:
		c.handleMaterialized(msg)
	case FailedState:
		c.handleFailed(msg)
	}
}

// ---- Initial ----

func (c *Coordinator) handleInitial(msg interface{}) {
	m, ok := msg.(Materialize)
	if !ok {
		// Invalidate/NewDataAvailable/late dependency answers have no
		// defined effect here; Initial has nothing memoized to drop and
		// nothing in flight to react to.
		return
	}
	c.beginRound()
	metrics.RoundsStarted.WithLabelValues(string(c.view.Format)).Inc()

	if _, isNoOp := c.view.Transformation.(def.NoOpTransformation); isNoOp {
		c.handleNoOpMaterialize(m)
		return
	}

	c.waiters = append(c.waiters, m.ReplyTo)
	if c.view.HasDependencies() {
		c.beginWaitingRound()
		return
	}
	c.transform(0)
}

func (c *Coordinator) handleNoOpMaterialize(m Materialize) {
	ctx, cancel := c.timeout(c.deps.Config.FileActionTimeout)
	defer cancel()
	exists, err := c.deps.FS.Exists(ctx, c.deps.Config.UserIdentity, local.SuccessMarkerPath(c.view.FullPath))
	if err != nil {
		c.log.Warn("success marker check failed, treating as absent", "err", err)
		exists = false
	}
	if !exists {
		m.ReplyTo.Deliver(NoDataAvailable{View: c.view.ID})
		c.finishRound("no_data")
		return
	}

	sctx, scancel := c.timeout(c.deps.Config.SchemaActionTimeout)
	defer scancel()
	if err := c.deps.Schema.AddPartition(sctx, c.view); err != nil {
		c.log.Warn("add partition failed for noop view", "err", err)
	}
	if err := c.deps.Schema.SetViewVersion(sctx, c.view); err != nil {
		c.log.Warn("set view version failed for noop view", "err", err)
	}
	ts := c.getOrLogTs(sctx)
	m.ReplyTo.Deliver(ViewMaterialized{View: c.view.ID, Incomplete: false, Timestamp: ts, WithErrors: false})
	c.finishRound("materialized")
	c.state = Materialized
}

func (c *Coordinator) beginWaitingRound() {
	c.pendingDeps = make(map[def.ViewID]struct{}, len(c.view.Dependencies))
	for _, dep := range c.view.Dependencies {
		c.pendingDeps[dep.ID] = struct{}{}
	}
	c.state = Waiting
	for _, dep := range c.view.Dependencies {
		ctx, cancel := c.timeout(c.deps.Config.DependencyTimeout)
		c.deps.Manager.CoordinatorFor(ctx, dep).Deliver(Materialize{ReplyTo: c})
		cancel()
	}
}

// ---- Waiting ----

func (c *Coordinator) handleWaiting(msg interface{}) {
	switch m := msg.(type) {
	case Materialize:
		c.waiters = append(c.waiters, m.ReplyTo)
	case ViewMaterialized:
		c.oneDependencyReturnedData = true
		c.incomplete = c.incomplete || m.Incomplete
		c.withErrors = c.withErrors || m.WithErrors
		if m.Timestamp > c.depsFreshness {
			c.depsFreshness = m.Timestamp
		}
		c.dependencyAnswered(m.View)
	case NoDataAvailable:
		c.incomplete = true
		c.dependencyAnswered(m.View)
	case Failed:
		c.incomplete = true
		c.withErrors = true
		c.dependencyAnswered(m.View)
	case NewDataAvailable:
		// Superseded by the in-flight round; spec §5 says this is only
		// meaningful in Materialized/Failed.
	}
}

func (c *Coordinator) dependencyAnswered(dep def.ViewID) {
	delete(c.pendingDeps, dep)
	if len(c.pendingDeps) > 0 {
		return
	}

	if !c.oneDependencyReturnedData {
		c.replyAllWaiters(NoDataAvailable{View: c.view.ID})
		c.finishRound("no_data")
		c.endRoundClearFlags()
		c.state = Initial
		return
	}

	ctx, cancel := c.timeout(c.deps.Config.SchemaActionTimeout)
	mismatch := c.hasVersionMismatch(ctx)
	if c.lastTransformationTs == 0 {
		// Nothing recorded in memory yet: pick up whatever transformation
		// timestamp the schema service last logged for this view.
		if ts, err := c.deps.Schema.GetTransformationTimestamp(ctx, c.view); err == nil {
			c.lastTransformationTs = ts
		} else {
			c.log.Warn("reading stored transformation timestamp failed", "err", err)
		}
	}
	cancel()

	if c.lastTransformationTs <= c.depsFreshness || mismatch {
		c.transform(0)
		return
	}

	c.replyAllWaiters(ViewMaterialized{
		View:       c.view.ID,
		Incomplete: c.incomplete,
		Timestamp:  c.lastTransformationTs,
		WithErrors: c.withErrors,
	})
	c.finishRound("materialized")
	c.endRoundKeepFlags()
	c.state = Materialized
}

func (c *Coordinator) hasVersionMismatch(ctx context.Context) bool {
	check, err := c.deps.Schema.CheckViewVersion(ctx, c.view)
	if err != nil {
		// Conservative worst case per spec §4.4/§7: a schema-service
		// timeout or error is treated as a mismatch, forcing retransform.
		return true
	}
	return check == schema.ViewVersionMismatch
}

// ---- Transforming / Retrying ----

// transform runs the preconditions from spec §4.1 state 3 synchronously
// (they're bounded by SchemaActionTimeout/FileActionTimeout, per spec §5
// suspension points) and then submits to the ActionRunner asynchronously.
// A precondition failure is treated the same as an ActionFailure: retry.
func (c *Coordinator) transform(r int) {
	if c.pendingRetry != nil {
		c.pendingRetry.Cancel()
		c.pendingRetry = nil
	}
	c.retryCount = r
	c.state = Transforming

	sctx, scancel := c.timeout(c.deps.Config.SchemaActionTimeout)
	err := c.deps.Schema.AddPartition(sctx, c.view)
	if err == nil {
		err = c.deps.Schema.SetViewVersion(sctx, c.view)
	}
	scancel()

	if err == nil && !c.view.Transformation.FilesystemOnly() {
		fctx, fcancel := c.timeout(c.deps.Config.FileActionTimeout)
		err = c.deps.Action.Delete(fctx, c.view.FullPath, true)
		fcancel()
	}

	if err != nil {
		c.log.Debug("transform precondition failed, retrying", "retry", r, "err", err)
		c.retry(r)
		return
	}

	metrics.TransformationsSubmitted.WithLabelValues(c.view.Transformation.Kind()).Inc()
	c.deps.Action.Submit(context.Background(), c.view, c)
}

func (c *Coordinator) retry(r int) {
	metrics.RetriesScheduled.Inc()
	c.retryCount = r
	c.state = Retrying
	delay := scheduler.Backoff(r + 1)
	c.pendingRetry = c.deps.Scheduler.After(delay, func() {
		c.Deliver(Retry{})
	})
}

func (c *Coordinator) handleTransforming(msg interface{}) {
	switch m := msg.(type) {
	case Materialize:
		c.waiters = append(c.waiters, m.ReplyTo)
	case executor.ActionSuccess:
		c.onActionSuccess()
	case executor.ActionFailure:
		c.log.Debug("action failed", "retry", c.retryCount, "err", m.Err)
		c.retry(c.retryCount)
	case NewDataAvailable:
		// ignored; the in-flight round supersedes it (spec §5).
	}
}

func (c *Coordinator) onActionSuccess() {
	fctx, fcancel := c.timeout(c.deps.Config.FileActionTimeout)
	if err := c.deps.Action.Touch(fctx, local.SuccessMarkerPath(c.view.FullPath)); err != nil {
		c.log.Warn("writing success marker failed", "err", err)
	}
	fcancel()

	sctx, scancel := c.timeout(c.deps.Config.SchemaActionTimeout)
	if err := c.deps.Schema.LogTransformationTimestamp(sctx, c.view); err != nil {
		c.log.Warn("logging transformation timestamp failed", "err", err)
	}
	ts, err := c.deps.Schema.GetTransformationTimestamp(sctx, c.view)
	scancel()
	if err != nil {
		c.log.Warn("reading back transformation timestamp failed", "err", err)
	}
	c.lastTransformationTs = ts

	c.replyAllWaiters(ViewMaterialized{
		View:       c.view.ID,
		Incomplete: c.incomplete,
		Timestamp:  c.lastTransformationTs,
		WithErrors: c.withErrors,
	})
	c.finishRound("materialized")
	c.endRoundKeepFlags()
	c.state = Materialized
}

func (c *Coordinator) handleRetrying(msg interface{}) {
	switch m := msg.(type) {
	case Materialize:
		c.waiters = append(c.waiters, m.ReplyTo)
	case Retry:
		c.onRetry()
	case NewDataAvailable:
		// ignored; the in-flight round supersedes it (spec §5).
	default:
		_ = m
	}
}

func (c *Coordinator) onRetry() {
	if c.retryCount <= c.deps.Config.MaxRetries {
		c.transform(c.retryCount + 1)
		return
	}
	c.replyAllWaiters(Failed{View: c.view.ID})
	c.finishRound("failed")
	c.endRoundKeepFlags()
	c.state = FailedState
}

// ---- Materialized ----

func (c *Coordinator) handleMaterialized(msg interface{}) {
	switch m := msg.(type) {
	case Materialize:
		m.ReplyTo.Deliver(ViewMaterialized{
			View:       c.view.ID,
			Incomplete: c.incomplete,
			Timestamp:  c.lastTransformationTs,
			WithErrors: c.withErrors,
		})
	case Invalidate:
		c.invalidate()
	case NewDataAvailable:
		if c.isDependency(m.View) {
			c.reload()
		}
	}
}

// ---- Failed ----

func (c *Coordinator) handleFailed(msg interface{}) {
	switch m := msg.(type) {
	case Materialize:
		m.ReplyTo.Deliver(Failed{View: c.view.ID})
	case Invalidate:
		c.invalidate()
	case NewDataAvailable:
		if c.isDependency(m.View) {
			c.reload()
		}
	default:
		c.replyFatal(msg)
	}
}

// replyFatal answers an unexpected message with FatalError, per spec
// §4.1 state 6. Only dependency-answer messages carry enough information
// to find a sender worth replying to; anything else (a stray timer or
// action-runner callback from a round this coordinator has since moved
// past) is logged and otherwise dropped.
func (c *Coordinator) replyFatal(msg interface{}) {
	var depID def.ViewID
	switch m := msg.(type) {
	case ViewMaterialized:
		depID = m.View
	case NoDataAvailable:
		depID = m.View
	case Failed:
		depID = m.View
	default:
		c.log.Warn("unexpected message while failed, dropping", "msg_type", msgType(msg))
		return
	}
	if outbox := c.dependencyOutbox(depID); outbox != nil {
		outbox.Deliver(FatalError{View: c.view.ID, Reason: "not recoverable"})
	}
}

func msgType(msg interface{}) string {
	switch msg.(type) {
	case executor.ActionSuccess:
		return "ActionSuccess"
	case executor.ActionFailure:
		return "ActionFailure"
	case Retry:
		return "Retry"
	default:
		return "unknown"
	}
}

func (c *Coordinator) invalidate() {
	c.lastTransformationTs = 0
	c.depsFreshness = 0
	c.incomplete = false
	c.withErrors = false
	c.state = Initial
}

// reload implements spec §4.1's reload(): transition back into a round,
// drop the success marker, and rerun the transformation -- charging it as
// retry 1 rather than retry 0. Preserved exactly as specified even though
// it slightly shrinks the retry budget available after a reload compared
// to a fresh Materialize.
func (c *Coordinator) reload() {
	c.state = Waiting
	fctx, fcancel := c.timeout(c.deps.Config.FileActionTimeout)
	if err := c.deps.Action.Delete(fctx, local.SuccessMarkerPath(c.view.FullPath), false); err != nil {
		c.log.Warn("deleting success marker before reload failed", "err", err)
	}
	fcancel()
	c.transform(1)
	c.deps.Manager.Broadcast(NewDataAvailable{View: c.view.ID})
}

// ---- shared helpers ----

func (c *Coordinator) beginRound() {
	c.oneDependencyReturnedData = false
	c.incomplete = false
	c.withErrors = false
	c.depsFreshness = 0
	c.pendingDeps = nil
	c.roundStart = time.Now()

	roundID := uuid.NewString()[:8]
	c.log = c.log.New("round", roundID)
}

// finishRound records the terminal outcome and round latency. outcome is
// one of "materialized", "no_data", "failed" per spec §8.
func (c *Coordinator) finishRound(outcome string) {
	metrics.Outcomes.WithLabelValues(outcome).Inc()
	if !c.roundStart.IsZero() {
		metrics.RoundLatency.Observe(time.Since(c.roundStart).Seconds())
	}
}

func (c *Coordinator) endRoundKeepFlags() {
	c.pendingDeps = nil
	c.oneDependencyReturnedData = false
	c.depsFreshness = 0
	c.waiters = nil
}

// endRoundClearFlags is used only on the "no dependency had data" path
// back to Initial: per spec §9 open question (b), incomplete/withErrors
// are meaningful there too but the current design drops them along with
// the rest of the round state instead of folding them into
// NoDataAvailable.
func (c *Coordinator) endRoundClearFlags() {
	c.endRoundKeepFlags()
	c.incomplete = false
	c.withErrors = false
}

func (c *Coordinator) replyAllWaiters(msg interface{}) {
	for _, w := range c.waiters {
		w.Deliver(msg)
	}
}

func (c *Coordinator) getOrLogTs(ctx context.Context) uint64 {
	if c.lastTransformationTs > 0 {
		return c.lastTransformationTs
	}
	if err := c.deps.Schema.LogTransformationTimestamp(ctx, c.view); err != nil {
		c.log.Warn("logging transformation timestamp failed", "err", err)
	}
	ts, err := c.deps.Schema.GetTransformationTimestamp(ctx, c.view)
	if err != nil {
		c.log.Warn("reading back transformation timestamp failed", "err", err)
	}
	c.lastTransformationTs = ts
	return ts
}

func (c *Coordinator) isDependency(id def.ViewID) bool {
	for _, d := range c.view.Dependencies {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (c *Coordinator) dependencyOutbox(id def.ViewID) Outbox {
	for _, d := range c.view.Dependencies {
		if d.ID == id {
			ctx, cancel := c.timeout(c.deps.Config.DependencyTimeout)
			defer cancel()
			return c.deps.Manager.CoordinatorFor(ctx, d)
		}
	}
	return nil
}

func (c *Coordinator) timeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
