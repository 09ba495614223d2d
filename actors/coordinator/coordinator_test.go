package coordinator

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/kaaas/schedoscope/config"
	"github.com/kaaas/schedoscope/def"
	"github.com/kaaas/schedoscope/executor/fake"
	"github.com/kaaas/schedoscope/schema/mem"
	"github.com/kaaas/schedoscope/scheduler"
)

// sink is a test Outbox that records every message it's handed.
type sink struct {
	ch chan interface{}
}

func newSink() *sink { return &sink{ch: make(chan interface{}, 16)} }

func (s *sink) Deliver(msg interface{}) { s.ch <- msg }

func (s *sink) take() interface{} {
	select {
	case m := <-s.ch:
		return m
	case <-time.After(2 * time.Second):
		return nil
	}
}

type statusSink chan StatusReply

func (s statusSink) Deliver(msg interface{}) {
	if sr, ok := msg.(StatusReply); ok {
		s <- sr
	}
}

func statusOf(c *Coordinator) string {
	ch := make(chan StatusReply, 1)
	c.Deliver(GetStatus{ReplyTo: statusSink(ch)})
	select {
	case sr := <-ch:
		return sr.State
	case <-time.After(2 * time.Second):
		return "timeout"
	}
}

// waitPending polls until the fake runner has at least one submission
// queued for view, since Submit happens on the coordinator's own
// goroutine asynchronously with respect to the test's Deliver calls.
func waitPending(r *fake.Runner, view def.ViewID) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Pending(view) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// stubManager satisfies coordinator.Manager for tests that only need
// Materialize forwarded to pre-registered dependency sinks; Broadcast is
// a no-op.
type stubManager struct {
	coords map[def.ViewID]Outbox
}

func newStubManager() *stubManager { return &stubManager{coords: map[def.ViewID]Outbox{}} }

func (m *stubManager) CoordinatorFor(ctx context.Context, view *def.View) Outbox {
	if c, ok := m.coords[view.ID]; ok {
		return c
	}
	panic("unregistered dependency view in test: " + string(view.ID))
}

func (m *stubManager) Broadcast(msg NewDataAvailable) {}

func testConfig() config.Config {
	return config.Config{
		MaxRetries:          5,
		DependencyTimeout:   time.Second,
		FileActionTimeout:   time.Second,
		SchemaActionTimeout: time.Second,
		UserIdentity:        "test",
	}
}

// fakeScheduler fires callbacks immediately instead of waiting out the
// real exponential backoff, so retry-heavy scenarios run in milliseconds.
// The requested delays are recorded so a test can still assert on them.
type fakeScheduler struct {
	delays []time.Duration
}

func (s *fakeScheduler) After(d time.Duration, f func()) scheduler.Cancellable {
	s.delays = append(s.delays, d)
	go f()
	return cancelFunc(func() {})
}

type cancelFunc func()

func (c cancelFunc) Cancel() { c() }

func newTestCoordinator(view *def.View, mgr Manager, action *fake.Runner, svc *mem.Service, sched *fakeScheduler) *Coordinator {
	c := New(view, Deps{
		Manager:   mgr,
		Action:    action,
		FS:        action,
		Schema:    svc,
		Config:    testConfig(),
		Scheduler: sched,
	})
	c.Start()
	return c
}

func TestNoOpViewWithExistingMarker(t *testing.T) {
	Convey("S1: NoOp view with existing marker", t, func() {
		view := &def.View{ID: "A", Transformation: def.NoOpTransformation{}, FullPath: "/warehouse/a"}
		action := fake.New()
		action.SetExists("/warehouse/a/_SUCCESS", true)
		svc := mem.New()

		c := newTestCoordinator(view, newStubManager(), action, svc, &fakeScheduler{})
		s := newSink()
		c.Deliver(Materialize{ReplyTo: s})

		reply := s.take()
		vm, ok := reply.(ViewMaterialized)
		So(ok, ShouldBeTrue)
		So(vm.Incomplete, ShouldBeFalse)
		So(vm.WithErrors, ShouldBeFalse)
		So(vm.Timestamp, ShouldBeGreaterThan, uint64(0))

		Convey("a second Materialize answers with the same timestamp", func() {
			s2 := newSink()
			c.Deliver(Materialize{ReplyTo: s2})
			reply2 := s2.take()
			vm2, ok := reply2.(ViewMaterialized)
			So(ok, ShouldBeTrue)
			So(vm2.Timestamp, ShouldEqual, vm.Timestamp)
		})
	})
}

func TestNoOpViewWithoutMarker(t *testing.T) {
	Convey("S2: NoOp view without marker", t, func() {
		view := &def.View{ID: "A", Transformation: def.NoOpTransformation{}, FullPath: "/warehouse/a"}
		action := fake.New()
		svc := mem.New()

		c := newTestCoordinator(view, newStubManager(), action, svc, &fakeScheduler{})
		s := newSink()
		c.Deliver(Materialize{ReplyTo: s})

		reply := s.take()
		_, ok := reply.(NoDataAvailable)
		So(ok, ShouldBeTrue)
		So(statusOf(c), ShouldEqual, "Initial")
	})
}

func TestLeafRetriesThenSucceeds(t *testing.T) {
	Convey("S3: leaf transformation with two retries then success", t, func() {
		view := &def.View{
			ID:             "B",
			Transformation: def.FaultyTransformation{FailuresBeforeSuccess: 2},
			FullPath:       "/warehouse/b",
		}
		action := fake.New()
		svc := mem.New()
		sched := &fakeScheduler{}

		c := newTestCoordinator(view, newStubManager(), action, svc, sched)
		s := newSink()
		c.Deliver(Materialize{ReplyTo: s})

		waitPending(action, view.ID)
		action.Resolve(view.ID, fakeErr)
		waitPending(action, view.ID)
		action.Resolve(view.ID, fakeErr)
		waitPending(action, view.ID)
		action.Resolve(view.ID, nil)

		reply := s.take()
		vm, ok := reply.(ViewMaterialized)
		So(ok, ShouldBeTrue)
		So(vm.View, ShouldEqual, def.ViewID("B"))
		So(vm.WithErrors, ShouldBeFalse)

		So(svc.PartitionCount(view.ID), ShouldEqual, 3)
		So(sched.delays, ShouldResemble, []time.Duration{2 * time.Second, 4 * time.Second})
	})
}

var fakeErr = &actionErr{}

type actionErr struct{}

func (*actionErr) Error() string { return "fake action failure" }

func TestTwoDependenciesFreshnessWins(t *testing.T) {
	Convey("S4: two dependencies, freshness wins", t, func() {
		depD := &def.View{ID: "D", Transformation: def.NoOpTransformation{}}
		depE := &def.View{ID: "E", Transformation: def.NoOpTransformation{}}
		view := &def.View{
			ID:             "C",
			Transformation: def.ComputeTransformation{Driver: "sql"},
			FullPath:       "/warehouse/c",
			Dependencies:   []*def.View{depD, depE},
		}

		action := fake.New()
		svc := mem.New()
		svc.SetTimestamp(view.ID, 300)
		svc.SetVersion(view.ID, view.VersionDigest)

		mgr := newStubManager()
		mgr.coords[depD.ID] = newSink()
		mgr.coords[depE.ID] = newSink()
		c := newTestCoordinator(view, mgr, action, svc, &fakeScheduler{})

		s := newSink()
		c.Deliver(Materialize{ReplyTo: s})

		c.Deliver(ViewMaterialized{View: "D", Incomplete: false, Timestamp: 100, WithErrors: false})
		c.Deliver(ViewMaterialized{View: "E", Incomplete: false, Timestamp: 200, WithErrors: false})

		reply := s.take()
		vm, ok := reply.(ViewMaterialized)
		So(ok, ShouldBeTrue)
		So(vm.Timestamp, ShouldEqual, uint64(300))
		So(action.Touched(), ShouldBeEmpty)
	})
}

func TestTwoDependenciesRetransform(t *testing.T) {
	Convey("S5: two dependencies, retransform", t, func() {
		depD := &def.View{ID: "D", Transformation: def.NoOpTransformation{}}
		depE := &def.View{ID: "E", Transformation: def.NoOpTransformation{}}
		view := &def.View{
			ID:             "C",
			Transformation: def.ComputeTransformation{Driver: "sql"},
			FullPath:       "/warehouse/c",
			Dependencies:   []*def.View{depD, depE},
		}

		action := fake.New()
		svc := mem.New()
		svc.SetTimestamp(view.ID, 150)
		svc.SetVersion(view.ID, view.VersionDigest)

		mgr := newStubManager()
		mgr.coords[depD.ID] = newSink()
		mgr.coords[depE.ID] = newSink()
		c := newTestCoordinator(view, mgr, action, svc, &fakeScheduler{})

		s := newSink()
		c.Deliver(Materialize{ReplyTo: s})

		c.Deliver(ViewMaterialized{View: "D", Incomplete: false, Timestamp: 100, WithErrors: false})
		c.Deliver(ViewMaterialized{View: "E", Incomplete: false, Timestamp: 200, WithErrors: false})

		waitPending(action, view.ID)
		action.Resolve(view.ID, nil)

		reply := s.take()
		vm, ok := reply.(ViewMaterialized)
		So(ok, ShouldBeTrue)
		So(vm.Timestamp, ShouldBeGreaterThan, uint64(200))
	})
}

func TestOneFailedOneNoData(t *testing.T) {
	Convey("S6: one dep fails, one has no data", t, func() {
		depD := &def.View{ID: "D", Transformation: def.NoOpTransformation{}}
		depE := &def.View{ID: "E", Transformation: def.NoOpTransformation{}}
		view := &def.View{
			ID:             "C",
			Transformation: def.ComputeTransformation{Driver: "sql"},
			FullPath:       "/warehouse/c",
			Dependencies:   []*def.View{depD, depE},
		}

		action := fake.New()
		svc := mem.New()

		mgr := newStubManager()
		mgr.coords[depD.ID] = newSink()
		mgr.coords[depE.ID] = newSink()
		c := newTestCoordinator(view, mgr, action, svc, &fakeScheduler{})

		s := newSink()
		c.Deliver(Materialize{ReplyTo: s})

		c.Deliver(Failed{View: "D"})
		c.Deliver(NoDataAvailable{View: "E"})

		reply := s.take()
		_, ok := reply.(NoDataAvailable)
		So(ok, ShouldBeTrue)
		So(statusOf(c), ShouldEqual, "Initial")
	})
}

func TestNewDataAvailableTriggersReload(t *testing.T) {
	Convey("S7: NewDataAvailable triggers reload", t, func() {
		depG := &def.View{ID: "G", Transformation: def.NoOpTransformation{}}
		view := &def.View{
			ID:             "F",
			Transformation: def.ComputeTransformation{Driver: "sql"},
			FullPath:       "/warehouse/f",
			Dependencies:   []*def.View{depG},
		}

		action := fake.New()
		svc := mem.New()

		mgr := newStubManager()
		mgr.coords[depG.ID] = newSink()
		c := newTestCoordinator(view, mgr, action, svc, &fakeScheduler{})

		s := newSink()
		c.Deliver(Materialize{ReplyTo: s})
		c.Deliver(ViewMaterialized{View: "G", Incomplete: false, Timestamp: 10, WithErrors: false})

		waitPending(action, view.ID)
		action.Resolve(view.ID, nil)
		s.take() // drain the round's terminal reply

		c.Deliver(NewDataAvailable{View: "G"})

		waitPending(action, view.ID)
		action.Resolve(view.ID, nil)

		So(statusOf(c), ShouldEqual, "Materialized")
		So(action.Deleted(), ShouldContain, "/warehouse/f/_SUCCESS")
	})
}
