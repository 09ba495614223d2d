package manager

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/kaaas/schedoscope/actors/coordinator"
	"github.com/kaaas/schedoscope/config"
	"github.com/kaaas/schedoscope/def"
	"github.com/kaaas/schedoscope/executor/fake"
	"github.com/kaaas/schedoscope/schema/mem"
)

type sink struct{ ch chan interface{} }

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

func testConfig() config.Config {
	return config.Config{
		MaxRetries:          5,
		DependencyTimeout:   time.Second,
		FileActionTimeout:   time.Second,
		SchemaActionTimeout: time.Second,
		UserIdentity:        "test",
	}
}

func TestCoordinatorForIsStableAndLazy(t *testing.T) {
	Convey("CoordinatorFor returns the same coordinator for the same view identity", t, func() {
		action := fake.New()
		svc := mem.New()
		m := New(action, action, svc, testConfig(), nil, nil)

		view := &def.View{ID: "A", Transformation: def.NoOpTransformation{}, FullPath: "/warehouse/a"}

		first := m.CoordinatorFor(context.Background(), view)
		second := m.CoordinatorFor(context.Background(), view)
		So(first, ShouldEqual, second)

		Convey("and it answers a Materialize like any coordinator would", func() {
			action.SetExists("/warehouse/a/_SUCCESS", true)
			s := newSink()
			first.Deliver(coordinator.Materialize{ReplyTo: s})
			_, ok := s.take().(coordinator.ViewMaterialized)
			So(ok, ShouldBeTrue)
		})
	})
}

func TestBroadcastFansOutToEveryCoordinator(t *testing.T) {
	Convey("Broadcast delivers NewDataAvailable to every registered coordinator", t, func() {
		action := fake.New()
		svc := mem.New()
		m := New(action, action, svc, testConfig(), nil, nil)

		viewA := &def.View{ID: "A", Transformation: def.NoOpTransformation{}, FullPath: "/warehouse/a"}
		viewB := &def.View{ID: "B", Transformation: def.NoOpTransformation{}, FullPath: "/warehouse/b"}

		// Materialize both once so each sits in a state that reacts to
		// NewDataAvailable (Initial does not).
		action.SetExists("/warehouse/a/_SUCCESS", true)
		action.SetExists("/warehouse/b/_SUCCESS", true)
		sA, sB := newSink(), newSink()
		m.CoordinatorFor(context.Background(), viewA).Deliver(coordinator.Materialize{ReplyTo: sA})
		m.CoordinatorFor(context.Background(), viewB).Deliver(coordinator.Materialize{ReplyTo: sB})
		sA.take()
		sB.take()

		m.Broadcast(coordinator.NewDataAvailable{View: "nonexistent-dependency"})

		// Neither view depends on "nonexistent-dependency", so each
		// should remain Materialized and answer a follow-up Materialize
		// without re-touching the filesystem.
		statusA := m.Status(viewA)
		statusB := m.Status(viewB)
		So(statusA.State, ShouldEqual, "Materialized")
		So(statusB.State, ShouldEqual, "Materialized")
	})
}
