package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/kaaas/schedoscope/actors/coordinator"
	"github.com/kaaas/schedoscope/def"
)

type recordingBroadcaster struct {
	ch chan coordinator.NewDataAvailable
}

func (b *recordingBroadcaster) Broadcast(msg coordinator.NewDataAvailable) {
	b.ch <- msg
}

func TestWatcherNotifiesOnSuccessMarker(t *testing.T) {
	Convey("Watcher broadcasts NewDataAvailable when a _SUCCESS marker appears", t, func() {
		dir, err := os.MkdirTemp("", "watch-test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)

		b := &recordingBroadcaster{ch: make(chan coordinator.NewDataAvailable, 4)}
		w, err := New(b, nil)
		So(err, ShouldBeNil)
		defer w.Close()

		view := &def.View{ID: "A", FullPath: dir}
		So(w.Watch(view), ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		So(os.WriteFile(filepath.Join(dir, "_SUCCESS"), nil, 0o644), ShouldBeNil)

		select {
		case msg := <-b.ch:
			So(msg.View, ShouldEqual, def.ViewID("A"))
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for NewDataAvailable")
		}
	})
}
