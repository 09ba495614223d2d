/*
	Package scheduler is the "timers" half of "Messages & timers" (spec
	§2): it turns "deliver this message to that coordinator after a
	backoff delay" into a concrete deferred callback.

	"No one has ever looked at a cron library and thought, 'this is
	everything I need'" -- but a coordinator's retry backoff isn't cron at
	all: it's one relative delay, fired once, cancellable if the
	coordinator moves on before it fires. That's simple enough to not need
	a dependency, so this package is a thin wrapper over time.AfterFunc.
*/
package scheduler

import "time"

// Scheduler defers a callback by d. Implementations must tolerate Cancel
// being called after the callback has already fired (a no-op) and
// concurrently with the callback firing.
type Scheduler interface {
	After(d time.Duration, f func()) Cancellable
}

// Cancellable is returned by After; Cancel prevents a not-yet-fired
// callback from firing. It has no effect once the callback has started.
type Cancellable interface {
	Cancel()
}

// Real schedules callbacks with the wall clock, via time.AfterFunc.
type Real struct{}

func (Real) After(d time.Duration, f func()) Cancellable {
	return timerCancellable{time.AfterFunc(d, f)}
}

type timerCancellable struct{ t *time.Timer }

func (c timerCancellable) Cancel() { c.t.Stop() }

// Backoff computes the delay before retry attempt n: 2^n seconds. The
// initial attempt (n=0) is never preceded by a sleep -- callers only ask
// Backoff for the delay before the *next* attempt once one has already
// failed, so the first scheduled retry is Backoff(1) == 2s.
func Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return (1 << uint(n)) * time.Second
}
