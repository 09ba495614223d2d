/*
	Package executor is the ActionRunner side of the scheduler: it accepts
	Transformation submissions and filesystem side-effects, and answers
	each with exactly one terminal reply.

	Nothing in this package knows about the ViewCoordinator state machine;
	it only knows how to run things and report back.
*/
package executor

import (
	"context"

	"github.com/kaaas/schedoscope/def"
)

// Receiver is anything that can be handed a terminal outcome of a
// submitted Transformation.  A *coordinator.Coordinator satisfies this by
// delivering the outcome into its own inbox; tests satisfy it with a
// plain channel sink.
type Receiver interface {
	Deliver(msg interface{})
}

// ActionSuccess is delivered to a submission's Receiver when the
// Transformation completed.
type ActionSuccess struct {
	View def.ViewID
}

// ActionFailure is delivered to a submission's Receiver when the
// Transformation could not complete.  Err is nil only if the runner
// declines to provide detail; callers should treat any ActionFailure the
// same regardless.
type ActionFailure struct {
	View def.ViewID
	Err  error
}

/*
	Runner is the external contract described in spec §4.3: accept
	Transformation submissions, and synchronous filesystem primitives, and
	never silently drop a submission -- every Submit yields exactly one of
	ActionSuccess or ActionFailure delivered to the given Receiver.

	Touch and Delete are synchronous request/reply within the caller's
	context deadline; a Runner that can't meet the deadline returns a
	context error, which callers in this module treat as failure (see
	spec §7).
*/
type Runner interface {
	Submit(ctx context.Context, view *def.View, to Receiver)
	Touch(ctx context.Context, path string) error
	Delete(ctx context.Context, path string, recursive bool) error
}

// FSChecker is kept separate from Runner because spec §6 draws a line
// between marker *mutation* (always through the ActionRunner, so writes
// serialize per view) and marker *existence checks* (read directly from
// storage under the configured user identity, no serialization needed).
type FSChecker interface {
	Exists(ctx context.Context, userIdentity, path string) (bool, error)
}
