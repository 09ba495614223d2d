package coordinator

import (
	"github.com/kaaas/schedoscope/def"
)

/*
	Outbox is anything a Coordinator can deliver a message into: another
	Coordinator (via its inbox), or an external requester's sink.
	Delivery never blocks on processing -- it only has to get the message
	queued -- which is what lets a Waiting coordinator hand a Materialize
	to N dependencies without waiting for any of them to run.
*/
type Outbox interface {
	Deliver(msg interface{})
}

// Materialize is the request to bring a view up to date. Exactly one of
// ViewMaterialized, NoDataAvailable, or Failed is eventually delivered to
// ReplyTo in response (spec invariant 1).
type Materialize struct {
	ReplyTo Outbox
}

// Invalidate drops any memoized materialized state; the next Materialize
// re-evaluates from scratch. Only meaningful in Materialized and Failed.
type Invalidate struct{}

// NewDataAvailable notifies a coordinator that view v -- an upstream --
// has newer data than when it last answered this coordinator. Only acted
// on in Materialized and Failed; ignored elsewhere (the in-flight round
// already supersedes it).
type NewDataAvailable struct {
	View def.ViewID
}

// GetStatus is a diagnostic query, answered with StatusReply. It never
// changes state.
type GetStatus struct {
	ReplyTo Outbox
}

// StatusReply answers GetStatus.
type StatusReply struct {
	View  def.ViewID
	State string
}

// Retry is self-delivered after a backoff expires. It carries no payload;
// the coordinator already knows which attempt is next from its own
// retryCount, and a stale timer from a round the coordinator has since
// left behind is harmless to ignore (handleRetrying is the only state
// that reacts to it).
type Retry struct{}

// ViewMaterialized is the success reply/notification: self's data is
// present and fresh as of Timestamp. Incomplete/WithErrors are the
// round-scoped flags described in spec §3 and §7.
type ViewMaterialized struct {
	View       def.ViewID
	Incomplete bool
	Timestamp  uint64
	WithErrors bool
}

// NoDataAvailable means self has no data and none could be produced --
// either a NoOp view with no success marker, or no dependency returned
// data this round.
type NoDataAvailable struct {
	View def.ViewID
}

// Failed means self's transformation failed after exhausting retries.
type Failed struct {
	View def.ViewID
}

// FatalError is only emitted from the Failed state, when a message
// arrives that Failed doesn't know how to interpret. It never changes
// state.
type FatalError struct {
	View   def.ViewID
	Reason string
}
