/*
	Package schema is the SchemaService side of the scheduler (spec §4.4):
	it records transformation timestamps, registers partitions, and
	answers whether a view's stored version digest still matches.

	Sees everything the coordinator asks it to remember; powerless to
	change the coordinator's mind about anything.  See the actors package
	for the thing that actually calls this.
*/
package schema

import (
	"context"

	"github.com/kaaas/schedoscope/def"
)

// VersionCheck is the outcome of CheckViewVersion.
type VersionCheck int

const (
	ViewVersionOk VersionCheck = iota
	ViewVersionMismatch
)

/*
	Service is the external contract described in spec §4.4.  All methods
	are synchronous request/reply bounded by ctx's deadline; the
	coordinator treats a context deadline exceeded the same as any other
	error from these methods (see errors.go and spec §7): conservatively,
	as a version mismatch for CheckViewVersion, and as an action failure
	(triggering retry) for AddPartition/SetViewVersion before a
	transformation. Failures elsewhere (the NoOp path, timestamp logging
	and reading) are logged and otherwise ignored.
*/
type Service interface {
	// AddPartition registers view's partition in the metastore.  Calling
	// it twice for the same view is a no-op, not an error.
	AddPartition(ctx context.Context, view *def.View) error

	// SetViewVersion writes view's current VersionDigest as the stored
	// version for comparison by later CheckViewVersion calls.
	SetViewVersion(ctx context.Context, view *def.View) error

	// CheckViewVersion compares view's VersionDigest against what was
	// last recorded with SetViewVersion.
	CheckViewVersion(ctx context.Context, view *def.View) (VersionCheck, error)

	// LogTransformationTimestamp records "view was transformed at now()".
	LogTransformationTimestamp(ctx context.Context, view *def.View) error

	// GetTransformationTimestamp returns the last timestamp recorded by
	// LogTransformationTimestamp, or 0 if there has never been one.
	GetTransformationTimestamp(ctx context.Context, view *def.View) (uint64, error)
}
