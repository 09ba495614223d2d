package schema

import (
	"github.com/spacemonkeygo/errors"
)

// grouping, do not instantiate
var Error *errors.ErrorClass = errors.NewClass("SchemaServiceError")

/*
	Error raised when the metastore backing a Service implementation is
	unreachable or returns a malformed record.  The coordinator reacts to
	this the same way it reacts to a timeout: a CheckViewVersion failure
	is treated as a mismatch, an AddPartition/SetViewVersion failure
	before a transformation triggers the same retry path as an
	ActionFailure, and any other failure is logged and otherwise ignored.
*/
var ActionFailure *errors.ErrorClass = Error.NewClass("SchemaActionFailure")
