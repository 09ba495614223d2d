package executor

import (
	"github.com/spacemonkeygo/errors"
)

// grouping, do not instantiate
var Error *errors.ErrorClass = errors.NewClass("ActionRunnerError")

/*
	Error raised when a Transformation cannot be run due to invalid setup
	(an unknown driver, a FullPath that doesn't exist, and the like).
*/
var ConfigError *errors.ErrorClass = Error.NewClass("ActionRunnerConfigError")

/*
	Error raised when a filesystem side-effect (Touch/Delete/Exists)
	failed.  A missed deadline is returned as the plain context error
	instead.  The coordinator schedules a retry when the Delete before a
	transformation fails; a failed Touch of the success marker is only
	logged, and a failed Exists check counts as "no marker".
*/
var FileActionError *errors.ErrorClass = Error.NewClass("ActionRunnerFileActionError")

/*
	Wraps any other unknown failure from a driver; if one of these
	surfaces to an operator it's worth adding a specific error class at
	the site that raised it.
*/
var UnknownError *errors.ErrorClass = Error.NewClass("ActionRunnerUnknownError")
