package def

import (
	"github.com/spacemonkeygo/errors"
)

// ValidationError groups anything that means "this View descriptor is
// malformed" -- a dependency sharing the view's storage path, a view naming itself as its own
// dependency, and so on.  Construction-time sanity checks, not runtime
// failures of a collaborator.
var ValidationError *errors.ErrorClass = errors.NewClass("ViewValidationError")
