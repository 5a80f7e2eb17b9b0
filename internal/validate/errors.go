package validate

import "errors"

// ErrRequired is wrapped into the error returned by Validate when a
// required field (url, sequence, interval) is missing, blank, or
// uncoercible.
var ErrRequired = errors.New("required field missing or invalid")

// ErrDuplicateAlias is wrapped into the error returned by Validate when
// the resolved alias collides with one already registered on the owning
// Monitor.
var ErrDuplicateAlias = errors.New("alias already in use")
