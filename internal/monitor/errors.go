package monitor

import "errors"

// Sentinel errors for the Monitor's internal error taxonomy (spec.md §7).
// None of these bubble to the network layer raw; the transport layer
// translates them into the {success, msg} shape every endpoint returns.
var (
	// ErrValidation names the validation-failure category. Monitor returns
	// the text of internal/validate's own error instead of this value.
	ErrValidation = errors.New("validation failure")
	// ErrDuplicateAlias names the unique-alias violation category. Monitor
	// returns the text of validate.ErrDuplicateAlias instead of this value.
	ErrDuplicateAlias = errors.New("duplicate alias")
	// ErrNotFound reports an unknown uid on get_query; EditQuery and
	// DeleteQuery report an unknown uid with their own message text.
	ErrNotFound = errors.New("query not found")
	// ErrStorage prefixes the message for an underlying storage collaborator
	// failure, and is returned by GetSoundFile when no storage is set.
	ErrStorage = errors.New("storage failure")
)
