// Package query defines the Query entity: a user-defined watch on a URL for
// a pattern. Its serialized wire form is monitor.State. A Query is exclusively
// owned by exactly one Monitor; it owns no background task of its own.
package query

import (
	"time"

	"github.com/dmagro/querywatch/internal/eta"
	"github.com/dmagro/querywatch/internal/match"
)

// Status is the last-run outcome enum.
type Status int

const (
	NeverRan       Status = -1
	OK             Status = 0
	AccessDenied   Status = 1
	ConnectionLost Status = 2
)

func (s Status) String() string {
	switch s {
	case NeverRan:
		return "NeverRan"
	case OK:
		return "OK"
	case AccessDenied:
		return "AccessDenied"
	case ConnectionLost:
		return "ConnectionLost"
	default:
		return "Unknown"
	}
}

// Mode controls the polarity of the match predicate.
type Mode string

const (
	ModeExists    Mode = "exists"
	ModeNotExists Mode = "not-exists"
)

// DefaultTime is the epoch sentinel used for "never happened" timestamps,
// matching the original implementation's DEFAULT_DATE.
var DefaultTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Query is a single user-defined watch.
type Query struct {
	UID              string
	Alias            string
	URL              string
	TargetURL        string
	Sequence         string
	Mode             Mode
	MinMatches       int
	Interval         int // minutes
	Cooldown         int // minutes
	Randomize        int // percent, 0-100
	ETA              eta.Spec
	CyclesLimit      int
	Cycles           int
	IsRecurring      bool
	LastRun          time.Time
	LastMatchAt      time.Time
	Found            bool
	Status           Status
	IsNew            bool
	CookiesFilename  string
	AlertSound       string

	// matcher is the compiled conjunction for Sequence/Mode/MinMatches. It
	// is rebuilt whenever those fields change (add/edit/restore) and is not
	// part of the wire representation.
	matcher *match.Conjunction
}

// Matcher returns the compiled pattern conjunction for this query,
// compiling it lazily if needed. Compile errors are swallowed here because
// the Validator is responsible for rejecting an uncompilable sequence
// before a Query is ever constructed; by the time a Query exists its
// Sequence is known-good.
func (q *Query) Matcher() *match.Conjunction {
	if q.matcher == nil {
		q.matcher, _ = match.Compile(q.Sequence, q.MinMatches, string(q.Mode))
	}
	return q.matcher
}

// SetMatcher installs a freshly compiled matcher, used by monitor after a
// field affecting matching changes.
func (q *Query) SetMatcher(m *match.Conjunction) {
	q.matcher = m
}

// Close releases any resources the Query's fetch path holds. The shared
// Fetcher is stateless today, so this is a no-op — kept as a seam mirroring
// the original implementation's Query.close_session, which is itself a
// documented no-op retained in case a stateful, per-query HTTP session is
// ever needed.
func (q *Query) Close() error { return nil }

// Clone returns a deep-enough copy for safe concurrent snapshotting: value
// fields copy trivially, and the compiled matcher pointer is shared since
// Conjunction is immutable after Compile.
func (q *Query) Clone() *Query {
	cp := *q
	return &cp
}
