package monitor

import (
	"time"

	"github.com/dmagro/querywatch/internal/clock"
	"github.com/dmagro/querywatch/internal/eta"
	"github.com/dmagro/querywatch/internal/query"
)

// shouldRun implements spec.md §4.2's six-point conjunction verbatim. It
// takes no lock and mutates nothing; callers apply the decision separately.
func shouldRun(q *query.Query, now time.Time, rng clock.Rand) bool {
	// 1. Recovery fast-path: retry immediately after network failure or
	// first-ever run, so long as the query isn't disabled.
	if (q.Status == query.NeverRan || q.Status == query.ConnectionLost) && q.CyclesLimit >= 0 {
		return true
	}

	// 2. Disabled check.
	if q.CyclesLimit < 0 {
		return false
	}

	// 3. ETA gate.
	if !eta.Matches(q.ETA, now) {
		return false
	}

	// 4. Termination gate.
	if q.Found && !q.IsRecurring {
		return false
	}

	// 5. Budget gate.
	if q.CyclesLimit != 0 && q.Cycles >= q.CyclesLimit {
		return false
	}

	// 6. Time gate.
	var thresholdMinutes float64
	if q.Found {
		thresholdMinutes = float64(q.Cooldown)
	} else {
		jitter := rng.Uniform(-float64(q.Randomize)*float64(q.Interval), float64(q.Randomize)*float64(q.Interval)) * 0.01
		thresholdMinutes = float64(q.Interval) + jitter
	}
	elapsed := now.Sub(q.LastRun)
	return elapsed > time.Duration(thresholdMinutes*float64(time.Minute))
}

// applyRunOutcome updates a Query's state after an executed fetch+match
// pass, per spec.md §4.2's execution semantics.
func applyRunOutcome(q *query.Query, now time.Time, found bool, status query.Status) {
	wasFound := q.Found

	q.LastRun = now
	if status == query.OK || status == query.AccessDenied {
		q.Cycles++
	}
	if found || (q.IsRecurring && !wasFound) {
		q.LastMatchAt = now
	}
	q.Found = found
	q.Status = status
	q.IsNew = true
}
