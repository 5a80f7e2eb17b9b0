// Package eta implements the ETA grammar: a small, human-facing schedule
// language that parses into a structured calendar predicate and evaluates
// against a given instant. It is deliberately independent of internal/query
// and internal/monitor so it can be unit tested in isolation, the way the
// original implementation's _parse_eta/_eta_condition pair was tested apart
// from the rest of the Monitor.
package eta

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is an (hour, minute) pair within one day.
type TimeOfDay struct {
	Hour, Minute int
}

func (t TimeOfDay) before(o TimeOfDay) bool {
	return t.Hour < o.Hour || (t.Hour == o.Hour && t.Minute <= o.Minute)
}

// TimeSpan is an inclusive [Lower, Upper] range of time-of-day.
type TimeSpan struct {
	Lower, Upper TimeOfDay
}

// DateYMD is a calendar date (day, month, year).
type DateYMD struct {
	Day, Month, Year int
}

// DateSpan is an inclusive range of instants; Upper is extended to
// end-of-day by the parser per the grammar's "D/M/YYYY-D/M/YYYY" rule.
type DateSpan struct {
	Lower, Upper time.Time
}

// DOWSpan is an inclusive range of weekdays, 0 (Sunday) through 6.
type DOWSpan struct {
	Lower, Upper int
}

// Spec is the parsed form of an eta.raw clause list: five independent
// lists (one per clause shape) plus the verbatim raw string. An empty Spec
// (all lists empty) matches any instant.
type Spec struct {
	DOW       []int
	TimeSpans []TimeSpan
	Dates     []DateYMD
	DateSpans []DateSpan
	DOWSpans  []DOWSpan
	Raw       string
}

var weekdays = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
}

// Parse parses a comma-separated clause list into a Spec. Invalid clauses
// are dropped, do not block parsing of the remaining clauses, and are
// reported back as a single combined warning naming every offending
// clause, joined with ", " — matching the behavior the original test suite
// expects for a raw string with more than one bad clause.
func Parse(raw string) (Spec, []string) {
	spec := Spec{Raw: raw}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return spec, nil
	}

	var bad []string
	for _, clause := range strings.Split(trimmed, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		if ok := tryParseClause(&spec, clause); !ok {
			bad = append(bad, clause)
		}
	}

	var warnings []string
	if len(bad) > 0 {
		warnings = []string{fmt.Sprintf("invalid ETA rules: %s", strings.Join(bad, ", "))}
	}
	return spec, warnings
}

func tryParseClause(spec *Spec, clause string) bool {
	lower := strings.ToLower(clause)

	if dow, ok := weekdays[lower]; ok {
		spec.DOW = append(spec.DOW, dow)
		return true
	}

	if strings.Contains(clause, "-") {
		lhs, rhs, _ := strings.Cut(clause, "-")
		lhs, rhs = strings.TrimSpace(lhs), strings.TrimSpace(rhs)

		if lDow, lok := weekdays[strings.ToLower(lhs)]; lok {
			if rDow, rok := weekdays[strings.ToLower(rhs)]; rok {
				spec.DOWSpans = append(spec.DOWSpans, DOWSpan{Lower: lDow, Upper: rDow})
				return true
			}
		}

		if strings.Contains(lhs, "/") && strings.Contains(rhs, "/") {
			ld, lok := parseDate(lhs)
			rd, rok := parseDate(rhs)
			if lok && rok {
				lt := time.Date(ld.Year, time.Month(ld.Month), ld.Day, 0, 0, 0, 0, time.UTC)
				rt := time.Date(rd.Year, time.Month(rd.Month), rd.Day, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
				spec.DateSpans = append(spec.DateSpans, DateSpan{Lower: lt, Upper: rt})
				return true
			}
			return false
		}

		if lt, lok := parseTimeOfDay(lhs); lok {
			if rt, rok := parseTimeOfDay(rhs); rok {
				spec.TimeSpans = append(spec.TimeSpans, TimeSpan{Lower: lt, Upper: rt})
				return true
			}
		}
		return false
	}

	if strings.Contains(clause, "/") {
		if d, ok := parseDate(clause); ok {
			spec.Dates = append(spec.Dates, d)
			return true
		}
		return false
	}

	return false
}

func parseTimeOfDay(s string) (TimeOfDay, bool) {
	hourPart, minPart, hasMin := strings.Cut(s, ":")
	h, err := strconv.Atoi(strings.TrimSpace(hourPart))
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, false
	}
	m := 0
	if hasMin {
		m, err = strconv.Atoi(strings.TrimSpace(minPart))
		if err != nil || m < 0 || m > 59 {
			return TimeOfDay{}, false
		}
	}
	return TimeOfDay{Hour: h, Minute: m}, true
}

func parseDate(s string) (DateYMD, bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return DateYMD{}, false
	}
	d, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	mo, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	y, err3 := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err1 != nil || err2 != nil || err3 != nil {
		return DateYMD{}, false
	}
	if mo < 1 || mo > 12 || y < 1 {
		return DateYMD{}, false
	}
	daysInMonth := time.Date(y, time.Month(mo)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if d < 1 || d > daysInMonth {
		return DateYMD{}, false
	}
	return DateYMD{Day: d, Month: mo, Year: y}, true
}

// Matches evaluates a Spec against now: true iff, for every non-empty
// list, at least one of its entries is satisfied. Empty lists impose no
// constraint; a Spec with every list empty matches always.
func Matches(spec Spec, now time.Time) bool {
	if len(spec.DOW) > 0 && !matchesAny(spec.DOW, func(d int) bool {
		return int(now.Weekday()) == d
	}) {
		return false
	}

	if len(spec.TimeSpans) > 0 && !matchesAny(spec.TimeSpans, func(ts TimeSpan) bool {
		cur := TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}
		return ts.Lower.before(cur) && cur.before(ts.Upper)
	}) {
		return false
	}

	if len(spec.DateSpans) > 0 && !matchesAny(spec.DateSpans, func(ds DateSpan) bool {
		return !now.Before(ds.Lower) && !now.After(ds.Upper)
	}) {
		return false
	}

	if len(spec.DOWSpans) > 0 && !matchesAny(spec.DOWSpans, func(ds DOWSpan) bool {
		d := int(now.Weekday())
		return d >= ds.Lower && d <= ds.Upper
	}) {
		return false
	}

	if len(spec.Dates) > 0 && !matchesAny(spec.Dates, func(d DateYMD) bool {
		return now.Day() == d.Day && int(now.Month()) == d.Month && now.Year() == d.Year
	}) {
		return false
	}

	return true
}

func matchesAny[T any](items []T, pred func(T) bool) bool {
	for _, it := range items {
		if pred(it) {
			return true
		}
	}
	return false
}

// SortedCopy returns a copy of s with DOW sorted ascending and Dates sorted
// chronologically, for comparisons that should not depend on clause order
// in the raw string. TimeSpans, DateSpans and DOWSpans keep parse order.
func SortedCopy(s Spec) Spec {
	cp := s
	cp.DOW = append([]int(nil), s.DOW...)
	sort.Ints(cp.DOW)
	cp.Dates = append([]DateYMD(nil), s.Dates...)
	sort.Slice(cp.Dates, func(i, j int) bool {
		a, b := cp.Dates[i], cp.Dates[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		return a.Day < b.Day
	})
	return cp
}
