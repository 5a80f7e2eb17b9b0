// Package terminal renders a Monitor's dashboard and scan results for the
// interactive terminal client, adapted from the teacher's own
// internal/format color-coding conventions: green for a healthy state,
// yellow for caution, red for trouble.
package terminal

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/dmagro/querywatch/internal/query"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
)

// colorStatus renders a query.Status with the same traffic-light
// semantics the teacher applies to latency and success rate: OK is green,
// AccessDenied is yellow (recoverable, worth a look), ConnectionLost is
// red, NeverRan is dim.
func colorStatus(s query.Status) string {
	switch s {
	case query.OK:
		return green(s.String())
	case query.AccessDenied:
		return yellow(s.String())
	case query.ConnectionLost:
		return red(s.String())
	default:
		return dim(s.String())
	}
}

// colorFound renders the found flag: green "match" when true, dim "—"
// when false.
func colorFound(found bool) string {
	if found {
		return green("match")
	}
	return dim("—")
}

// colorCycles renders a cycles/cycles_limit pair, turning red once the
// budget is exhausted (cycles_limit > 0 and cycles has reached it).
func colorCycles(cycles, limit int) string {
	s := fmt.Sprintf("%d", cycles)
	if limit > 0 {
		s = fmt.Sprintf("%d/%d", cycles, limit)
		if cycles >= limit {
			return red(s)
		}
	}
	return s
}
