// Package match compiles a Query's pattern sequence into a reusable
// Conjunction and evaluates it against normalized page text, mirroring the
// original implementation's re_compilers/run-time pattern scan but with an
// explicit AND-delimiter token instead of relying on regex alternation.
package match

import (
	"fmt"
	"regexp"
	"strings"
)

// andDelimiter separates sub-patterns whose hit counts are summed together
// into one total (spec.md §4.3: "sum the counts"). It is the two-character
// literal backslash-ampersand, never a regex metacharacter sequence, so it
// must be split on as a raw string rather than compiled.
const andDelimiter = `\&`

// Conjunction is a compiled sequence: one or more sub-patterns whose hit
// counts sum together, with a required minimum total hit count and an existence
// polarity.
type Conjunction struct {
	subPatterns []*regexp.Regexp
	minMatches  int
	negate      bool
}

// Compile builds a Conjunction from a raw sequence string such as
// "foo\&bar" (hits of "foo" and "bar" are summed), a minimum total hit count,
// and a mode ("exists" or "not-exists"). Every sub-pattern is compiled
// case-insensitively since the matched text is lower-cased before
// evaluation.
func Compile(sequence string, minMatches int, mode string) (*Conjunction, error) {
	if strings.TrimSpace(sequence) == "" {
		return nil, fmt.Errorf("match: empty sequence")
	}
	if minMatches < 1 {
		minMatches = 1
	}

	parts := strings.Split(sequence, andDelimiter)
	subPatterns := make([]*regexp.Regexp, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("match: empty sub-pattern in sequence %q", sequence)
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("match: invalid sub-pattern %q: %w", p, err)
		}
		subPatterns = append(subPatterns, re)
	}

	var negate bool
	switch mode {
	case "", "exists":
		negate = false
	case "not-exists":
		negate = true
	default:
		return nil, fmt.Errorf("match: unknown mode %q", mode)
	}

	return &Conjunction{subPatterns: subPatterns, minMatches: minMatches, negate: negate}, nil
}

// Result is the outcome of evaluating a Conjunction against a page's text.
type Result struct {
	// TotalHits is the sum, across every sub-pattern, of the number of
	// non-overlapping matches found in the text.
	TotalHits int
	// Satisfied is true when the conjunction's polarity condition holds:
	// for "exists" mode, TotalHits >= minMatches; for "not-exists", the
	// inverse. This is a sum across sub-patterns, not a requirement that
	// every sub-pattern individually hit.
	Satisfied bool
}

// Evaluate scans already-lower-cased text against every sub-pattern,
// summing hit counts, and applies the conjunction's minimum-count and
// existence-polarity rules.
func (c *Conjunction) Evaluate(lowerText string) Result {
	total := 0
	for _, re := range c.subPatterns {
		total += len(re.FindAllStringIndex(lowerText, -1))
	}

	exists := total >= c.minMatches
	satisfied := exists
	if c.negate {
		satisfied = !exists
	}
	return Result{TotalHits: total, Satisfied: satisfied}
}

// MinMatches reports the configured minimum hit count.
func (c *Conjunction) MinMatches() int { return c.minMatches }

// Negate reports whether the conjunction is evaluated in "not-exists" mode.
func (c *Conjunction) Negate() bool { return c.negate }
