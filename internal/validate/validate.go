// Package validate implements the Validator: it normalizes and
// type-checks an incoming query parameter map, applies field defaults and
// a coerce-with-fallback strategy per field, and accumulates non-fatal
// warnings — mirroring the original implementation's __valpar helper and
// the add_query/edit_query validation pass it backs.
package validate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dmagro/querywatch/internal/eta"
	"github.com/dmagro/querywatch/internal/match"
)

// DefaultMinInterval is the floor, in minutes, below which a provided interval is
// clamped and a warning recorded. It is overridable via Options so a
// deployment can tune it from configuration, the Go-native equivalent of
// the original's module-level MIN_INTERVAL constant.
const DefaultMinInterval = 5

// Options parameterizes validation with data the Validator cannot infer
// from params alone: the minimum interval floor and the set of aliases
// already in use by the owning Monitor (so uniqueness can be checked here
// even though the alias set itself lives on Monitor).
type Options struct {
	MinInterval int
	// ExistingAliases is the set of aliases currently registered, excluding
	// the record being edited (the caller removes its own uid's alias
	// before calling Validate).
	ExistingAliases map[string]struct{}
}

// Fields is the validated, normalized, recognized-keys-only record ready
// to populate or merge into a query.Query.
type Fields struct {
	UID         string
	Alias       string
	URL         string
	TargetURL   string
	Sequence    string
	Mode        string
	MinMatches  int
	Interval    int
	Cooldown    int
	Randomize   int
	ETA         eta.Spec
	CyclesLimit int
	IsRecurring bool
}

// Validate normalizes params into Fields, applying defaults and
// coerce-with-fallback per field. It returns a hard error only when a
// required field (url, sequence, interval) is absent, blank, or
// uncoercible (for sequence: not a compilable pattern), or when the
// resolved alias is already in opts.ExistingAliases; every other problem
// is downgraded to a warning with a best-effort default substituted.
func Validate(params map[string]any, opts Options) (Fields, []string, error) {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}

	var warnings []string
	var f Fields

	url, ok := coerceString(params["url"])
	if !ok || strings.TrimSpace(url) == "" {
		return Fields{}, nil, fmt.Errorf("validate: %w: url", ErrRequired)
	}
	f.URL = url

	sequence, ok := coerceString(params["sequence"])
	if !ok || strings.TrimSpace(sequence) == "" {
		return Fields{}, nil, fmt.Errorf("validate: %w: sequence", ErrRequired)
	}
	if _, err := match.Compile(sequence, 1, "exists"); err != nil {
		return Fields{}, nil, fmt.Errorf("validate: %w: sequence: %v", ErrRequired, err)
	}
	f.Sequence = sequence

	rawInterval, present := params["interval"]
	if !present {
		return Fields{}, nil, fmt.Errorf("validate: %w: interval", ErrRequired)
	}
	interval, err := parseInterval(rawInterval)
	if err != nil {
		return Fields{}, nil, fmt.Errorf("validate: %w: interval: %v", ErrRequired, err)
	}
	if interval < opts.MinInterval {
		warnings = append(warnings, fmt.Sprintf("interval too low (min:%d)", opts.MinInterval))
		interval = opts.MinInterval
	}
	f.Interval = interval

	if rawCooldown, present := params["cooldown"]; present {
		cooldown, err := parseInterval(rawCooldown)
		if err != nil {
			warnings = append(warnings, "invalid cooldown, defaulted to interval")
			cooldown = interval
		}
		f.Cooldown = cooldown
	} else {
		f.Cooldown = interval
	}
	if f.Cooldown < f.Interval {
		f.Cooldown = f.Interval
	}

	if uid, ok := coerceString(params["uid"]); ok {
		f.UID = uid
	}

	if alias, ok := coerceString(params["alias"]); ok && strings.TrimSpace(alias) != "" {
		f.Alias = alias
	} else {
		f.Alias = url
	}
	if _, taken := opts.ExistingAliases[f.Alias]; taken {
		return Fields{}, nil, fmt.Errorf("validate: %w: %s", ErrDuplicateAlias, f.Alias)
	}

	if targetURL, ok := coerceString(params["target_url"]); ok && strings.TrimSpace(targetURL) != "" {
		f.TargetURL = targetURL
	} else {
		f.TargetURL = url
	}

	if mode, ok := coerceString(params["mode"]); ok && (mode == "exists" || mode == "not-exists") {
		f.Mode = mode
	} else {
		f.Mode = "exists"
	}

	f.MinMatches = 1
	if mm, ok := coerceInt(params["min_matches"]); ok && mm > 1 {
		f.MinMatches = mm
	}

	if rz, ok := coerceInt(params["randomize"]); ok {
		if rz < 0 {
			rz = 0
		}
		if rz > 100 {
			rz = 100
		}
		f.Randomize = rz
	}

	if rawETA, ok := coerceString(params["eta"]); ok {
		spec, etaWarnings := eta.Parse(rawETA)
		f.ETA = spec
		warnings = append(warnings, etaWarnings...)
	} else {
		f.ETA = eta.Spec{}
	}

	if cl, ok := coerceInt(params["cycles_limit"]); ok {
		f.CyclesLimit = cl
	}

	if rec, ok := params["is_recurring"].(bool); ok {
		f.IsRecurring = rec
	}

	return f, warnings, nil
}

// parseInterval parses an integer-minutes value, or a string with a
// trailing 'h' (hours) or 'd' (days) suffix, converting to whole minutes by
// truncation — matching the original parse_interval's float-then-truncate
// behavior (e.g. "2.8h" -> 168, "3.5d" -> 5040).
func parseInterval(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, fmt.Errorf("empty interval")
		}
		suffix := s[len(s)-1]
		switch suffix {
		case 'h', 'H':
			n, err := strconv.ParseFloat(s[:len(s)-1], 64)
			if err != nil {
				return 0, err
			}
			return int(n * 60), nil
		case 'd', 'D':
			n, err := strconv.ParseFloat(s[:len(s)-1], 64)
			if err != nil {
				return 0, err
			}
			return int(n * 60 * 24), nil
		default:
			n, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return 0, err
			}
			return int(n), nil
		}
	default:
		return 0, fmt.Errorf("unsupported interval type %T", raw)
	}
}

func coerceString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
