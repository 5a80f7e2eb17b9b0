package eta

import (
	"strings"
	"testing"
	"time"
)

func TestParseClauseShapes(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, s Spec)
	}{
		{
			name: "day_of_week",
			raw:  "saturday",
			check: func(t *testing.T, s Spec) {
				if len(s.DOW) != 1 || s.DOW[0] != 6 {
					t.Fatalf("DOW = %v, want [6]", s.DOW)
				}
			},
		},
		{
			name: "time_span",
			raw:  "16-18",
			check: func(t *testing.T, s Spec) {
				if len(s.TimeSpans) != 1 {
					t.Fatalf("TimeSpans = %v", s.TimeSpans)
				}
				got := s.TimeSpans[0]
				want := TimeSpan{Lower: TimeOfDay{Hour: 16}, Upper: TimeOfDay{Hour: 18}}
				if got != want {
					t.Fatalf("TimeSpans[0] = %+v, want %+v", got, want)
				}
			},
		},
		{
			name: "time_span_with_minutes",
			raw:  "9:30-17:45",
			check: func(t *testing.T, s Spec) {
				got := s.TimeSpans[0]
				want := TimeSpan{Lower: TimeOfDay{Hour: 9, Minute: 30}, Upper: TimeOfDay{Hour: 17, Minute: 45}}
				if got != want {
					t.Fatalf("TimeSpans[0] = %+v, want %+v", got, want)
				}
			},
		},
		{
			name: "date",
			raw:  "25/12/2024",
			check: func(t *testing.T, s Spec) {
				if len(s.Dates) != 1 {
					t.Fatalf("Dates = %v", s.Dates)
				}
				want := DateYMD{Day: 25, Month: 12, Year: 2024}
				if s.Dates[0] != want {
					t.Fatalf("Dates[0] = %+v, want %+v", s.Dates[0], want)
				}
			},
		},
		{
			name: "date_span_extends_to_end_of_day",
			raw:  "1/1/2024-2/1/2024",
			check: func(t *testing.T, s Spec) {
				if len(s.DateSpans) != 1 {
					t.Fatalf("DateSpans = %v", s.DateSpans)
				}
				ds := s.DateSpans[0]
				wantUpper := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
				if !ds.Upper.Equal(wantUpper) {
					t.Fatalf("DateSpans[0].Upper = %v, want %v", ds.Upper, wantUpper)
				}
			},
		},
		{
			name: "dow_span",
			raw:  "monday-friday",
			check: func(t *testing.T, s Spec) {
				if len(s.DOWSpans) != 1 {
					t.Fatalf("DOWSpans = %v", s.DOWSpans)
				}
				want := DOWSpan{Lower: 1, Upper: 5}
				if s.DOWSpans[0] != want {
					t.Fatalf("DOWSpans[0] = %+v, want %+v", s.DOWSpans[0], want)
				}
			},
		},
		{
			name: "mixed_clauses_comma_separated",
			raw:  "saturday,16-18",
			check: func(t *testing.T, s Spec) {
				if len(s.DOW) != 1 || len(s.TimeSpans) != 1 {
					t.Fatalf("Spec = %+v", s)
				}
			},
		},
		{
			name: "empty_raw_matches_always",
			raw:  "",
			check: func(t *testing.T, s Spec) {
				if len(s.DOW)+len(s.TimeSpans)+len(s.Dates)+len(s.DateSpans)+len(s.DOWSpans) != 0 {
					t.Fatalf("expected all-empty Spec, got %+v", s)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, warnings := Parse(tt.raw)
			if len(warnings) != 0 {
				t.Fatalf("unexpected warnings: %v", warnings)
			}
			tt.check(t, spec)
		})
	}
}

func TestParseInvalidClausesAccumulateOneWarning(t *testing.T) {
	spec, warnings := Parse("sorday,35-54")
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one combined warning", warnings)
	}
	if !strings.Contains(warnings[0], "sorday") || !strings.Contains(warnings[0], "35-54") {
		t.Fatalf("warning %q should name both bad clauses", warnings[0])
	}
	if len(spec.DOW) != 0 || len(spec.TimeSpans) != 0 {
		t.Fatalf("invalid clauses should not populate any list: %+v", spec)
	}
}

func TestParseValidClauseSurvivesAlongsideInvalidOne(t *testing.T) {
	spec, warnings := Parse("saturday,sorday")
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v", warnings)
	}
	if len(spec.DOW) != 1 || spec.DOW[0] != 6 {
		t.Fatalf("valid clause should still parse: %+v", spec)
	}
}

func TestMatchesEmptySpecAlwaysTrue(t *testing.T) {
	if !Matches(Spec{}, time.Now()) {
		t.Fatal("an eta with every list empty must match always")
	}
}

func TestMatchesDOWAndTimeSpanConjunction(t *testing.T) {
	spec, _ := Parse("saturday,16-18")

	saturday1500 := time.Date(2024, 6, 15, 15, 0, 0, 0, time.UTC) // a Saturday
	if Matches(spec, saturday1500) {
		t.Fatal("15:00 should not satisfy the 16-18 time span")
	}

	saturday1730 := time.Date(2024, 6, 15, 17, 30, 0, 0, time.UTC)
	if !Matches(spec, saturday1730) {
		t.Fatal("Saturday 17:30 should satisfy saturday,16-18")
	}

	sunday1730 := time.Date(2024, 6, 16, 17, 30, 0, 0, time.UTC)
	if Matches(spec, sunday1730) {
		t.Fatal("Sunday should not satisfy a saturday-only DOW list")
	}
}

func TestMatchesDateSpanInclusiveThroughEndOfDay(t *testing.T) {
	spec, warnings := Parse("1/1/2024-2/1/2024")
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	inside := time.Date(2024, 1, 2, 23, 59, 0, 0, time.UTC)
	if !Matches(spec, inside) {
		t.Fatal("23:59 on the span's last day should still match (extended to end of day)")
	}

	outside := time.Date(2024, 1, 3, 0, 1, 0, 0, time.UTC)
	if Matches(spec, outside) {
		t.Fatal("a minute past end-of-day on the span's last day should not match")
	}
}

func TestMatchesDOWSpan(t *testing.T) {
	spec, _ := Parse("monday-friday")
	monday := time.Date(2024, 6, 17, 10, 0, 0, 0, time.UTC)
	saturday := time.Date(2024, 6, 22, 10, 0, 0, 0, time.UTC)
	if !Matches(spec, monday) {
		t.Fatal("Monday should satisfy monday-friday")
	}
	if Matches(spec, saturday) {
		t.Fatal("Saturday should not satisfy monday-friday")
	}
}
