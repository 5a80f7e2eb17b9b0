package monitor

import (
	"context"
	"time"

	"github.com/dmagro/querywatch/internal/query"
)

// Row is the persisted, CSV-like shape of one Query: every field of §3
// except the transient is_new flag and the live compiled matcher. eta
// persists as its raw string, per spec.md §6.
type Row struct {
	UID             string
	Alias           string
	URL             string
	TargetURL       string
	Sequence        string
	Mode            string
	MinMatches      int
	Interval        int
	Cooldown        int
	Randomize       int
	ETARaw          string
	CyclesLimit     int
	Cycles          int
	IsRecurring     bool
	LastRun         time.Time
	LastMatchAt     time.Time
	Found           bool
	Status          query.Status
	CookiesFilename string
	AlertSound      string
}

// Storage is the persistence collaborator a Monitor delegates to: load/save
// of dashboard rows, cookie blobs, and notification sound bytes, one
// instance shared across every user's Monitor (spec.md §1's "Persistence"
// external collaborator). internal/storage provides the sqlite-backed
// implementation; tests substitute an in-memory fake.
type Storage interface {
	LoadDashboard(ctx context.Context, username string) ([]Row, error)
	SaveDashboard(ctx context.Context, username string, rows []Row) error
	SaveCookies(ctx context.Context, username string, cookies map[string]map[string]string) error
	LoadCookies(ctx context.Context, username, filename string) (map[string]string, error)
	GetSound(ctx context.Context, username, name string) ([]byte, string, error)
}

// rowOf converts a live Query into its persisted Row. Recurring queries
// always persist found=false so that they re-arm on process restart,
// matching spec.md §6's documented persistence behavior.
func rowOf(q *query.Query) Row {
	found := q.Found
	if q.IsRecurring {
		found = false
	}
	return Row{
		UID:             q.UID,
		Alias:           q.Alias,
		URL:             q.URL,
		TargetURL:       q.TargetURL,
		Sequence:        q.Sequence,
		Mode:            string(q.Mode),
		MinMatches:      q.MinMatches,
		Interval:        q.Interval,
		Cooldown:        q.Cooldown,
		Randomize:       q.Randomize,
		ETARaw:          q.ETA.Raw,
		CyclesLimit:     q.CyclesLimit,
		Cycles:          q.Cycles,
		IsRecurring:     q.IsRecurring,
		LastRun:         q.LastRun,
		LastMatchAt:     q.LastMatchAt,
		Found:           found,
		Status:          q.Status,
		CookiesFilename: q.CookiesFilename,
		AlertSound:      q.AlertSound,
	}
}

// restoreParams converts a Row back into the params map restore_query
// expects, retaining uid/cycles/last_run/last_match_datetime/found per
// spec.md §4.1. A recurring row always restores with found=false, the same
// re-arm rule rowOf applies on save, even if the stored row says found.
func restoreParams(r Row) map[string]any {
	found := r.Found
	if r.IsRecurring {
		found = false
	}
	return map[string]any{
		"uid":                  r.UID,
		"alias":                r.Alias,
		"url":                  r.URL,
		"target_url":           r.TargetURL,
		"sequence":             r.Sequence,
		"mode":                 r.Mode,
		"min_matches":          r.MinMatches,
		"interval":             r.Interval,
		"cooldown":             r.Cooldown,
		"randomize":            r.Randomize,
		"eta":                  r.ETARaw,
		"cycles_limit":         r.CyclesLimit,
		"is_recurring":         r.IsRecurring,
		"cycles":               r.Cycles,
		"last_run":             r.LastRun,
		"last_match_datetime":  r.LastMatchAt,
		"found":                found,
		"status":               int(r.Status),
		"cookies_filename":     r.CookiesFilename,
		"alert_sound":          r.AlertSound,
	}
}
