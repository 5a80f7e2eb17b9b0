// Package monitor implements the per-user Monitor: the scheduling and
// execution engine that owns a set of Queries, validates mutations,
// decides which queries are due to run, dispatches fetches concurrently,
// and maintains each query's observable state.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmagro/querywatch/internal/clock"
	"github.com/dmagro/querywatch/internal/fetch"
	"github.com/dmagro/querywatch/internal/match"
	"github.com/dmagro/querywatch/internal/query"
	"github.com/dmagro/querywatch/internal/validate"
)

// Monitor owns the set of Queries for one user. A Monitor is exclusively
// owned by the MonitorRegistry, keyed by username (spec.md §3
// "Ownership"). It holds a single mutex for the duration of every public
// method, including the scan worker-pool barrier: the lock is the
// serialization point spec.md §5 requires between mutators and scans.
type Monitor struct {
	mu sync.Mutex

	username string
	queries  map[string]*query.Query
	order    []string
	aliases  map[string]struct{}
	warnings map[string]struct{}

	fetcher         *fetch.Fetcher
	storage         Storage
	clock           clock.Clock
	rand            clock.Rand
	minInterval     int
	scanConcurrency int
	captchaKeywords []string
}

// Config parameterizes a new Monitor.
type Config struct {
	Username        string
	Fetcher         *fetch.Fetcher
	Storage         Storage
	Clock           clock.Clock
	Rand            clock.Rand
	MinInterval     int
	// ScanConcurrency bounds how many queries Scan fetches in parallel
	// (spec.md §5's "bounded worker pool"). <= 0 defaults to
	// DefaultScanConcurrency.
	ScanConcurrency int
	CaptchaKeywords []string
}

// DefaultScanConcurrency is the worker-pool size used when Config doesn't
// specify one.
const DefaultScanConcurrency = 8

// New constructs an empty Monitor. Queries are added via AddQuery or
// loaded via Populate.
func New(cfg Config) *Monitor {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Rand == nil {
		cfg.Rand = clock.NewSystemRand()
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = validate.DefaultMinInterval
	}
	if cfg.ScanConcurrency <= 0 {
		cfg.ScanConcurrency = DefaultScanConcurrency
	}
	return &Monitor{
		username:        cfg.Username,
		queries:         make(map[string]*query.Query),
		order:           nil,
		aliases:         make(map[string]struct{}),
		warnings:        make(map[string]struct{}),
		fetcher:         cfg.Fetcher,
		storage:         cfg.Storage,
		clock:           cfg.Clock,
		rand:            cfg.Rand,
		minInterval:     cfg.MinInterval,
		scanConcurrency: cfg.ScanConcurrency,
		captchaKeywords: append([]string(nil), cfg.CaptchaKeywords...),
	}
}

// SetCaptchaKeywords replaces the access-denied keyword set, the wiring
// point for MonitorRegistry's config-reload fan-out (spec.md §4.7).
func (m *Monitor) SetCaptchaKeywords(keywords []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captchaKeywords = append([]string(nil), keywords...)
}

// addWarning records a non-fatal warning into the per-call warning set.
// Callers must hold m.mu.
func (m *Monitor) addWarning(w string) {
	if w == "" {
		return
	}
	m.warnings[w] = struct{}{}
}

// drainWarnings empties the warning set and returns it sorted, so the
// returned message is deterministic. Callers must hold m.mu.
func (m *Monitor) drainWarnings() []string {
	out := make([]string, 0, len(m.warnings))
	for w := range m.warnings {
		out = append(out, w)
	}
	sort.Strings(out)
	for w := range m.warnings {
		delete(m.warnings, w)
	}
	return out
}

func message(base string, warnings []string) string {
	if len(warnings) == 0 {
		return base
	}
	return base + " with warnings: " + strings.Join(warnings, "; ")
}

func (m *Monitor) aliasesExcluding(uid string) map[string]struct{} {
	excludeAlias := ""
	if existing, ok := m.queries[uid]; ok {
		excludeAlias = existing.Alias
	}
	out := make(map[string]struct{}, len(m.aliases))
	for a := range m.aliases {
		if a == excludeAlias {
			continue
		}
		out[a] = struct{}{}
	}
	return out
}

// AddQuery validates params, assigns a fresh uid if absent, ensures alias
// uniqueness, and inserts the constructed Query.
func (m *Monitor) AddQuery(ctx context.Context, params map[string]any) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, warnings, err := validate.Validate(params, validate.Options{
		MinInterval:     m.minInterval,
		ExistingAliases: m.aliasesExcluding(""),
	})
	if err != nil {
		m.drainWarnings()
		return false, errMessage(err)
	}
	for _, w := range warnings {
		m.addWarning(w)
	}

	uid := fields.UID
	if uid == "" {
		uid = uuid.NewString()
	}
	if _, exists := m.queries[uid]; exists {
		m.drainWarnings()
		return false, "query already exists"
	}

	q := m.buildQuery(uid, fields)
	m.insert(q)

	return true, message("query added successfully", m.drainWarnings())
}

// EditQuery requires the uid of an existing Query, merges params over the
// existing record, re-validates, and atomically replaces the Query.
func (m *Monitor) EditQuery(ctx context.Context, params map[string]any) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rawUID, _ := params["uid"].(string)
	existing, ok := m.queries[rawUID]
	if !ok {
		m.drainWarnings()
		return false, "query does not exist"
	}

	merged := toParams(existing)
	for k, v := range params {
		merged[k] = v
	}
	merged["uid"] = rawUID

	fields, warnings, err := validate.Validate(merged, validate.Options{
		MinInterval:     m.minInterval,
		ExistingAliases: m.aliasesExcluding(rawUID),
	})
	if err != nil {
		m.drainWarnings()
		return false, errMessage(err)
	}
	for _, w := range warnings {
		m.addWarning(w)
	}

	_ = existing.Close()
	replacement := m.buildQuery(rawUID, fields)
	replacement.Cycles = existing.Cycles
	replacement.LastRun = existing.LastRun
	replacement.LastMatchAt = existing.LastMatchAt
	replacement.Found = existing.Found
	replacement.Status = existing.Status
	replacement.CookiesFilename = existing.CookiesFilename
	replacement.AlertSound = existing.AlertSound

	delete(m.aliases, existing.Alias)
	m.queries[rawUID] = replacement
	m.aliases[replacement.Alias] = struct{}{}

	return true, message("query updated successfully", m.drainWarnings())
}

// DeleteQuery removes the Query and closes its resources.
func (m *Monitor) DeleteQuery(ctx context.Context, uid string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queries[uid]
	if !ok {
		return false, "query does not exist"
	}
	_ = q.Close()
	m.remove(uid)
	return true, "query deleted successfully"
}

// RestoreQuery behaves like AddQuery but retains the provided uid, cycles,
// last_run, last_match_datetime, and found, for use by Populate.
func (m *Monitor) RestoreQuery(ctx context.Context, params map[string]any) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	uid, _ := params["uid"].(string)
	if uid == "" {
		uid = uuid.NewString()
	}

	fields, warnings, err := validate.Validate(params, validate.Options{
		MinInterval:     m.minInterval,
		ExistingAliases: m.aliasesExcluding(uid),
	})
	if err != nil {
		m.drainWarnings()
		return false, errMessage(err)
	}
	for _, w := range warnings {
		m.addWarning(w)
	}

	q := m.buildQuery(uid, fields)
	q.Cycles = intFrom(params["cycles"])
	q.LastRun = timeFrom(params["last_run"])
	q.LastMatchAt = timeFrom(params["last_match_datetime"])
	q.Found = boolFrom(params["found"])
	q.Status = statusFrom(params["status"])
	if cf, ok := params["cookies_filename"].(string); ok {
		q.CookiesFilename = cf
	}
	if as, ok := params["alert_sound"].(string); ok {
		q.AlertSound = as
	}

	m.insert(q)
	return true, message("query restored successfully", m.drainWarnings())
}

func (m *Monitor) buildQuery(uid string, f validate.Fields) *query.Query {
	q := &query.Query{
		UID:         uid,
		Alias:       f.Alias,
		URL:         f.URL,
		TargetURL:   f.TargetURL,
		Sequence:    f.Sequence,
		Mode:        query.Mode(f.Mode),
		MinMatches:  f.MinMatches,
		Interval:    f.Interval,
		Cooldown:    f.Cooldown,
		Randomize:   f.Randomize,
		ETA:         f.ETA,
		CyclesLimit: f.CyclesLimit,
		IsRecurring: f.IsRecurring,
		LastRun:     query.DefaultTime,
		LastMatchAt: query.DefaultTime,
		Status:      query.NeverRan,
	}
	matcher, _ := match.Compile(f.Sequence, f.MinMatches, f.Mode)
	q.SetMatcher(matcher)
	return q
}

// insert registers q, updating order and the alias set. Callers must hold
// m.mu.
func (m *Monitor) insert(q *query.Query) {
	if _, exists := m.queries[q.UID]; !exists {
		m.order = append(m.order, q.UID)
	}
	m.queries[q.UID] = q
	m.aliases[q.Alias] = struct{}{}
}

// remove deletes uid from queries, order, and the alias set. Callers must
// hold m.mu.
func (m *Monitor) remove(uid string) {
	q, ok := m.queries[uid]
	if !ok {
		return
	}
	delete(m.queries, uid)
	delete(m.aliases, q.Alias)
	for i, id := range m.order {
		if id == uid {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Scan concurrently evaluates every Query, dispatching due ones via a
// bounded worker pool, and returns an order-preserving Snapshot.
func (m *Monitor) Scan(ctx context.Context) (Snapshot, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := append([]string(nil), m.order...)
	now := m.clock.Now()

	executeAll(ctx, order, m.scanConcurrency, func(ctx context.Context, uid string) struct{} {
		q := m.queries[uid]
		if q == nil || !shouldRun(q, now, m.rand) {
			if q != nil {
				q.IsNew = false
			}
			return struct{}{}
		}
		m.runOne(ctx, q, now)
		return struct{}{}
	})

	out := make(map[string]State, len(order))
	for _, uid := range order {
		if q, ok := m.queries[uid]; ok {
			out[uid] = stateOf(q)
		}
	}

	return newSnapshot(order, out), "scan complete"
}

// runOne performs a single Query's fetch+match pass and applies the
// resulting state transition. It is safe to call concurrently for
// different queries since each Query is touched by exactly one goroutine
// (Scan dispatches by uid, and uids are unique within m.order).
func (m *Monitor) runOne(ctx context.Context, q *query.Query, now time.Time) {
	defer func() {
		// A panic inside one query's scan must not abort the scan
		// (spec.md §5 "failure isolation"); it converts to ConnectionLost.
		if r := recover(); r != nil {
			applyRunOutcome(q, now, false, query.ConnectionLost)
		}
	}()

	var cookies map[string]string
	if q.CookiesFilename != "" && m.storage != nil {
		cookies, _ = m.storage.LoadCookies(ctx, m.username, q.CookiesFilename)
	}
	result := m.fetcher.Fetch(ctx, q.URL, cookies)
	found := false
	status := result.Status

	if status == query.OK {
		matchResult := q.Matcher().Evaluate(result.NormalizedText)
		found = matchResult.Satisfied
		if matchResult.TotalHits == 0 && len(m.captchaKeywords) > 0 {
			if containsAny(result.NormalizedText, m.captchaKeywords) {
				status = query.AccessDenied
			}
		}
	}

	applyRunOutcome(q, now, found, status)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// CleanQueries retains Queries where found=false or is_recurring=true,
// closing resources of the rest.
func (m *Monitor) CleanQueries(ctx context.Context) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var toRemove []string
	for _, uid := range m.order {
		q := m.queries[uid]
		if q.Found && !q.IsRecurring {
			toRemove = append(toRemove, uid)
		}
	}
	for _, uid := range toRemove {
		_ = m.queries[uid].Close()
		m.remove(uid)
	}
	return true, fmt.Sprintf("removed %d completed queries", len(toRemove))
}

// Save delegates serialization and cookie persistence to the storage
// collaborator.
func (m *Monitor) Save(ctx context.Context) (bool, string) {
	m.mu.Lock()
	rows := make([]Row, 0, len(m.order))
	for _, uid := range m.order {
		rows = append(rows, rowOf(m.queries[uid]))
	}
	m.mu.Unlock()

	if m.storage == nil {
		return false, "storage unavailable"
	}
	if err := m.storage.SaveDashboard(ctx, m.username, rows); err != nil {
		return false, fmt.Sprintf("%s: %v", ErrStorage, err)
	}
	return true, "dashboard saved"
}

// Populate reads dashboard rows from storage and restores each as a Query.
func (m *Monitor) Populate(ctx context.Context) (bool, string) {
	if m.storage == nil {
		return false, "storage unavailable"
	}
	rows, err := m.storage.LoadDashboard(ctx, m.username)
	if err != nil {
		return false, fmt.Sprintf("%s: %v", ErrStorage, err)
	}

	allOK := true
	restored := 0
	for _, row := range rows {
		ok, msg := m.RestoreQuery(ctx, restoreParams(row))
		if !ok {
			allOK = false
			_ = msg
			continue
		}
		restored++
	}
	return allOK, fmt.Sprintf("restored %d of %d queries", restored, len(rows))
}

// ReloadCookies hands a {cookies_filename -> {name->value}} map to
// storage; it does not mutate Queries.
func (m *Monitor) ReloadCookies(ctx context.Context, cookies map[string]map[string]string) (bool, string) {
	if m.storage == nil {
		return false, "storage unavailable"
	}
	if err := m.storage.SaveCookies(ctx, m.username, cookies); err != nil {
		return false, fmt.Sprintf("%s: %v", ErrStorage, err)
	}
	return true, "cookies reloaded"
}

// GetSoundFile delegates to storage; on miss, storage substitutes a
// default.
func (m *Monitor) GetSoundFile(ctx context.Context, name string) ([]byte, string, error) {
	if m.storage == nil {
		return nil, "", ErrStorage
	}
	return m.storage.GetSound(ctx, m.username, name)
}

// GetQuery returns the serialized state of a single query.
func (m *Monitor) GetQuery(uid string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queries[uid]
	if !ok {
		return State{}, false
	}
	return stateOf(q), true
}

// GetAllQueries returns every query's state, in insertion order.
func (m *Monitor) GetAllQueries() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.order))
	for _, uid := range m.order {
		out[uid] = stateOf(m.queries[uid])
	}
	return newSnapshot(m.order, out)
}

func errMessage(err error) string {
	return err.Error()
}

// toParams converts an existing Query into the recognized-key param map
// validate.Validate expects, the basis EditQuery merges incoming params
// over.
func toParams(q *query.Query) map[string]any {
	return map[string]any{
		"uid":          q.UID,
		"alias":        q.Alias,
		"url":          q.URL,
		"target_url":   q.TargetURL,
		"sequence":     q.Sequence,
		"mode":         string(q.Mode),
		"min_matches":  q.MinMatches,
		"interval":     q.Interval,
		"cooldown":     q.Cooldown,
		"randomize":    q.Randomize,
		"eta":          q.ETA.Raw,
		"cycles_limit": q.CyclesLimit,
		"is_recurring": q.IsRecurring,
	}
}

func intFrom(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func boolFrom(v any) bool {
	b, _ := v.(bool)
	return b
}

func statusFrom(v any) query.Status {
	switch n := v.(type) {
	case int:
		return query.Status(n)
	case int64:
		return query.Status(n)
	case float64:
		return query.Status(n)
	case query.Status:
		return n
	default:
		return query.NeverRan
	}
}

func timeFrom(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if t == "" {
			return query.DefaultTime
		}
		parsed, err := time.Parse("2006-01-02 15:04:05", t)
		if err != nil {
			return query.DefaultTime
		}
		return parsed
	default:
		return query.DefaultTime
	}
}
