package monitor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmagro/querywatch/internal/clock"
	"github.com/dmagro/querywatch/internal/eta"
	"github.com/dmagro/querywatch/internal/fetch"
	"github.com/dmagro/querywatch/internal/query"
)

// fakeStorage is an in-memory stand-in for the sqlite-backed Storage,
// enough to exercise Save/Populate round trips without a real database.
type fakeStorage struct {
	mu      sync.Mutex
	rows    map[string][]Row
	sound   map[string][]byte
	cookies map[string]map[string]map[string]string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		rows:    make(map[string][]Row),
		sound:   make(map[string][]byte),
		cookies: make(map[string]map[string]map[string]string),
	}
}

func (f *fakeStorage) LoadDashboard(ctx context.Context, username string) ([]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Row(nil), f.rows[username]...), nil
}

func (f *fakeStorage) SaveDashboard(ctx context.Context, username string, rows []Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[username] = append([]Row(nil), rows...)
	return nil
}

func (f *fakeStorage) SaveCookies(ctx context.Context, username string, cookies map[string]map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cookies[username] == nil {
		f.cookies[username] = make(map[string]map[string]string)
	}
	for filename, values := range cookies {
		f.cookies[username][filename] = values
	}
	return nil
}

func (f *fakeStorage) LoadCookies(ctx context.Context, username, filename string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cookies[username][filename], nil
}

func (f *fakeStorage) GetSound(ctx context.Context, username, name string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.sound[name]; ok {
		return b, name, nil
	}
	return []byte("default"), "default.wav", nil
}

func newTestMonitor(t *testing.T, c clock.Clock, r clock.Rand, storage Storage) *Monitor {
	t.Helper()
	if c == nil {
		c = clock.NewManual(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	}
	if r == nil {
		r = clock.Fixed(0)
	}
	return New(Config{
		Username:    "alice",
		Fetcher:     fetch.New(fetch.Config{Timeout: 5 * time.Second}),
		Storage:     storage,
		Clock:       c,
		Rand:        r,
		MinInterval: 5,
	})
}

func textServer(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
}

func firstUID(snap Snapshot) string {
	order := snap.Order()
	if len(order) == 0 {
		return ""
	}
	return order[0]
}

// Scenario 1: add, match, rearm.
func TestScanAddMatchRearm(t *testing.T) {
	srv := textServer("<html><body>hello world</body></html>")
	defer srv.Close()

	c := clock.NewManual(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	m := newTestMonitor(t, c, nil, nil)

	ok, msg := m.AddQuery(context.Background(), map[string]any{
		"url":          srv.URL,
		"sequence":     "world",
		"interval":     15,
		"is_recurring": true,
	})
	if !ok {
		t.Fatalf("AddQuery failed: %s", msg)
	}

	snap, _ := m.Scan(context.Background())
	uid := firstUID(snap)
	st, _ := snap.Get(uid)
	if !st.Found || st.Cycles != 1 || st.Status != query.OK {
		t.Fatalf("after first scan: %+v", st)
	}
	if !st.LastMatchAt.Equal(c.Now()) {
		t.Fatalf("LastMatchAt = %v, want %v", st.LastMatchAt, c.Now())
	}

	c.Advance(20 * time.Minute)
	snap, _ = m.Scan(context.Background())
	st, _ = snap.Get(uid)
	if st.Status != query.OK || st.Cycles != 2 {
		t.Fatalf("after second scan: %+v", st)
	}
}

// Scenario 2: AccessDenied gating.
func TestScanAccessDenied(t *testing.T) {
	srv := textServer("<html><body>permission denied</body></html>")
	defer srv.Close()

	m := newTestMonitor(t, nil, nil, nil)
	m.SetCaptchaKeywords([]string{"permission denied"})

	ok, msg := m.AddQuery(context.Background(), map[string]any{
		"url":          srv.URL,
		"sequence":     "world",
		"interval":     15,
		"is_recurring": true,
	})
	if !ok {
		t.Fatalf("AddQuery failed: %s", msg)
	}

	snap, _ := m.Scan(context.Background())
	uid := firstUID(snap)
	st, _ := snap.Get(uid)
	if st.Found {
		t.Fatal("access-denied response should not count as found")
	}
	if st.Status != query.AccessDenied {
		t.Fatalf("Status = %v, want AccessDenied", st.Status)
	}
	if st.Cycles != 1 {
		t.Fatalf("Cycles = %d, want 1 (AccessDenied still consumes a cycle)", st.Cycles)
	}
}

// Scenario 3: ConnectionLost fast-retry.
func TestScanConnectionLostFastRetry(t *testing.T) {
	m := newTestMonitor(t, nil, nil, nil)

	ok, msg := m.AddQuery(context.Background(), map[string]any{
		"url":          "http://127.0.0.1:1/unreachable",
		"sequence":     "world",
		"interval":     15,
		"is_recurring": true,
	})
	if !ok {
		t.Fatalf("AddQuery failed: %s", msg)
	}

	snap, _ := m.Scan(context.Background())
	uid := firstUID(snap)
	st, _ := snap.Get(uid)
	if st.Status != query.ConnectionLost || st.Cycles != 0 {
		t.Fatalf("after first scan: %+v", st)
	}

	// Without advancing the clock, a ConnectionLost query must run again
	// immediately (spec.md §4.2's recovery fast-path).
	snap2, _ := m.Scan(context.Background())
	st2, _ := snap2.Get(uid)
	if !st2.IsNew {
		t.Fatal("expected the connection-lost query to re-run immediately")
	}
}

// Scenario 4: ETA filter. should_run's recovery fast-path (spec.md §4.2
// point 1) only fires for a NeverRan/ConnectionLost query, so the ETA gate
// is exercised here on a query that has already completed at least one
// cycle (Status=OK), isolating point 3 from point 1.
func TestScheduleETAFilter(t *testing.T) {
	spec, warnings := eta.Parse("saturday,16-18")
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	q := &query.Query{
		Status:   query.OK,
		Found:    false,
		Interval: 15,
		Cooldown: 15,
		ETA:      spec,
		LastRun:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	saturday1500 := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)
	if shouldRun(q, saturday1500, clock.Fixed(0)) {
		t.Fatal("at 15:00 the ETA gate should keep the query from running")
	}

	saturday1730 := time.Date(2024, 6, 1, 17, 30, 0, 0, time.UTC)
	if !shouldRun(q, saturday1730, clock.Fixed(0)) {
		t.Fatal("at 17:30 the ETA gate should allow the query to run")
	}
}

// Scenario 5: duplicate alias.
func TestAddQueryDuplicateAlias(t *testing.T) {
	m := newTestMonitor(t, nil, nil, nil)

	ok, msg := m.AddQuery(context.Background(), map[string]any{
		"url": "http://example.com/a", "sequence": "x", "interval": 15, "alias": "a",
	})
	if !ok {
		t.Fatalf("first AddQuery failed: %s", msg)
	}

	ok, msg = m.AddQuery(context.Background(), map[string]any{
		"url": "http://example.com/b", "sequence": "x", "interval": 15, "alias": "a",
	})
	if ok {
		t.Fatal("second AddQuery with a duplicate alias should fail")
	}

	all := m.GetAllQueries()
	if all.Len() != 1 {
		t.Fatalf("GetAllQueries().Len() = %d, want 1 (first query must remain intact)", all.Len())
	}
}

// Scenario 6: restore recurring re-arm.
func TestPopulateRestoresRecurringFoundAsFalse(t *testing.T) {
	storage := newFakeStorage()
	storage.rows["alice"] = []Row{{
		UID:         "q1",
		Alias:       "a",
		URL:         "http://example.com",
		TargetURL:   "http://example.com",
		Sequence:    "world",
		Mode:        "exists",
		MinMatches:  1,
		Interval:    15,
		Cooldown:    15,
		IsRecurring: true,
		Found:       true,
		LastRun:     query.DefaultTime,
		LastMatchAt: query.DefaultTime,
	}}

	m := newTestMonitor(t, nil, nil, storage)
	ok, _ := m.Populate(context.Background())
	if !ok {
		t.Fatal("Populate should succeed")
	}

	st, ok := m.GetQuery("q1")
	if !ok {
		t.Fatal("expected restored query q1")
	}
	if st.Found {
		t.Fatal("a recurring query must persist/restore with found=false so it re-arms")
	}
}

// Warnings must be empty on entry to the next public call.
func TestWarningsDrainedEachCall(t *testing.T) {
	m := newTestMonitor(t, nil, nil, nil)
	ok, msg := m.AddQuery(context.Background(), map[string]any{
		"url": "http://example.com", "sequence": "x", "interval": "2",
	})
	if !ok {
		t.Fatalf("AddQuery failed: %s", msg)
	}
	if !strings.Contains(msg, "interval too low") {
		t.Fatalf("expected a clamp warning in the message, got %q", msg)
	}
	if len(m.warnings) != 0 {
		t.Fatal("warning set must be empty after the call returns")
	}
}

func TestCyclesLimitNegativeNeverRuns(t *testing.T) {
	srv := textServer("world")
	defer srv.Close()

	m := newTestMonitor(t, nil, nil, nil)
	ok, _ := m.AddQuery(context.Background(), map[string]any{
		"url": srv.URL, "sequence": "world", "interval": 5, "cycles_limit": -1,
	})
	if !ok {
		t.Fatal("AddQuery should succeed")
	}
	snap, _ := m.Scan(context.Background())
	uid := firstUID(snap)
	st, _ := snap.Get(uid)
	if st.Status != query.NeverRan {
		t.Fatalf("a disabled (cycles_limit<0) query must never run: %+v", st)
	}
}

func TestEditQueryPreservesRuntimeState(t *testing.T) {
	srv := textServer("world")
	defer srv.Close()

	m := newTestMonitor(t, nil, nil, nil)
	m.AddQuery(context.Background(), map[string]any{
		"url": srv.URL, "sequence": "world", "interval": 5,
	})
	snap, _ := m.Scan(context.Background())
	uid := firstUID(snap)
	before, _ := snap.Get(uid)
	if before.Cycles != 1 {
		t.Fatalf("precondition: Cycles = %d, want 1", before.Cycles)
	}

	ok, msg := m.EditQuery(context.Background(), map[string]any{
		"uid": uid, "url": srv.URL, "sequence": "world", "interval": 30,
	})
	if !ok {
		t.Fatalf("EditQuery failed: %s", msg)
	}
	after, _ := m.GetQuery(uid)
	if after.Cycles != before.Cycles {
		t.Fatalf("EditQuery must preserve cycles: before=%d after=%d", before.Cycles, after.Cycles)
	}
	if after.Interval != 30 {
		t.Fatalf("Interval = %d, want 30", after.Interval)
	}
}

func TestDeleteQueryUnknownUIDFails(t *testing.T) {
	m := newTestMonitor(t, nil, nil, nil)
	if ok, _ := m.DeleteQuery(context.Background(), "nope"); ok {
		t.Fatal("deleting an unknown uid should fail")
	}
}

func TestCleanQueriesRetainsRecurringAndUnfound(t *testing.T) {
	foundSrv := textServer("world")
	defer foundSrv.Close()
	notFoundSrv := textServer("nothing here")
	defer notFoundSrv.Close()

	m := newTestMonitor(t, nil, nil, nil)
	m.AddQuery(context.Background(), map[string]any{
		"url": foundSrv.URL, "sequence": "world", "interval": 5, "is_recurring": false,
	})
	m.AddQuery(context.Background(), map[string]any{
		"url": notFoundSrv.URL, "sequence": "world", "interval": 5, "is_recurring": false,
	})
	m.AddQuery(context.Background(), map[string]any{
		"url": foundSrv.URL, "sequence": "world", "interval": 5, "is_recurring": true,
		"alias": "recurring",
	})

	m.Scan(context.Background())
	ok, _ := m.CleanQueries(context.Background())
	if !ok {
		t.Fatal("CleanQueries should succeed")
	}

	remaining := m.GetAllQueries()
	if remaining.Len() != 2 {
		t.Fatalf("expected 2 remaining queries (unfound + found recurring; found+non-recurring removed), got %d", remaining.Len())
	}
}

func TestScanPreservesInsertionOrder(t *testing.T) {
	srv := textServer("world")
	defer srv.Close()

	m := newTestMonitor(t, nil, nil, nil)
	var uids []string
	for i := 0; i < 5; i++ {
		ok, _ := m.AddQuery(context.Background(), map[string]any{
			"url": srv.URL, "sequence": "world", "interval": 5,
			"alias": fmt.Sprintf("q%d", i),
		})
		if !ok {
			t.Fatalf("AddQuery %d failed", i)
		}
	}
	all := m.GetAllQueries()
	uids = all.Order()

	snap, _ := m.Scan(context.Background())
	if fmt.Sprint(snap.Order()) != fmt.Sprint(uids) {
		t.Fatalf("Scan order = %v, want insertion order %v", snap.Order(), uids)
	}
}

// TestScanLoadsCookiesByFilename verifies Monitor looks up a query's
// cookies_filename in storage and forwards the name->value map to the
// Fetcher, instead of always fetching cookie-less (spec.md §3's
// cookies_filename "opaque handle into the storage collaborator's cookie
// store" and §4.6's "Inputs: url, cookie map, user-agent header").
func TestScanLoadsCookiesByFilename(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
		}
		fmt.Fprint(w, "world")
	}))
	defer srv.Close()

	storage := newFakeStorage()
	if err := storage.SaveCookies(context.Background(), "alice", map[string]map[string]string{
		"jar.json": {"session": "abc123"},
	}); err != nil {
		t.Fatalf("SaveCookies: %v", err)
	}

	m := newTestMonitor(t, nil, nil, storage)
	ok, _ := m.RestoreQuery(context.Background(), map[string]any{
		"uid": "q1", "url": srv.URL, "sequence": "world", "interval": 5,
		"cookies_filename": "jar.json",
	})
	if !ok {
		t.Fatal("RestoreQuery failed")
	}

	m.Scan(context.Background())
	if gotCookie != "abc123" {
		t.Fatalf("server observed cookie %q, want abc123", gotCookie)
	}
}

// TestScanBoundsConcurrency verifies Scan never runs more than
// ScanConcurrency fetches at once (spec.md §5's "bounded worker pool"),
// even when many more queries than that are due simultaneously.
func TestScanBoundsConcurrency(t *testing.T) {
	const limit = 2
	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
		release  = make(chan struct{})
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()
		<-release
		mu.Lock()
		inFlight--
		mu.Unlock()
		fmt.Fprint(w, "world")
	}))
	defer srv.Close()

	m := New(Config{
		Username:        "alice",
		Fetcher:         fetch.New(fetch.Config{Timeout: 5 * time.Second}),
		Clock:           clock.NewManual(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		Rand:            clock.Fixed(0),
		MinInterval:     5,
		ScanConcurrency: limit,
	})
	for i := 0; i < limit*3; i++ {
		m.AddQuery(context.Background(), map[string]any{
			"url": srv.URL, "sequence": "world", "interval": 5,
			"alias": fmt.Sprintf("q%d", i),
		})
	}

	done := make(chan struct{})
	go func() {
		m.Scan(context.Background())
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if maxSeen > limit {
		t.Fatalf("observed %d concurrent fetches, want at most %d", maxSeen, limit)
	}
}
