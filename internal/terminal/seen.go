package terminal

import "sync"

// SeenTracker remembers which target URLs this client session has already
// notified the user about, so a login doesn't re-announce a match the user
// already opened. Grounded in the original TUI's unmark_matches_on_init,
// which tracks a `seen` set of target URLs populated at login time; purely
// client-side I/O state, out of Monitor's scope per spec.md §1.
type SeenTracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewSeenTracker returns an empty tracker.
func NewSeenTracker() *SeenTracker {
	return &SeenTracker{seen: make(map[string]struct{})}
}

// MarkAllSeen records every already-found target URL in targetURLs as seen,
// called once right after login so a user isn't re-notified about matches
// that were already true before this session started.
func (s *SeenTracker) MarkAllSeen(targetURLs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, url := range targetURLs {
		s.seen[url] = struct{}{}
	}
}

// ShouldNotify reports whether targetURL has not yet been announced, and
// marks it seen as a side effect so a second call for the same URL returns
// false.
func (s *SeenTracker) ShouldNotify(targetURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[targetURL]; ok {
		return false
	}
	s.seen[targetURL] = struct{}{}
	return true
}
