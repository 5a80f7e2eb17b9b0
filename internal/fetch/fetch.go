// Package fetch executes a single HTTP GET on behalf of a Query, returning
// normalized page text and a coarse status. It deliberately does not
// retry: a change-monitoring tool that retried failed fetches would mask
// the very connectivity problems it exists to surface, the same judgment
// call the teacher's rpc.Client documents for its own no-retry policy.
package fetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/dmagro/querywatch/internal/query"
)

// Fetcher performs HTTP GETs and normalizes the response body to lower-cased
// text. A single Fetcher is shared across every Query in a Monitor (and
// across Monitors); it holds no per-query state, matching the stateless
// "shared collaborator" role spec.md §1 assigns it.
type Fetcher struct {
	client    *http.Client
	userAgent string

	dumpEnabled bool
	dumpDir     string
}

// Config parameterizes a Fetcher.
type Config struct {
	Timeout     time.Duration
	UserAgent   string
	DumpEnabled bool
	DumpDir     string
}

// New builds a Fetcher with its own dedicated http.Client, mirroring the
// teacher's rpc.Client pattern of one configured client per collaborator
// instance rather than reaching for http.DefaultClient.
func New(cfg Config) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "querywatch/1.0"
	}
	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		userAgent:   ua,
		dumpEnabled: cfg.DumpEnabled,
		dumpDir:     cfg.DumpDir,
	}
}

// SetDumpEnabled toggles the page-dump side effect at runtime, the wiring
// point for a config-reload fan-out (spec.md §4.7).
func (f *Fetcher) SetDumpEnabled(enabled bool) { f.dumpEnabled = enabled }

// Result is what a single fetch yields: normalized text and a status. The
// Fetcher never reports AccessDenied itself — per spec.md §4.6 that
// determination belongs to the MatchEngine, after it has seen the text.
type Result struct {
	NormalizedText string
	Status         query.Status
}

// Fetch performs the GET, attaching cookies and the configured
// user-agent, and returns normalized (lower-cased, HTML-stripped) text. Any
// network-level failure — DNS, connection refused, reset, timeout, or
// context cancellation — maps to ConnectionLost rather than propagating a
// raw error, since the scan dispatcher isolates per-query failures (spec.md
// §5's "failure isolation" requirement) and has no use for a Go error
// value once it has a Status.
func (f *Fetcher) Fetch(ctx context.Context, url string, cookies map[string]string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Status: query.ConnectionLost}
	}
	req.Header.Set("User-Agent", f.userAgent)
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := f.client.Do(req)
	if err != nil {
		// DNS failures, connection refused, resets, timeouts, and context
		// cancellation all surface here as *url.Error; none of them are
		// MatchEngine's AccessDenied call to make, so they all collapse to
		// ConnectionLost.
		return Result{Status: query.ConnectionLost}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Status: query.ConnectionLost}
	}

	normalized := strings.ToLower(htmlToText(body))

	if f.dumpEnabled {
		f.dumpPage(url, normalized)
	}

	return Result{NormalizedText: normalized, Status: query.OK}
}

// htmlToText walks the document's token stream and concatenates text-node
// data in document order, the Go-idiomatic equivalent of the original's
// BeautifulSoup(html, "html.parser") text-extraction pass.
func htmlToText(body []byte) string {
	tokenizer := html.NewTokenizer(strings.NewReader(string(body)))
	var sb strings.Builder
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			sb.Write(tokenizer.Text())
			sb.WriteByte(' ')
		}
	}
}

// dumpPage writes normalized text to the dump directory under a
// filesystem-safe name derived from url, grounded in the original
// Query.dump_page_content's allowed-character filtering. Failures are
// swallowed: the page dump is diagnostic tooling, not part of the
// observable contract, and must never fail a scan.
func (f *Fetcher) dumpPage(url, text string) {
	if f.dumpDir == "" {
		return
	}
	if err := os.MkdirAll(f.dumpDir, 0o755); err != nil {
		return
	}
	name := safeFilename(url)
	path := filepath.Join(f.dumpDir, name+".txt")
	_ = os.WriteFile(path, []byte(text), 0o644)
}

const allowedFilenameChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_."

// safeFilename derives a filesystem-safe stem from a URL: characters
// outside the allowed set become underscores, and a short hash suffix is
// appended to keep very similar URLs from colliding on a truncated name.
func safeFilename(url string) string {
	var sb strings.Builder
	for _, r := range url {
		if strings.ContainsRune(allowedFilenameChars, r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	stem := sb.String()
	if len(stem) > 80 {
		stem = stem[:80]
	}
	sum := sha1.Sum([]byte(url))
	return fmt.Sprintf("%s_%s", stem, hex.EncodeToString(sum[:])[:8])
}
