package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmagro/querywatch/internal/query"
)

func TestFetchNormalizesHTMLToLowercaseText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>Hello WORLD</p></body></html>`))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second})
	result := f.Fetch(context.Background(), srv.URL, nil)

	if result.Status != query.OK {
		t.Fatalf("Status = %v, want OK", result.Status)
	}
	if result.NormalizedText != "hello world " {
		t.Fatalf("NormalizedText = %q", result.NormalizedText)
	}
}

func TestFetchAttachesCookiesAndUserAgent(t *testing.T) {
	var gotUA string
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second, UserAgent: "querywatch-test/1.0"})
	f.Fetch(context.Background(), srv.URL, map[string]string{"session": "abc123"})

	if gotUA != "querywatch-test/1.0" {
		t.Fatalf("User-Agent = %q, want querywatch-test/1.0", gotUA)
	}
	if gotCookie != "abc123" {
		t.Fatalf("cookie session = %q, want abc123", gotCookie)
	}
}

func TestFetchConnectionFailureMapsToConnectionLost(t *testing.T) {
	f := New(Config{Timeout: 500 * time.Millisecond})
	result := f.Fetch(context.Background(), "http://127.0.0.1:1/unreachable", nil)
	if result.Status != query.ConnectionLost {
		t.Fatalf("Status = %v, want ConnectionLost", result.Status)
	}
}

func TestFetchNeverReportsAccessDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("permission denied, go away"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second})
	result := f.Fetch(context.Background(), srv.URL, nil)
	if result.Status != query.OK {
		t.Fatalf("Status = %v, want OK — the Fetcher never decides AccessDenied itself", result.Status)
	}
}
