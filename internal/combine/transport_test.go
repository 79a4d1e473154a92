package combine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tanq16/stitch/internal/utils"
)

var fastRetry = utils.RetryConfig{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func serveBytes(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write([]byte(body))
	}
}

func TestHTTPTransportReportsProgress(t *testing.T) {
	server := httptest.NewServer(serveBytes("piece payload"))
	defer server.Close()

	transport := NewHTTPTransport(server.Client(), WithRetry(fastRetry))
	var lastLoaded, lastTotal int64
	data, err := transport.Fetch(context.Background(), server.URL+"/split/a", func(loaded, total int64) {
		lastLoaded, lastTotal = loaded, total
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "piece payload" {
		t.Errorf("data = %q", data)
	}
	if lastLoaded != 13 || lastTotal != 13 {
		t.Errorf("last tick = %d/%d, want 13/13", lastLoaded, lastTotal)
	}
}

func TestHTTPTransportRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		serveBytes("ok")(w, r)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.Client(), WithRetry(fastRetry))
	data, err := transport.Fetch(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ok" || calls.Load() != 3 {
		t.Errorf("data = %q after %d calls", data, calls.Load())
	}
}

func TestHTTPTransportGivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.Client(), WithRetry(fastRetry))
	_, err := transport.Fetch(context.Background(), server.URL, nil)
	if !errors.Is(err, ErrServerError) || !errors.Is(err, ErrTransport) {
		t.Fatalf("got %v, want server error", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestHTTPTransportDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.Client(), WithRetry(fastRetry))
	_, err := transport.Fetch(context.Background(), server.URL, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestHTTPTransportCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	transport := NewHTTPTransport(server.Client(), WithRetry(fastRetry))
	if _, err := transport.Fetch(ctx, server.URL, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestHTTPTransportRateLimited(t *testing.T) {
	server := httptest.NewServer(serveBytes(strings.Repeat("x", 4096)))
	defer server.Close()

	transport := NewHTTPTransport(server.Client(), WithRetry(fastRetry), WithRateLimit(1<<20))
	data, err := transport.Fetch(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 4096 {
		t.Errorf("len = %d", len(data))
	}
}

func TestReadBodyLengthMismatch(t *testing.T) {
	_, err := readBody(context.Background(), strings.NewReader("short"), 10, nil, nil)
	if !errors.Is(err, ErrShortBody) {
		t.Fatalf("got %v, want short body", err)
	}
}

func TestReadBodyUnknownLength(t *testing.T) {
	ticks := 0
	data, err := readBody(context.Background(), strings.NewReader("abc"), -1, nil, func(int64, int64) { ticks++ })
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "abc" || ticks != 0 {
		t.Errorf("data = %q, ticks = %d", data, ticks)
	}
}

func TestRouterDispatchesByScheme(t *testing.T) {
	server := httptest.NewServer(serveBytes("routed"))
	defer server.Close()

	router := NewRouter().Handle("http", NewHTTPTransport(server.Client()))
	data, err := router.Fetch(context.Background(), server.URL, nil)
	if err != nil || string(data) != "routed" {
		t.Fatalf("fetch = %q, %v", data, err)
	}
	_, err = router.Fetch(context.Background(), "ftp://example.com/x", nil)
	if !errors.Is(err, utils.ErrUnsupportedScheme) {
		t.Fatalf("got %v, want unsupported scheme", err)
	}
}

func TestResolveLocation(t *testing.T) {
	base, err := parseBase("https://cdn.example.com/build")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct{ in, want string }{
		{DefaultLocationFilter("/game.data0"), "https://cdn.example.com/build/split/game.data0"},
		{"https://other.example.com/x", "https://other.example.com/x"},
		{"s3://bucket/key", "s3://bucket/key"},
	}
	for _, tt := range tests {
		got, err := resolveLocation(base, tt.in)
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := parseBase("relative/path"); err == nil {
		t.Error("relative base accepted")
	}
}

func TestEmptyPrefixStaysUnderBase(t *testing.T) {
	base, _ := parseBase("https://cdn.example.com/build/")
	got, err := resolveLocation(base, PrefixFilter("")("/game.data0"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://cdn.example.com/build/game.data0" {
		t.Errorf("got %s", got)
	}
}
