package mesh

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const sampleReportJSON = `{"beacons":[[404,-588,-901],[528,-643,409],[-838,591,734]]}`

func TestFetchReport_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected Accept: application/json, got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleReportJSON))
	}))
	defer srv.Close()

	s, err := FetchReport(context.Background(), "north", srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("FetchReport() error: %v", err)
	}
	if s.ID != "north" {
		t.Errorf("ID = %q, want north", s.ID)
	}
	if len(s.Beacons) != 3 {
		t.Errorf("len(Beacons) = %d, want 3", len(s.Beacons))
	}
}

func TestFetchReport_TextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("--- scanner 0 ---\n1,2,3\n4,5,6\n"))
	}))
	defer srv.Close()

	s, err := FetchReport(context.Background(), "south", srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("FetchReport() error: %v", err)
	}
	if s.ID != "south" || len(s.Beacons) != 2 {
		t.Errorf("got %+v", s)
	}
}

func TestFetchReport_EmptyURL(t *testing.T) {
	_, err := FetchReport(context.Background(), "north", "")
	if err == nil {
		t.Fatal("expected error for empty URL")
	}
	if !strings.Contains(err.Error(), "URL is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFetchReport_InvalidBody(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte(`{"beacons":[[1,2`))
	}))
	defer srv.Close()

	_, err := FetchReport(context.Background(), "north", srv.URL, WithHTTPClient(srv.Client()), WithMaxRetries(3))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "parsing JSON") {
		t.Errorf("expected parse error, got: %v", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("decode errors must not be retried, got %d attempts", got)
	}
}

func TestFetchReport_ServerError_Retries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sampleReportJSON))
	}))
	defer srv.Close()

	s, err := FetchReport(context.Background(), "north", srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(3),
		WithBaseBackoff(1*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("FetchReport() error: %v", err)
	}
	if s == nil {
		t.Fatal("FetchReport() returned nil report")
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestFetchReport_AllRetriesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := FetchReport(context.Background(), "north", srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(2),
		WithBaseBackoff(1*time.Millisecond),
	)
	if err == nil {
		t.Fatal("expected error after all retries exhausted")
	}
	if !strings.Contains(err.Error(), "all 2 attempts failed") {
		t.Errorf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "status 503") {
		t.Errorf("expected last status in error, got: %v", err)
	}
}

func TestFetchReport_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := FetchReport(ctx, "north", srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(10),
		WithBaseBackoff(time.Second),
	)
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation not honored, took %v", elapsed)
	}
}

func TestFetchReport_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(sampleReportJSON))
	}))
	defer srv.Close()

	_, err := FetchReport(context.Background(), "north", srv.URL,
		WithTimeout(20*time.Millisecond),
		WithMaxRetries(1),
	)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestReportFetcher_ETag(t *testing.T) {
	var etag atomic.Value
	etag.Store(`"v1"`)
	var conditional atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := etag.Load().(string)
		if inm := r.Header.Get("If-None-Match"); inm != "" {
			conditional.Add(1)
			if inm == current {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
		w.Header().Set("ETag", current)
		_, _ = w.Write([]byte(sampleReportJSON))
	}))
	defer srv.Close()

	fetcher := NewReportFetcher(WithHTTPClient(srv.Client()))
	ctx := context.Background()

	s, err := fetcher.Fetch(ctx, "north", srv.URL)
	if err != nil {
		t.Fatalf("first Fetch() error: %v", err)
	}
	if len(s.Beacons) != 3 {
		t.Errorf("len(Beacons) = %d, want 3", len(s.Beacons))
	}

	s, err = fetcher.Fetch(ctx, "north", srv.URL)
	if !errors.Is(err, ErrReportUnchanged) {
		t.Fatalf("second Fetch() error = %v, want ErrReportUnchanged", err)
	}
	if s != nil {
		t.Errorf("unchanged report should return nil, got %+v", s)
	}

	// Other scanners have no ETag yet
	if _, err := fetcher.Fetch(ctx, "south", srv.URL); err != nil {
		t.Fatalf("Fetch(south) error: %v", err)
	}

	etag.Store(`"v2"`)
	if _, err := fetcher.Fetch(ctx, "north", srv.URL); err != nil {
		t.Fatalf("Fetch() after change error: %v", err)
	}
	if got := conditional.Load(); got != 2 {
		t.Errorf("conditional requests = %d, want 2", got)
	}
}

func TestFetchReport_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := FetchReport(context.Background(), "north", srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(3),
		WithBaseBackoff(time.Millisecond),
	)
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", got)
	}
}
