package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"milepost/pkg/config"
)

func testConfig(baseURL string) *config.GeocoderConfig {
	return &config.GeocoderConfig{
		Enabled:         true,
		BaseURL:         baseURL,
		UserAgent:       "milepost-test/1.0",
		Timeout:         config.Duration(2 * time.Second),
		CacheResolution: 10,
	}
}

func TestReverseShortAddress(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if r.URL.Path != "/reverse" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"display_name":"1 Pike Pl, Seattle, King County, Washington, USA","address":{"road":"Pike Place","city":"Seattle","state":"Washington"}}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	addr, err := c.Reverse(context.Background(), 47.6097, -122.3422)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if addr != "Pike Place, Seattle" {
		t.Errorf("addr = %q, want Pike Place, Seattle", addr)
	}
	if gotUA != "milepost-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestReverseCachesPerCell(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"address":{"road":"Main St","city":"Springfield"}}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	ctx := context.Background()

	// Two fixes a few meters apart fall in the same resolution-10 cell.
	if _, err := c.Reverse(ctx, 47.60620, -122.33210); err != nil {
		t.Fatalf("first Reverse: %v", err)
	}
	if _, err := c.Reverse(ctx, 47.60621, -122.33211); err != nil {
		t.Fatalf("second Reverse: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1 (second fix should hit cache)", n)
	}

	// A fix a few miles away is a different cell.
	if _, err := c.Reverse(ctx, 47.70, -122.33); err != nil {
		t.Fatalf("third Reverse: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestReverseFallsBackToDisplayName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"display_name":"Somewhere remote"}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	addr, err := c.Reverse(context.Background(), 64.2, -149.5)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if addr != "Somewhere remote" {
		t.Errorf("addr = %q", addr)
	}
}

func TestReverseErrorReturnsCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	addr, err := c.Reverse(context.Background(), 47.6062, -122.3321)
	if err == nil {
		t.Error("expected error from 503")
	}
	if addr != "47.606200, -122.332100" {
		t.Errorf("fallback = %q", addr)
	}
}

func TestDisabledReverser(t *testing.T) {
	addr, err := Disabled{}.Reverse(context.Background(), 1.5, -2.25)
	if err != nil {
		t.Fatalf("Disabled.Reverse: %v", err)
	}
	if addr != "1.500000, -2.250000" {
		t.Errorf("addr = %q", addr)
	}
}
