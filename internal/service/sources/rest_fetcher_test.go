package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func quoteServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchMapsQuote(t *testing.T) {
	srv := quoteServer(t, http.StatusOK,
		`{"symbol":"AAPL","timestamp":1748779200000,"open":149,"high":151,"low":148,"close":150,"volume":1000,"previous_close":145}`)

	f, err := NewRESTFetcher(Config{ID: "rest", BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	snap, err := f.Fetch(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap.Symbol != "AAPL" || snap.Timestamp != 1748779200000 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if price, _ := snap.Price(); price != 150 {
		t.Fatalf("expected close 150, got %v", price)
	}
	if snap.PreviousClose == nil || *snap.PreviousClose != 145 {
		t.Fatalf("expected previous close mapped")
	}
}

func TestFetchAuthHeaderAndQuery(t *testing.T) {
	var gotKey, gotSymbol string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotSymbol = r.URL.Query().Get("symbol")
		fmt.Fprint(w, `{"symbol":"MSFT","timestamp":1748779200000,"close":410}`)
	}))
	t.Cleanup(srv.Close)

	f, err := NewRESTFetcher(Config{ID: "rest", BaseURL: srv.URL, APIKey: "secret"}, nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	if _, err := f.Fetch(context.Background(), "MSFT"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotKey != "secret" || gotSymbol != "MSFT" {
		t.Fatalf("unexpected request key=%q symbol=%q", gotKey, gotSymbol)
	}
}

func TestFetchUpstreamError(t *testing.T) {
	srv := quoteServer(t, http.StatusBadGateway, `upstream down`)

	f, err := NewRESTFetcher(Config{ID: "rest", BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	if _, err := f.Fetch(context.Background(), "AAPL"); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestFetchRateLimited(t *testing.T) {
	srv := quoteServer(t, http.StatusOK, `{"symbol":"AAPL","timestamp":1748779200000,"close":150}`)

	f, err := NewRESTFetcher(Config{
		ID: "rest", BaseURL: srv.URL,
		RateCapacity: 2, RatePerSec: 0.001,
	}, nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(context.Background(), "AAPL"); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	_, err = f.Fetch(context.Background(), "AAPL")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	f, err := NewRESTFetcher(Config{ID: "rest", BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	if _, err := f.Fetch(context.Background(), "AAPL"); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := NewRESTFetcher(Config{BaseURL: "http://x"}, nil); err == nil {
		t.Fatalf("expected missing id rejected")
	}
	if _, err := NewRESTFetcher(Config{ID: "rest"}, nil); err == nil {
		t.Fatalf("expected missing base url rejected")
	}
}
