// Package oracletest serves a mux-routed fake price feed for tests.
package oracletest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"
)

// Feed is an httptest-backed price feed.
type Feed struct {
	srv *httptest.Server

	mu               sync.Mutex
	price            string
	failures         int
	requireKeyHeader string
	requireKey       string
}

// NewFeed starts a feed serving the given price on /price
// and a gecko_says message on /ping.
// Call Close when done.
func NewFeed(price string) *Feed {
	f := &Feed{price: price}

	r := mux.NewRouter()
	r.HandleFunc("/price", f.handlePrice).Methods("GET")
	r.HandleFunc("/ping", f.handlePing).Methods("GET")

	f.srv = httptest.NewServer(r)
	return f
}

// URL returns the base URL of the feed server.
func (f *Feed) URL() string {
	return f.srv.URL
}

// Close shuts the server down.
func (f *Feed) Close() {
	f.srv.Close()
}

// SetPrice changes the price served from now on.
func (f *Feed) SetPrice(price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
}

// FailNext makes the next n requests return HTTP 500.
func (f *Feed) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

// RequireAPIKey makes the feed reject requests
// missing the given header/value pair with HTTP 401.
func (f *Feed) RequireAPIKey(header, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requireKeyHeader = header
	f.requireKey = key
}

func (f *Feed) gate(w http.ResponseWriter, req *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return false
	}
	if f.requireKeyHeader != "" && req.Header.Get(f.requireKeyHeader) != f.requireKey {
		http.Error(w, "missing or wrong API key", http.StatusUnauthorized)
		return false
	}
	return true
}

func (f *Feed) handlePrice(w http.ResponseWriter, req *http.Request) {
	if !f.gate(w, req) {
		return
	}

	f.mu.Lock()
	price := f.price
	f.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]string{"price": price})
}

func (f *Feed) handlePing(w http.ResponseWriter, req *http.Request) {
	if !f.gate(w, req) {
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"gecko_says": "(V3) To the Moon!"})
}
