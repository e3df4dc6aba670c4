package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/vodchat/chatbuf"
)

func testStatus() Status {
	return Status{
		Path: "https://www.twitch.tv/videos/123456789",
		Mode: "replay",
		Buffer: &chatbuf.Stats{
			Messages:      42,
			Authors:       7,
			RangeLo:       100,
			RangeHi:       180,
			LastRequested: 150,
		},
	}
}

func TestHealthz(t *testing.T) {
	h := NewMux(testStatus)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := NewMux(testStatus)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var got Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Mode != "replay" || got.Path != "https://www.twitch.tv/videos/123456789" {
		t.Fatalf("status = %+v", got)
	}
	if got.Buffer == nil || got.Buffer.Messages != 42 || got.Buffer.LastRequested != 150 {
		t.Fatalf("buffer stats = %+v", got.Buffer)
	}
}

func TestStatusOmitsBufferWhenIdle(t *testing.T) {
	h := NewMux(func() Status { return Status{Mode: "idle"} })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var raw map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := raw["buffer"]; ok {
		t.Fatalf("idle status should omit buffer: %v", raw)
	}
}

func TestCorrelationIDGenerated(t *testing.T) {
	h := NewMux(testStatus)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Fatal("no correlation id assigned")
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	h := NewMux(testStatus)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Fatalf("correlation id = %q, want corr-123", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewMux(testStatus)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("empty metrics body")
	}
}
