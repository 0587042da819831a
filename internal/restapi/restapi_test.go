package restapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestHandleHealthReportsZeroClientsWithoutProxy exercises the one handler
// that touches no store dependency, since the rest require a live Mongo
// connection this package's tests deliberately don't stand up.
func TestHandleHealthReportsZeroClientsWithoutProxy(t *testing.T) {
	s := New(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["clients"].(float64) != 0 {
		t.Fatalf("expected 0 clients without a proxy, got %v", body["clients"])
	}
}

func TestWriteErrorSetsStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusNotFound, "no such user")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "no such user" {
		t.Fatalf("expected error message, got %v", body["error"])
	}
}
