package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotFound_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()
	NotFound(rr, "course not found", "rid-1")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "NOT_FOUND" || body.Error.RequestID != "rid-1" {
		t.Fatalf("unexpected envelope: %+v", body.Error)
	}
}

func TestInternal_HidesDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	Internal(rr, "")
	var body ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "INTERNAL" || body.Error.Details != nil {
		t.Fatalf("unexpected envelope: %+v", body.Error)
	}
}

func TestInvalidID_NamesField(t *testing.T) {
	rr := httptest.NewRecorder()
	InvalidID(rr, "course_id", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != CodeInvalidID || body.Error.Details["field"] != "course_id" {
		t.Fatalf("unexpected envelope: %+v", body.Error)
	}
}
