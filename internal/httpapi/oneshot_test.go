package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"driftdb/internal/store"
)

func TestOneShotSendAppendAndGetRoundTrip(t *testing.T) {
	dir := store.NewDirectory(fixedIDs{id: "unused"})
	oneShot := NewOneShot(dir)

	appendReq := httptest.NewRequest(http.MethodPost, "/room/r1/send",
		strings.NewReader(`{"type":"push","key":"chat","action":{"type":"append"},"value":"hi"}`))
	w := httptest.NewRecorder()
	oneShot.Send(w, appendReq, "r1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on append, got %d: %s", w.Code, w.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodPost, "/room/r1/send",
		strings.NewReader(`{"type":"get","key":"chat"}`))
	w = httptest.NewRecorder()
	oneShot.Send(w, getReq, "r1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"hi"`) {
		t.Fatalf("expected the appended value in the response, got %s", w.Body.String())
	}
}

func TestOneShotSendCompactRejectsFutureSeq(t *testing.T) {
	dir := store.NewDirectory(fixedIDs{id: "unused"})
	oneShot := NewOneShot(dir)

	req := httptest.NewRequest(http.MethodPost, "/room/r1/send",
		strings.NewReader(`{"type":"push","key":"chat","action":{"type":"compact","seq":5},"value":"reset"}`))
	w := httptest.NewRecorder()
	oneShot.Send(w, req, "r1")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a compaction target that was never appended, got %d", w.Code)
	}
}

func TestOneShotSendRejectsMalformedBody(t *testing.T) {
	dir := store.NewDirectory(fixedIDs{id: "unused"})
	oneShot := NewOneShot(dir)

	req := httptest.NewRequest(http.MethodPost, "/room/r1/send", strings.NewReader(`not json`))
	w := httptest.NewRecorder()
	oneShot.Send(w, req, "r1")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", w.Code)
	}
}

func TestOneShotSendRejectsSubscribeType(t *testing.T) {
	dir := store.NewDirectory(fixedIDs{id: "unused"})
	oneShot := NewOneShot(dir)

	req := httptest.NewRequest(http.MethodPost, "/room/r1/send",
		strings.NewReader(`{"type":"subscribe","key":"chat"}`))
	w := httptest.NewRecorder()
	oneShot.Send(w, req, "r1")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a subscription, which has no one-shot equivalent, got %d", w.Code)
	}
}
