package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xcbridge/xcbridge/internal/convo"
)

func newTestMux(manager *convo.Manager) http.Handler {
	mux := http.NewServeMux()
	NewDebugViewer(manager, "").Register(mux)
	return mux
}

func TestDebugIndexListsConversations(t *testing.T) {
	manager := convo.NewManager()
	manager.Create()

	req := httptest.NewRequest(http.MethodGet, "/debug/conversations", nil)
	rec := httptest.NewRecorder()
	newTestMux(manager).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "convo-list") {
		t.Errorf("expected conversation list in body, got %s", rec.Body.String())
	}
}

func TestDebugIndexEmptyShowsPlaceholder(t *testing.T) {
	manager := convo.NewManager()

	req := httptest.NewRequest(http.MethodGet, "/debug/conversations", nil)
	rec := httptest.NewRecorder()
	newTestMux(manager).ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "No live conversations") {
		t.Errorf("expected empty placeholder, got %s", rec.Body.String())
	}
}

func TestDebugShowUnknownConversation404s(t *testing.T) {
	manager := convo.NewManager()

	req := httptest.NewRequest(http.MethodGet, "/debug/conversations/does-not-exist", nil)
	rec := httptest.NewRecorder()
	newTestMux(manager).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDebugShowRendersTranscriptAsSanitizedHTML(t *testing.T) {
	manager := convo.NewManager()
	c := manager.Create()
	c.State.AppendTranscript("# Hello\n\nSome **bold** text and a <script>alert(1)</script> attempt.")

	req := httptest.NewRequest(http.MethodGet, "/debug/conversations/"+c.ID, nil)
	rec := httptest.NewRecorder()
	newTestMux(manager).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>bold</strong>") {
		t.Errorf("expected markdown-rendered bold text, got %s", body)
	}
	if strings.Contains(body, "<script>") {
		t.Errorf("expected script tag to be sanitized, got %s", body)
	}
}
