// Package web provides a read-only, loopback-only HTML viewer over live
// conversation state, for a human debugging the bridge locally. It has no
// write surface and no effect on the tool-bridge state machine: the bridge
// works identically with this package entirely absent.
//
// This mirrors the teacher's own always-present "look at what a
// conversation did" surface, trimmed to what a headless local proxy needs:
// one route, rendering one conversation's transcript.
package web

import (
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/xcbridge/xcbridge/internal/convo"
	"github.com/xcbridge/xcbridge/internal/conversion"
)

// DebugViewer serves /debug/conversations and /debug/conversations/{id}.
type DebugViewer struct {
	manager    *convo.Manager
	converter  *conversion.Converter
	fileLinker *conversion.FileLinker
}

// NewDebugViewer returns a DebugViewer backed by manager. workdir is used to
// resolve and link file paths the model mentions in a transcript to file://
// URLs; an empty workdir disables linking.
func NewDebugViewer(manager *convo.Manager, workdir string) *DebugViewer {
	return &DebugViewer{
		manager:   manager,
		converter: conversion.DebugViewerConverter(),
		fileLinker: conversion.NewFileLinker(conversion.FileLinkerConfig{
			WorkingDir:         workdir,
			Enabled:            workdir != "",
			MaxPathsPerMessage: 50,
		}),
	}
}

// Register attaches the viewer's routes to mux. Callers are responsible for
// only exposing mux on a loopback listener (see internal/cmd's serve
// command), since the transcript may contain anything the model produced.
func (v *DebugViewer) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /debug/conversations", v.handleIndex)
	mux.HandleFunc("GET /debug/conversations/{id}", v.handleShow)
}

func (v *DebugViewer) handleIndex(w http.ResponseWriter, r *http.Request) {
	conversations := v.manager.Snapshot()

	var b strings.Builder
	b.WriteString(pageHeader("Conversations"))
	if len(conversations) == 0 {
		b.WriteString("<p class=\"empty\">No live conversations.</p>")
	} else {
		b.WriteString("<ul class=\"convo-list\">")
		for _, c := range conversations {
			summary := c.State.Summarize()
			fmt.Fprintf(&b, "<li><a href=\"/debug/conversations/%s\">%s</a> — %d messages, session active: %v</li>",
				html.EscapeString(c.ID), html.EscapeString(c.ID), c.SentMessageCount, summary.SessionActive)
		}
		b.WriteString("</ul>")
	}
	b.WriteString(pageFooter())

	writeHTML(w, b.String())
}

func (v *DebugViewer) handleShow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c := v.manager.Get(id)
	if c == nil {
		http.NotFound(w, r)
		return
	}

	summary := c.State.Summarize()
	rendered := v.converter.ConvertToSafeHTML(c.State.Transcript())
	rendered = v.fileLinker.LinkFilePaths(rendered)

	var b strings.Builder
	b.WriteString(pageHeader("Conversation " + id))
	fmt.Fprintf(&b, "<p class=\"meta\">%d messages sent &middot; session active: %v &middot; had error: %v &middot; pending calls: %d &middot; expected calls: %d</p>",
		c.SentMessageCount, summary.SessionActive, summary.HadError, summary.PendingCalls, summary.ExpectedCalls)
	b.WriteString("<div class=\"transcript\">")
	b.WriteString(rendered)
	b.WriteString("</div>")
	b.WriteString(pageFooter())

	writeHTML(w, b.String())
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Write([]byte(body))
}

const pageStyle = `body{font-family:-apple-system,sans-serif;max-width:760px;margin:2rem auto;color:#1c1c1e}
.meta{color:#6e6e73;font-size:.85rem}
.empty{color:#6e6e73}
pre{background:#f5f5f7;padding:.75rem;border-radius:6px;overflow-x:auto}
code{background:#f5f5f7;border-radius:3px;padding:0 .25rem}`

func pageHeader(title string) string {
	return fmt.Sprintf("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>%s</title><style>%s</style></head><body><h1>%s</h1>",
		html.EscapeString(title), pageStyle, html.EscapeString(title))
}

func pageFooter() string {
	return "</body></html>"
}
