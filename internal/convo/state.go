// Package convo implements the tool-bridge continuation engine's central
// entity, Conversation State (C2), and its process-wide registry,
// Conversation Manager (C3).
//
// A single mutex guards each State's three interlocking maps and flags —
// the "arena + mutex" shape the design notes call for, since contention on
// one conversation is at most a handful of requests.
package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xcbridge/xcbridge/internal/anthropic"
	"github.com/xcbridge/xcbridge/internal/toolcache"
)

// ErrSessionEnded is the rejection cause used when a pending tool call is
// still outstanding at session-inactivation time.
var ErrSessionEnded = errors.New("Session ended")

// ErrSessionCleanup is the rejection cause used on hard teardown (client
// disconnect, manager removal).
var ErrSessionCleanup = errors.New("Session cleanup")

// CallResult is delivered to whoever registered an MCP request, once the
// tool call resolves, times out, or is cancelled by teardown.
type CallResult struct {
	Value string
	Err   error
}

type pendingEntry struct {
	ch    chan CallResult
	timer *time.Timer
}

// State is the per-conversation tool-bridge state described in spec.md §3.
type State struct {
	mu sync.Mutex

	// streamMu serializes transform execution: exactly one turn streams a
	// conversation's reply at a time, even across a continuation boundary,
	// where a resumed transform could otherwise start writing before the
	// original new-session transform has finished. Held by the Messages
	// Handler (C7) for the duration of a turn; see internal/messages.
	streamMu sync.Mutex

	cache *toolcache.Cache

	expectedByName  map[string][]string
	pendingByCallID map[string]*pendingEntry

	reply           *anthropic.SSEWriter
	streamingDoneCh chan struct{}
	sessionEndCB    func()
	sessionActive   bool
	hadError        bool

	transcript strings.Builder
}

// NewState returns an empty Conversation State (sessionActive=false, empty
// maps), per the lifecycle in spec.md §3.
func NewState() *State {
	return &State{
		cache:           toolcache.New(),
		expectedByName:  make(map[string][]string),
		pendingByCallID: make(map[string]*pendingEntry),
	}
}

// Cache returns the conversation's Tool Cache (C1).
func (s *State) Cache() *toolcache.Cache { return s.cache }

// RegisterExpected appends callID to the expected-call queue for toolName.
// Invoked by the streaming transform (C6) as it emits tool_use blocks.
func (s *State) RegisterExpected(callID, toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedByName[toolName] = append(s.expectedByName[toolName], callID)
}

// RegisterMCPRequest pops the head of toolName's expected-call queue and
// parks it as pending, starting a 5-minute timeout. Invoked by the bridge
// HTTP routes (C4) when the MCP shim posts a tool-call.
//
// If the queue for toolName is empty, it returns an error immediately
// ("No expected tool call for <name>") instead of a result channel.
func (s *State) RegisterMCPRequest(toolName string) (callID string, result <-chan CallResult, err error) {
	return s.registerMCPRequestWithTimeout(toolName, 5*time.Minute)
}

func (s *State) registerMCPRequestWithTimeout(toolName string, timeout time.Duration) (string, <-chan CallResult, error) {
	s.mu.Lock()
	queue := s.expectedByName[toolName]
	if len(queue) == 0 {
		s.mu.Unlock()
		return "", nil, fmt.Errorf("No expected tool call for %s", toolName)
	}
	id := queue[0]
	if len(queue) == 1 {
		delete(s.expectedByName, toolName)
	} else {
		s.expectedByName[toolName] = queue[1:]
	}

	ch := make(chan CallResult, 1)
	entry := &pendingEntry{ch: ch}
	entry.timer = time.AfterFunc(timeout, func() {
		s.rejectPending(id, fmt.Errorf("Tool call %s timed out", id))
	})
	s.pendingByCallID[id] = entry
	s.mu.Unlock()

	return id, ch, nil
}

// ResolveToolCall resolves the pending call callID with result, clearing
// its timeout. Returns false if no such pending call exists.
func (s *State) ResolveToolCall(callID, result string) bool {
	s.mu.Lock()
	entry, ok := s.pendingByCallID[callID]
	if ok {
		delete(s.pendingByCallID, callID)
		entry.timer.Stop()
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	entry.ch <- CallResult{Value: result}
	return true
}

// rejectPending rejects the pending call callID with cause, clearing its
// timeout. It is a no-op if the call is no longer pending (already
// resolved, rejected, or never registered) — the exactly-once contract of
// invariant 2.
func (s *State) rejectPending(callID string, cause error) {
	s.mu.Lock()
	entry, ok := s.pendingByCallID[callID]
	if ok {
		delete(s.pendingByCallID, callID)
		entry.timer.Stop()
	}
	s.mu.Unlock()
	if ok {
		entry.ch <- CallResult{Err: cause}
	}
}

// Summary is a point-in-time snapshot of a State's counters, for
// introspection by the debug MCP server's list_conversations tool.
type Summary struct {
	SessionActive bool
	HadError      bool
	PendingCalls  int
	ExpectedCalls int
}

// Summarize returns a Summary of the current state.
func (s *State) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	expected := 0
	for _, q := range s.expectedByName {
		expected += len(q)
	}
	return Summary{
		SessionActive: s.sessionActive,
		HadError:      s.hadError,
		PendingCalls:  len(s.pendingByCallID),
		ExpectedCalls: expected,
	}
}

// HasPending reports whether any pending call or expected-call queue is
// non-empty.
func (s *State) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingByCallID) > 0 {
		return true
	}
	for _, q := range s.expectedByName {
		if len(q) > 0 {
			return true
		}
	}
	return false
}

// HasExpectedTool reports whether the expected-call queue for name is
// non-empty.
func (s *State) HasExpectedTool(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expectedByName[name]) > 0
}

// HasPendingOrExpectedID reports whether id appears in either the pending
// table or any expected-call queue. Used by the Conversation Manager's
// continuation matching.
func (s *State) HasPendingOrExpectedID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendingByCallID[id]; ok {
		return true
	}
	for _, q := range s.expectedByName {
		for _, qid := range q {
			if qid == id {
				return true
			}
		}
	}
	return false
}

// IsSessionActive reports whether the conversation's session is currently
// accepting events.
func (s *State) IsSessionActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionActive
}

// MarkSessionActive flips sessionActive to true.
func (s *State) MarkSessionActive() {
	s.mu.Lock()
	s.sessionActive = true
	s.mu.Unlock()
}

// MarkSessionInactive flips sessionActive to false, clears every expected
// queue, rejects every pending call with ErrSessionEnded, and fires (once)
// the session-end callback — enforcing invariant 3.
func (s *State) MarkSessionInactive() {
	s.terminate(ErrSessionEnded)
}

// Cleanup performs the same teardown as MarkSessionInactive but rejects
// pending calls with ErrSessionCleanup. Called on hard teardown: client
// disconnect or manager removal.
func (s *State) Cleanup() {
	s.terminate(ErrSessionCleanup)
}

func (s *State) terminate(cause error) {
	s.mu.Lock()
	s.sessionActive = false
	s.expectedByName = make(map[string][]string)
	pending := s.pendingByCallID
	s.pendingByCallID = make(map[string]*pendingEntry)
	cb := s.sessionEndCB
	s.sessionEndCB = nil
	s.mu.Unlock()

	for _, entry := range pending {
		entry.timer.Stop()
		entry.ch <- CallResult{Err: cause}
	}
	if cb != nil {
		cb()
	}
}

// SetSessionEndCallback installs the single-shot notifier the Conversation
// Manager uses for auto-removal. Intended to be set once, at creation.
func (s *State) SetSessionEndCallback(cb func()) {
	s.mu.Lock()
	s.sessionEndCB = cb
	s.mu.Unlock()
}

// NotifyStreamingDone resolves the current waiter of WaitForStreamingDone,
// if any, then clears the slot. A no-op if nobody is waiting.
func (s *State) NotifyStreamingDone() {
	s.mu.Lock()
	ch := s.streamingDoneCh
	s.streamingDoneCh = nil
	s.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// WaitForStreamingDone blocks until the next NotifyStreamingDone call (or
// ctx is cancelled). Each call that doesn't race a pending notification
// creates its own single-shot slot.
func (s *State) WaitForStreamingDone(ctx context.Context) error {
	s.mu.Lock()
	if s.streamingDoneCh == nil {
		s.streamingDoneCh = make(chan struct{})
	}
	ch := s.streamingDoneCh
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LockStream blocks until no other transform is actively streaming this
// conversation's reply, then claims exclusive ownership for the caller's
// turn. Must be paired with UnlockStream. The Messages Handler (C7) holds
// this for the full duration of a turn — including a continuation's wait
// for its resumed transform to finish — so a continuation triggered by an
// early tool_use block can never start writing before the transform that
// produced it has terminated.
func (s *State) LockStream() { s.streamMu.Lock() }

// UnlockStream releases exclusive ownership claimed by LockStream.
func (s *State) UnlockStream() { s.streamMu.Unlock() }

// SetReply attaches the HTTP reply object the streaming transform writes
// SSE frames to.
func (s *State) SetReply(w *anthropic.SSEWriter) {
	s.mu.Lock()
	s.reply = w
	s.mu.Unlock()
}

// ClearReply detaches the current reply object.
func (s *State) ClearReply() {
	s.mu.Lock()
	s.reply = nil
	s.mu.Unlock()
}

// CurrentReply returns the currently-attached reply object, or nil.
func (s *State) CurrentReply() *anthropic.SSEWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reply
}

// SetError sets the sticky hadError flag.
func (s *State) SetError() {
	s.mu.Lock()
	s.hadError = true
	s.mu.Unlock()
}

// HadError reports the sticky hadError flag.
func (s *State) HadError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hadError
}

// AppendTranscript appends text to the conversation's in-memory transcript,
// kept only for the life of the process (no cross-restart persistence) and
// read by the debug conversation viewer.
func (s *State) AppendTranscript(text string) {
	s.mu.Lock()
	s.transcript.WriteString(text)
	s.mu.Unlock()
}

// Transcript returns the conversation's accumulated assistant text so far.
func (s *State) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.String()
}
