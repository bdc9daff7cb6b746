// Package fake provides a scriptable sessionlib.Starter/Session double for
// tests, standing in for the out-of-scope session library the way the
// teacher's tests/mocks/acp-server stands in for a real ACP agent.
package fake

import (
	"context"
	"sync"

	"github.com/xcbridge/xcbridge/internal/sessionlib"
)

// Starter hands out Sessions built from a scripted turn plan. Each call to
// Session.Prompt consumes the next Turn in Turns, in order.
type Starter struct {
	mu    sync.Mutex
	Turns []Turn
	// Configs records every Config passed to Start, for assertions.
	Configs []sessionlib.Config
}

// Turn is one scripted model turn: a sequence of events emitted in order,
// without pausing.
type Turn struct {
	Events []sessionlib.Event
}

// Start implements sessionlib.Starter.
func (s *Starter) Start(ctx context.Context, cfg sessionlib.Config) (sessionlib.Session, error) {
	s.mu.Lock()
	s.Configs = append(s.Configs, cfg)
	s.mu.Unlock()
	return &session{starter: s, cfg: cfg}, nil
}

type session struct {
	starter *Starter
	cfg     sessionlib.Config
	mu      sync.Mutex
	turn    int
	stopped bool
}

// Prompt implements sessionlib.Session. It plays back the next scripted
// Turn on a buffered channel and closes it once all events are sent.
func (s *session) Prompt(ctx context.Context, text string) (<-chan sessionlib.Event, error) {
	s.mu.Lock()
	idx := s.turn
	s.turn++
	s.mu.Unlock()

	ch := make(chan sessionlib.Event, 16)
	if idx >= len(s.starter.Turns) {
		close(ch)
		return ch, nil
	}
	turn := s.starter.Turns[idx]
	go func() {
		defer close(ch)
		for _, ev := range turn.Events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// DeliverToolResult implements sessionlib.Session. The fake does not model
// resuming generation after a tool result; tests that need that drive a
// second scripted Turn directly via Prompt semantics instead.
func (s *session) DeliverToolResult(ctx context.Context, toolUseID string, result string, isError bool) error {
	return nil
}

// Stop implements sessionlib.Session.
func (s *session) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}
