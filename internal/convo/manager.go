package convo

import (
	"sync"

	"github.com/google/uuid"

	"github.com/xcbridge/xcbridge/internal/anthropic"
	"github.com/xcbridge/xcbridge/internal/sessionlib"
)

// Conversation is the unit of state spanning a new-session request and all
// its continuations, per spec.md's GLOSSARY.
type Conversation struct {
	ID               string
	State            *State
	Session          sessionlib.Session
	SentMessageCount int
}

// Manager is the process-wide registry of conversations, keyed by id
// (Conversation Manager, C3).
type Manager struct {
	mu    sync.Mutex
	byID  map[string]*Conversation
	order []string // creation order, for deterministic "first match" scans
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{byID: make(map[string]*Conversation)}
}

// Create mints a new conversation id, builds a fresh Conversation State,
// registers a session-end callback that removes the conversation from the
// manager, and returns it. Per invariant 4, the conversation is registered
// from the moment Create returns until its session-end callback fires.
func (m *Manager) Create() *Conversation {
	c := &Conversation{
		ID:    uuid.NewString(),
		State: NewState(),
	}
	c.State.SetSessionEndCallback(func() {
		m.remove(c.ID)
	})

	m.mu.Lock()
	m.byID[c.ID] = c
	m.order = append(m.order, c.ID)
	m.mu.Unlock()

	return c
}

// Get returns the conversation for id, or nil if not registered.
func (m *Manager) Get(id string) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

// Remove unregisters id and then runs the conversation's State.Cleanup,
// rejecting any pending tool call with ErrSessionCleanup. The session-end
// callback that Cleanup fires finds the id already unregistered.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	c := m.byID[id]
	m.mu.Unlock()
	m.remove(id)
	if c != nil {
		c.State.Cleanup()
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return
	}
	delete(m.byID, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns the registered conversations in creation order. Used by
// the debug MCP server's list_conversations tool to introspect live state
// without reaching into the manager's internals.
func (m *Manager) Snapshot() []*Conversation {
	return m.snapshot()
}

// snapshot returns the registered conversations in creation order, safe to
// range over without holding the manager lock.
func (m *Manager) snapshot() []*Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Conversation, 0, len(m.order))
	for _, id := range m.order {
		if c, ok := m.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// FindByContinuation decides whether messages describes a continuation of
// an existing conversation, per spec.md §4.3's six-step rule. The
// sessionActive fallback (step 5) is a deliberate Open Question in the
// spec's own words: "an implementer should consider returning none instead
// of guessing." This implementation keeps the literal fallback — see
// DESIGN.md for the resolution — but isolates it in
// findBySessionActiveFallback so it can be disabled in one place.
func (m *Manager) FindByContinuation(messages []anthropic.Message) *Conversation {
	if len(messages) == 0 {
		return nil
	}
	last := messages[len(messages)-1]
	if last.Role != anthropic.RoleUser {
		return nil
	}
	if last.Content.IsString {
		return nil
	}

	toolUseIDs := make([]string, 0, 4)
	for _, b := range last.Content.Blocks {
		if b.Type == anthropic.BlockToolResult && b.ToolResultUseID != "" {
			toolUseIDs = append(toolUseIDs, b.ToolResultUseID)
		}
	}
	if len(toolUseIDs) == 0 {
		return nil
	}

	conversations := m.snapshot()
	for _, id := range toolUseIDs {
		for _, c := range conversations {
			if c.State.HasPendingOrExpectedID(id) {
				return c
			}
		}
	}

	return m.findBySessionActiveFallback(conversations)
}

// findBySessionActiveFallback implements step 5 of FindByContinuation: if
// no tool-use id matched, but some conversation's session is still active,
// assume it. Kept by itself per the design note above.
func (m *Manager) findBySessionActiveFallback(conversations []*Conversation) *Conversation {
	for _, c := range conversations {
		if c.State.IsSessionActive() {
			return c
		}
	}
	return nil
}

// Newest returns the most recently created conversation still registered,
// or nil if none. Used by single-conversation deployments' /internal/tools.
func (m *Manager) Newest() *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return nil
	}
	return m.byID[m.order[len(m.order)-1]]
}

// FindByExpectedTool returns the first conversation (by creation order)
// whose expected-call queue has an entry matching name, resolving name
// against each candidate's own Tool Cache first so a hallucinated short
// or namespaced name still matches the queue registered under the
// session's actual emitted name. It also returns the resolved name. Used
// by the bridge HTTP routes when a tool call arrives on a server-level
// bridge URL carrying no conversation id (single-conversation
// deployments).
func (m *Manager) FindByExpectedTool(name string) (*Conversation, string) {
	for _, c := range m.snapshot() {
		resolved := c.State.Cache().ResolveName(name)
		if c.State.HasExpectedTool(resolved) {
			return c, resolved
		}
	}
	return nil, name
}
