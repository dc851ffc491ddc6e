// Package history keeps the recent questions of a conversation so that
// follow-up questions can be answered in context.
package history

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"doc-assistant/internal/models"
)

const DefaultWindow = 3

// Tracker stores utterances per session. Storage is unbounded; only the
// most recent window is ever surfaced.
type Tracker interface {
	Append(ctx context.Context, session, utterance string) error
	Recent(ctx context.Context, session string, window int) ([]string, error)
	Clear(ctx context.Context, session string) error
}

// RecentContext renders the last window utterances of session oldest first,
// one "User: ..." line each, or "" when there is no history.
func RecentContext(ctx context.Context, t Tracker, session string, window int) (string, error) {
	recent, err := t.Recent(ctx, session, window)
	if err != nil {
		return "", err
	}
	return Format(recent), nil
}

func Format(utterances []string) string {
	if len(utterances) == 0 {
		return ""
	}
	lines := make([]string, len(utterances))
	for i, u := range utterances {
		lines[i] = fmt.Sprintf("User: %s", u)
	}
	return strings.Join(lines, "\n")
}

// SessionKey maps an empty session id to the shared default session.
func SessionKey(session string) string {
	if session = strings.TrimSpace(session); session == "" {
		return models.DefaultSessionID
	}
	return session
}

// Memory is a process local Tracker.
type Memory struct {
	mu       sync.Mutex
	sessions map[string][]string
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string][]string)}
}

func (m *Memory) Append(_ context.Context, session, utterance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := SessionKey(session)
	m.sessions[key] = append(m.sessions[key], utterance)
	return nil
}

func (m *Memory) Recent(_ context.Context, session string, window int) ([]string, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.sessions[SessionKey(session)]
	if len(h) > window {
		h = h[len(h)-window:]
	}
	return append([]string(nil), h...), nil
}

func (m *Memory) Clear(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, SessionKey(session))
	return nil
}
