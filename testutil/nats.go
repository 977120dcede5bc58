package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nestormc/nestor/natsclient"
)

// MockTransport is an in-memory natsclient.Transport. Several bridges can
// share one to simulate processes on the same NATS server. Subjects follow
// NATS wildcard rules.
type MockTransport struct {
	mu       sync.RWMutex
	messages []natsclient.Message
	subs     map[int]mockSub
	nextID   int
	closed   bool

	// PublishErr, when set, is returned by Publish.
	PublishErr error
}

type mockSub struct {
	pattern string
	handler natsclient.Handler
}

var _ natsclient.Transport = (*MockTransport)(nil)

// NewMockTransport creates an empty transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{subs: make(map[int]mockSub)}
}

// Publish records msg and runs the matching handlers synchronously.
func (m *MockTransport) Publish(ctx context.Context, msg natsclient.Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	if m.PublishErr != nil {
		err := m.PublishErr
		m.mu.Unlock()
		return err
	}
	m.messages = append(m.messages, msg)

	var handlers []natsclient.Handler
	for _, s := range m.subs {
		if SubjectMatches(s.pattern, msg.Subject) {
			handlers = append(handlers, s.handler)
		}
	}
	m.mu.Unlock()

	for _, h := range handlers {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		h(msgCtx, msg)
		cancel()
	}
	return nil
}

// Subscribe registers handler for a subject pattern.
func (m *MockTransport) Subscribe(ctx context.Context, subject string, handler natsclient.Handler) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("transport is closed")
	}
	m.nextID++
	id := m.nextID
	m.subs[id] = mockSub{pattern: subject, handler: handler}

	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
		return nil
	}, nil
}

// Close rejects further publications.
func (m *MockTransport) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Messages returns the messages published on subject, or all of them when
// subject is empty.
func (m *MockTransport) Messages(subject string) []natsclient.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []natsclient.Message
	for _, msg := range m.messages {
		if subject == "" || msg.Subject == subject {
			out = append(out, msg)
		}
	}
	return out
}

// Subscriptions returns the number of active subscriptions.
func (m *MockTransport) Subscriptions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// SubjectMatches reports whether subject matches a NATS pattern, where *
// matches one token and a trailing > matches one or more.
func SubjectMatches(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	for i, tok := range p {
		if tok == ">" {
			return i == len(p)-1 && len(s) > i
		}
		if i >= len(s) {
			return false
		}
		if tok != "*" && tok != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}

// WaitFor polls cond every 10ms until it holds or timeout elapses.
func WaitFor(t testing.TB, timeout time.Duration, cond func() bool, msgAndArgs ...any) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			detail := ""
			if len(msgAndArgs) > 0 {
				if format, ok := msgAndArgs[0].(string); ok {
					detail = ": " + fmt.Sprintf(format, msgAndArgs[1:]...)
				}
			}
			t.Fatalf("timeout after %v%s", timeout, detail)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// WaitForMessageCount waits until count messages were published on subject.
func WaitForMessageCount(t testing.TB, tr *MockTransport, subject string, count int, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool {
		return len(tr.Messages(subject)) >= count
	}, "waiting for %d messages on %s", count, subject)
}
