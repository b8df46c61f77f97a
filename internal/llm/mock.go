package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient answers from a script keyed by request tag. Each tag holds a
// queue of replies; the last reply repeats once the queue drains.
type MockClient struct {
	mu       sync.Mutex
	scripts  map[string][]MockReply
	calls    map[string]int
	requests []Request
	fallback *MockReply
}

// MockReply is one scripted answer.
type MockReply struct {
	Content string
	Err     error
}

// NewMockClient returns an empty MockClient. Unscripted tags fail.
func NewMockClient() *MockClient {
	return &MockClient{scripts: map[string][]MockReply{}, calls: map[string]int{}}
}

// On appends content replies for tag.
func (m *MockClient) On(tag string, contents ...string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range contents {
		m.scripts[tag] = append(m.scripts[tag], MockReply{Content: c})
	}
	return m
}

// OnError appends a failing reply for tag.
func (m *MockClient) OnError(tag string, err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[tag] = append(m.scripts[tag], MockReply{Err: err})
	return m
}

// Default answers any unscripted tag with content.
func (m *MockClient) Default(content string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &MockReply{Content: content}
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(_ context.Context, req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	n := m.calls[req.Tag]
	m.calls[req.Tag] = n + 1

	script := m.scripts[req.Tag]
	var reply MockReply
	switch {
	case len(script) > 0:
		reply = script[min(n, len(script)-1)]
	case m.fallback != nil:
		reply = *m.fallback
	default:
		return Response{}, fmt.Errorf("mock: no reply scripted for tag %q", req.Tag)
	}
	if reply.Err != nil {
		return Response{}, reply.Err
	}
	return Response{Content: reply.Content, Model: "mock", FinishReason: "stop"}, nil
}

// Calls returns how many times tag was requested.
func (m *MockClient) Calls(tag string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[tag]
}

// Requests returns every request received, in order.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

var _ Client = (*MockClient)(nil)
