package utils

import "sync"

// MockTransport records everything sent to it. It is safe for concurrent
// use and satisfies the diagnostics sink interfaces.
type MockTransport struct {
	mu       sync.Mutex
	messages []any
	closed   int
	Err      error // returned from Send when set
}

// Send stores the data for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, data)
	return m.Err
}

// Close counts calls.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// Messages returns a copy of everything sent so far.
func (m *MockTransport) Messages() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.messages...)
}

// Len returns the number of messages received.
func (m *MockTransport) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Closed returns how many times Close was called.
func (m *MockTransport) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
