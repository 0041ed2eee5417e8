// Package testutil holds shared test doubles.
package testutil

import (
	"sync"

	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
)

// LogMessage is one captured log call.
type LogMessage struct {
	Level   string
	Message string
	Fields  []logging.Field
}

// MockLogger records every message so tests can assert on log output.
// Loggers derived through With and Named share the same buffer.
type MockLogger struct {
	mu       *sync.Mutex
	messages *[]LogMessage
	fields   []logging.Field
	name     string
}

// NewMockLogger creates an empty recording logger.
func NewMockLogger() *MockLogger {
	return &MockLogger{mu: &sync.Mutex{}, messages: &[]LogMessage{}}
}

func (m *MockLogger) record(level, msg string, fields []logging.Field) {
	all := make([]logging.Field, 0, len(m.fields)+len(fields))
	all = append(all, m.fields...)
	all = append(all, fields...)
	if m.name != "" {
		msg = m.name + ": " + msg
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.messages = append(*m.messages, LogMessage{Level: level, Message: msg, Fields: all})
}

func (m *MockLogger) Debug(msg string, fields ...logging.Field) { m.record("debug", msg, fields) }
func (m *MockLogger) Info(msg string, fields ...logging.Field)  { m.record("info", msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...logging.Field)  { m.record("warn", msg, fields) }
func (m *MockLogger) Error(msg string, fields ...logging.Field) { m.record("error", msg, fields) }
func (m *MockLogger) Fatal(msg string, fields ...logging.Field) { m.record("fatal", msg, fields) }

// With returns a child logger that prefixes fields onto every message.
func (m *MockLogger) With(fields ...logging.Field) logging.Logger {
	child := *m
	child.fields = append(append([]logging.Field{}, m.fields...), fields...)
	return &child
}

// Named returns a child logger whose messages are prefixed with name.
func (m *MockLogger) Named(name string) logging.Logger {
	child := *m
	if m.name != "" {
		name = m.name + "." + name
	}
	child.name = name
	return &child
}

func (m *MockLogger) Sync() error { return nil }

// GetMessages returns a copy of the captured messages.
func (m *MockLogger) GetMessages() []LogMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]LogMessage, len(*m.messages))
	copy(result, *m.messages)
	return result
}

// Clear removes all logged messages.
func (m *MockLogger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.messages = (*m.messages)[:0]
}

// HasMessage checks if a message with the given level and content was
// logged.  The logger name prefix is ignored.
func (m *MockLogger) HasMessage(level, msg string) bool {
	for _, logged := range m.ByLevel(level) {
		if logged.Message == msg || hasSuffix(logged.Message, ": "+msg) {
			return true
		}
	}
	return false
}

// ByLevel returns the captured messages at level.
func (m *MockLogger) ByLevel(level string) []LogMessage {
	var out []LogMessage
	for _, logged := range m.GetMessages() {
		if logged.Level == level {
			out = append(out, logged)
		}
	}
	return out
}

// Field returns the value of key on msg, if present.
func (lm LogMessage) Field(key string) (interface{}, bool) {
	for _, f := range lm.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

var _ logging.Logger = (*MockLogger)(nil)
