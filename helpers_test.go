package mqttmux

import (
	"context"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type logEntry struct {
	level  LogLevel
	msg    string
	fields LogFields
}

type logStore struct {
	mu      sync.Mutex
	entries []logEntry
}

// recordingLogger keeps every entry for assertions.
type recordingLogger struct {
	store  *logStore
	fields LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{store: &logStore{}}
}

func (r *recordingLogger) add(level LogLevel, msg string, fields LogFields) {
	all := make(LogFields, len(r.fields)+len(fields))
	maps.Copy(all, r.fields)
	maps.Copy(all, fields)

	r.store.mu.Lock()
	r.store.entries = append(r.store.entries, logEntry{level: level, msg: msg, fields: all})
	r.store.mu.Unlock()
}

func (r *recordingLogger) Debug(msg string, fields LogFields) { r.add(LogLevelDebug, msg, fields) }
func (r *recordingLogger) Info(msg string, fields LogFields)  { r.add(LogLevelInfo, msg, fields) }
func (r *recordingLogger) Warn(msg string, fields LogFields)  { r.add(LogLevelWarn, msg, fields) }
func (r *recordingLogger) Error(msg string, fields LogFields) { r.add(LogLevelError, msg, fields) }
func (r *recordingLogger) Level() LogLevel                    { return LogLevelDebug }
func (r *recordingLogger) SetLevel(_ LogLevel)                {}

// WithFields shares the entry list with the parent so tests see both.
func (r *recordingLogger) WithFields(fields LogFields) Logger {
	merged := make(LogFields, len(r.fields)+len(fields))
	maps.Copy(merged, r.fields)
	maps.Copy(merged, fields)
	return &recordingLogger{store: r.store, fields: merged}
}

func (r *recordingLogger) at(level LogLevel) []logEntry {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []logEntry
	for _, e := range r.store.entries {
		if e.level == level {
			out = append(out, e)
		}
	}
	return out
}

// recordingPublisher records published messages.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg.Clone())
	return nil
}

func (p *recordingPublisher) published() []*Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Message(nil), p.msgs...)
}

// staticResolver resolves identifiers from a fixed map.
type staticResolver map[int]*Subscription

func (s staticResolver) GetSubscription(id int) (*Subscription, bool) {
	sub, ok := s[id]
	return sub, ok
}

func waitDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func noResponse(_ context.Context, _ *Message) ([]byte, error) {
	return nil, nil
}
