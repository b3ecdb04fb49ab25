package stt

import (
	"errors"
	"sync"
)

type mockRecognizer struct {
	phrases []string
}

// NewMockRecognizer returns a scripted recognizer. Every started session
// reports an interim and a final result per phrase.
func NewMockRecognizer(phrases ...string) Recognizer {
	return &mockRecognizer{phrases: append([]string(nil), phrases...)}
}

func (m *mockRecognizer) Open(cfg Config) (Session, error) {
	return NewMockSession(cfg, m.phrases...), nil
}

// MockSession is an in-memory Session. Inject lets callers feed arbitrary
// events, which makes it the recognition double for tests.
type MockSession struct {
	cfg     Config
	phrases []string
	events  chan Event

	mu       sync.Mutex
	running  bool
	closed   bool
	starts   int
	stops    int
	startErr error
}

func NewMockSession(cfg Config, phrases ...string) *MockSession {
	return &MockSession{
		cfg:     cfg,
		phrases: phrases,
		events:  make(chan Event, 64),
	}
}

// FailNextStart makes the next Start call return err.
func (m *MockSession) FailNextStart(err error) {
	m.mu.Lock()
	m.startErr = err
	m.mu.Unlock()
}

func (m *MockSession) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("session closed")
	}
	if err := m.startErr; err != nil {
		m.startErr = nil
		return err
	}
	if m.running {
		return errors.New("recognition already started")
	}
	m.running = true
	m.starts++
	m.emit(Event{Type: EventStart})
	for i, phrase := range m.phrases {
		if m.cfg.InterimResults {
			m.emit(Event{Type: EventResult, ResultIndex: i, Results: m.batch(i, Result{Transcript: phrase})})
		}
		m.emit(Event{Type: EventResult, ResultIndex: i, Results: m.batch(i, Result{Transcript: phrase, Final: true})})
		if !m.cfg.Continuous {
			m.running = false
			m.emit(Event{Type: EventEnd})
			break
		}
	}
	return nil
}

func (m *MockSession) batch(index int, last Result) []Result {
	results := make([]Result, 0, index+1)
	for i := 0; i < index; i++ {
		results = append(results, Result{Transcript: m.phrases[i], Final: true})
	}
	return append(results, last)
}

func (m *MockSession) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	if !m.running || m.closed {
		return
	}
	m.running = false
	m.emit(Event{Type: EventEnd})
}

// Inject delivers evt as if the engine had produced it. Error and end events
// also mark the session as stopped, and an error is followed by an end event.
func (m *MockSession) Inject(evt Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	switch evt.Type {
	case EventStart:
		m.running = true
	case EventError, EventEnd:
		m.running = false
	}
	m.emit(evt)
	if evt.Type == EventError {
		m.emit(Event{Type: EventEnd})
	}
}

// Starts reports how many times Start succeeded.
func (m *MockSession) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Stops reports how many times Stop was called.
func (m *MockSession) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *MockSession) Events() <-chan Event { return m.events }

func (m *MockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.events)
	return nil
}

// emit must be called with m.mu held.
func (m *MockSession) emit(evt Event) {
	select {
	case m.events <- evt:
	default:
		// consumer stalled; drop rather than block the caller
	}
}
