package voice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/docugenius/internal/capability"
	"github.com/loqalabs/docugenius/internal/config"
	"github.com/loqalabs/docugenius/internal/stt"
	"github.com/loqalabs/docugenius/internal/tts"
)

type fakeRecognizer struct {
	session *stt.MockSession
}

func (f fakeRecognizer) Open(stt.Config) (stt.Session, error) {
	return f.session, nil
}

type fakeEngine struct {
	mu      sync.Mutex
	spoken  []tts.Utterance
	cancels int
	closed  bool
	events  chan tts.UtteranceEvent
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan tts.UtteranceEvent)}
}

func (f *fakeEngine) Speak(u tts.Utterance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, u)
	return nil
}

func (f *fakeEngine) Cancel() {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
}

func (f *fakeEngine) Events() <-chan tts.UtteranceEvent { return f.events }

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeEngine) utterances() []tts.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tts.Utterance(nil), f.spoken...)
}

func (f *fakeEngine) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

type recorder struct {
	recognized chan string
	starts     chan struct{}
	ends       chan struct{}
	errors     chan string
}

func newRecorder() *recorder {
	return &recorder{
		recognized: make(chan string, 16),
		starts:     make(chan struct{}, 16),
		ends:       make(chan struct{}, 16),
		errors:     make(chan string, 16),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnSpeechRecognized: func(text string) { r.recognized <- text },
		OnSpeechStart:      func() { r.starts <- struct{}{} },
		OnSpeechEnd:        func() { r.ends <- struct{}{} },
		OnError:            func(code string) { r.errors <- code },
	}
}

type harness struct {
	assistant *Assistant
	session   *stt.MockSession
	engine    *fakeEngine
	rec       *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	opts := DefaultOptions()
	h := &harness{
		session: stt.NewMockSession(opts.Recognition),
		engine:  newFakeEngine(),
		rec:     newRecorder(),
	}
	opts.Callbacks = h.rec.callbacks()
	h.assistant = New(context.Background(), capability.Probe(fakeRecognizer{h.session}, h.engine), opts)
	t.Cleanup(h.assistant.Close)
	return h
}

// sync blocks until the reducer handled everything delivered before the call.
func (h *harness) sync() {
	h.assistant.do(func() {})
}

func (h *harness) emit(t *testing.T, evt tts.UtteranceEvent) {
	t.Helper()
	select {
	case h.engine.events <- evt:
	case <-time.After(2 * time.Second):
		t.Fatalf("reducer did not accept utterance event %+v", evt)
	}
	h.sync()
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func receive[T any](t *testing.T, ch <-chan T, desc string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", desc)
		var zero T
		return zero
	}
}

func expectNone[T any](t *testing.T, ch <-chan T, desc string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %v", desc, v)
	case <-time.After(50 * time.Millisecond):
	}
}

func final(text string) stt.Event {
	return stt.Event{Type: stt.EventResult, Results: []stt.Result{{Transcript: text, Final: true}}}
}

func (h *harness) listen(t *testing.T) {
	t.Helper()
	h.assistant.StartListening()
	waitFor(t, "listening", func() bool { return h.assistant.State().Listening })
	receive(t, h.rec.starts, "speech start callback")
}

func TestUnsupportedEnvironmentIsNoop(t *testing.T) {
	rec := newRecorder()
	opts := DefaultOptions()
	opts.Callbacks = rec.callbacks()
	a := New(context.Background(), capability.Unsupported{Missing: []string{capability.SpeechRecognition}}, opts)
	defer a.Close()

	a.StartListening()
	a.Speak("hello")
	a.StopListening()
	a.StopSpeaking()

	if got := a.State(); got != (State{}) {
		t.Fatalf("expected zero state, got %+v", got)
	}
	expectNone(t, rec.errors, "error callback")
}

func TestCapitalOfFranceScenario(t *testing.T) {
	h := newHarness(t)
	if !h.assistant.State().Supported {
		t.Fatalf("expected supported")
	}

	h.listen(t)
	h.session.Inject(final("what is the capital of France"))
	if got := receive(t, h.rec.recognized, "recognized text"); got != "what is the capital of France" {
		t.Fatalf("unexpected recognized text %q", got)
	}
	if got := h.assistant.State().Transcript; got != "what is the capital of France" {
		t.Fatalf("unexpected transcript %q", got)
	}

	h.session.Inject(stt.Event{Type: stt.EventEnd})
	receive(t, h.rec.ends, "speech end callback")
	if h.assistant.State().Listening {
		t.Fatalf("expected listening=false after end event")
	}
}

func TestStartListeningWhileActiveIsNoop(t *testing.T) {
	h := newHarness(t)
	h.listen(t)
	h.session.Inject(final("keep me"))
	receive(t, h.rec.recognized, "recognized text")

	h.assistant.StartListening()
	if n := h.session.Starts(); n != 1 {
		t.Fatalf("expected a single session start, got %d", n)
	}
	if got := h.assistant.State().Transcript; got != "keep me" {
		t.Fatalf("transcript reset by duplicate start: %q", got)
	}
}

func TestPendingStartBlocksDuplicate(t *testing.T) {
	h := newHarness(t)
	// The second call may land before the start event has been reduced.
	h.assistant.StartListening()
	h.assistant.StartListening()
	if n := h.session.Starts(); n != 1 {
		t.Fatalf("expected a single session start, got %d", n)
	}
}

func TestStartListeningClearsTranscript(t *testing.T) {
	h := newHarness(t)
	h.listen(t)
	h.session.Inject(final("first"))
	receive(t, h.rec.recognized, "recognized text")
	h.assistant.StopListening()
	waitFor(t, "idle", func() bool { return !h.assistant.State().Listening })

	h.assistant.StartListening()
	if got := h.assistant.State().Transcript; got != "" {
		t.Fatalf("expected transcript cleared on start, got %q", got)
	}
}

func TestInterimResultsIgnored(t *testing.T) {
	h := newHarness(t)
	h.listen(t)

	h.session.Inject(stt.Event{Type: stt.EventResult, Results: []stt.Result{{Transcript: "what is"}}})
	h.sync()
	if got := h.assistant.State().Transcript; got != "" {
		t.Fatalf("interim result changed transcript to %q", got)
	}
	expectNone(t, h.rec.recognized, "recognized callback for interim result")
}

func TestFinalSegmentsConcatenated(t *testing.T) {
	h := newHarness(t)
	h.listen(t)

	h.session.Inject(stt.Event{
		Type:        stt.EventResult,
		ResultIndex: 1,
		Results: []stt.Result{
			{Transcript: "earlier ", Final: true},
			{Transcript: "hello ", Final: true},
			{Transcript: "ignored", Final: false},
			{Transcript: "world", Final: true},
		},
	})
	if got := receive(t, h.rec.recognized, "recognized text"); got != "hello world" {
		t.Fatalf("unexpected recognized text %q", got)
	}
	expectNone(t, h.rec.recognized, "second recognized callback")
	if got := h.assistant.State().Transcript; got != "hello world" {
		t.Fatalf("unexpected transcript %q", got)
	}
}

func TestStopListeningEventuallyIdle(t *testing.T) {
	h := newHarness(t)
	h.listen(t)

	h.assistant.StopListening()
	waitFor(t, "listening=false", func() bool { return !h.assistant.State().Listening })
	receive(t, h.rec.ends, "speech end callback")

	h.assistant.StopListening()
	if n := h.session.Stops(); n != 1 {
		t.Fatalf("expected stop to reach the session once, got %d", n)
	}
}

func TestRecognitionErrorEndsSession(t *testing.T) {
	h := newHarness(t)
	h.listen(t)

	h.session.Inject(stt.Event{Type: stt.EventError, Code: stt.CodeNoSpeech})
	if code := receive(t, h.rec.errors, "error callback"); code != stt.CodeNoSpeech {
		t.Fatalf("unexpected error code %q", code)
	}
	if h.assistant.State().Listening {
		t.Fatalf("expected listening=false after error")
	}
	receive(t, h.rec.ends, "speech end callback after error")

	h.listen(t)
	if n := h.session.Starts(); n != 2 {
		t.Fatalf("expected assistant usable after error, starts=%d", n)
	}
}

func TestRestartBeforeFailedSessionEnds(t *testing.T) {
	h := newHarness(t)
	h.listen(t)

	// The restart is applied before the reducer sees the failed session's
	// end event, which must not cancel the new session.
	h.assistant.do(func() {
		h.session.Inject(stt.Event{Type: stt.EventError, Code: stt.CodeNetwork})
		h.assistant.handleRecognition(<-h.session.Events())
	})
	h.assistant.StartListening()
	receive(t, h.rec.starts, "speech start callback")
	h.sync()
	if !h.assistant.State().Listening {
		t.Fatalf("expected the restarted session to stay listening")
	}
	if n := h.session.Starts(); n != 2 {
		t.Fatalf("expected a second start, got %d", n)
	}
}

func TestRestartAfterExecRecognizerError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	script := filepath.Join(t.TempDir(), "recognizer.sh")
	body := "#!/bin/sh\necho '{\"error\":\"no-speech\"}'\nsleep 5\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	rec, err := stt.NewExecRecognizer(config.STTConfig{Command: script}, nil)
	if err != nil {
		t.Fatalf("new recognizer: %v", err)
	}
	opts := DefaultOptions()
	r := newRecorder()
	opts.Callbacks = r.callbacks()
	a := New(context.Background(), capability.Probe(rec, newFakeEngine()), opts)
	defer a.Close()

	for run := 0; run < 3; run++ {
		a.StartListening()
		if code := receive(t, r.errors, "error callback"); code != stt.CodeNoSpeech {
			t.Fatalf("run %d: expected no-speech, got %q", run, code)
		}
	}
	receive(t, r.ends, "speech end callback")
}

func TestStartFailureReported(t *testing.T) {
	h := newHarness(t)
	h.session.FailNextStart(errors.New("microphone busy"))

	h.assistant.StartListening()
	if code := receive(t, h.rec.errors, "error callback"); code != stt.CodeStartFailed {
		t.Fatalf("unexpected error code %q", code)
	}
	if h.assistant.State().Listening {
		t.Fatalf("expected listening=false")
	}
	h.listen(t)
}

func TestCallbackMayCallAssistant(t *testing.T) {
	opts := DefaultOptions()
	session := stt.NewMockSession(opts.Recognition)
	engine := newFakeEngine()
	recognized := make(chan string, 1)
	var a *Assistant
	opts.Callbacks.OnSpeechRecognized = func(text string) {
		a.StopListening()
		recognized <- text
	}
	a = New(context.Background(), capability.Probe(fakeRecognizer{session}, engine), opts)
	defer a.Close()

	a.StartListening()
	waitFor(t, "listening", func() bool { return a.State().Listening })
	session.Inject(final("stop after this"))
	receive(t, recognized, "recognized text")
	waitFor(t, "listening=false", func() bool { return !a.State().Listening })
}

func TestSpeakPreemptsPreviousUtterance(t *testing.T) {
	h := newHarness(t)
	h.assistant.Speak("hello")
	h.assistant.Speak("world")

	spoken := h.engine.utterances()
	if len(spoken) != 2 || spoken[0].Text != "hello" || spoken[1].Text != "world" {
		t.Fatalf("unexpected utterances %+v", spoken)
	}
	if h.engine.cancelCount() != 2 {
		t.Fatalf("expected each speak to cancel the engine, got %d", h.engine.cancelCount())
	}
	first, second := spoken[0].ID, spoken[1].ID
	if first == second || first == "" {
		t.Fatalf("expected distinct utterance ids")
	}
	if spoken[1].Rate != 0.9 || spoken[1].Pitch != 1 || spoken[1].Volume != 1 {
		t.Fatalf("unexpected utterance params %+v", spoken[1])
	}

	h.emit(t, tts.UtteranceEvent{UtteranceID: first, Type: tts.UtteranceStart})
	if h.assistant.State().Speaking {
		t.Fatalf("stale utterance start flipped speaking")
	}
	h.emit(t, tts.UtteranceEvent{UtteranceID: second, Type: tts.UtteranceStart})
	if !h.assistant.State().Speaking {
		t.Fatalf("expected speaking=true for current utterance")
	}
	h.emit(t, tts.UtteranceEvent{UtteranceID: first, Type: tts.UtteranceError, Code: tts.CodeInterrupted})
	if !h.assistant.State().Speaking {
		t.Fatalf("stale utterance error reset speaking")
	}
	h.emit(t, tts.UtteranceEvent{UtteranceID: second, Type: tts.UtteranceEnd})
	if h.assistant.State().Speaking {
		t.Fatalf("expected speaking=false after end")
	}
}

func TestStopSpeakingIsSynchronous(t *testing.T) {
	h := newHarness(t)
	h.assistant.Speak("a long answer")
	id := h.engine.utterances()[0].ID
	h.emit(t, tts.UtteranceEvent{UtteranceID: id, Type: tts.UtteranceStart})

	h.assistant.StopSpeaking()
	if h.assistant.State().Speaking {
		t.Fatalf("expected speaking=false immediately after StopSpeaking")
	}
	h.emit(t, tts.UtteranceEvent{UtteranceID: id, Type: tts.UtteranceStart})
	if h.assistant.State().Speaking {
		t.Fatalf("event for stopped utterance flipped speaking")
	}
	h.assistant.StopSpeaking()
}

func TestSpeakEmptyIsNoop(t *testing.T) {
	h := newHarness(t)
	h.assistant.Speak("")
	if n := len(h.engine.utterances()); n != 0 {
		t.Fatalf("expected no utterance, got %d", n)
	}
	if h.engine.cancelCount() != 0 {
		t.Fatalf("empty speak cancelled playback")
	}
	if h.assistant.State().Speaking {
		t.Fatalf("expected speaking=false")
	}
}

func TestSynthesisErrorAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.assistant.Speak("hello")
	id := h.engine.utterances()[0].ID
	h.emit(t, tts.UtteranceEvent{UtteranceID: id, Type: tts.UtteranceStart})
	h.emit(t, tts.UtteranceEvent{UtteranceID: id, Type: tts.UtteranceError, Code: tts.CodeSynthesisFailed})

	if h.assistant.State().Speaking {
		t.Fatalf("expected speaking=false after synthesis error")
	}
	expectNone(t, h.rec.errors, "error callback for synthesis failure")
}

func TestListeningAndSpeakingIndependent(t *testing.T) {
	h := newHarness(t)
	h.listen(t)
	h.assistant.Speak("hello")
	h.emit(t, tts.UtteranceEvent{UtteranceID: h.engine.utterances()[0].ID, Type: tts.UtteranceStart})

	got := h.assistant.State()
	if !got.Listening || !got.Speaking {
		t.Fatalf("expected both directions active, got %+v", got)
	}
}

func TestWatchReceivesChanges(t *testing.T) {
	h := newHarness(t)
	states, cancel := h.assistant.Watch()
	defer cancel()

	if initial := receive(t, states, "initial state"); !initial.Supported || initial.Listening {
		t.Fatalf("unexpected initial state %+v", initial)
	}
	h.assistant.StartListening()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s.Listening {
				return
			}
		case <-deadline:
			t.Fatalf("never observed listening=true")
		}
	}
}

func TestWithSynthesisQueue(t *testing.T) {
	opts := DefaultOptions()
	engine := tts.NewQueue(context.Background(), tts.NewMockSynth(22050, 1, 5*time.Millisecond), tts.DiscardPlayer{}, nil)
	a := New(context.Background(), capability.Probe(stt.NewMockRecognizer(), engine), opts)
	defer a.Close()

	states, cancel := a.Watch()
	defer cancel()
	a.Speak("hello there")

	sawSpeaking := false
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-states:
			if s.Speaking {
				sawSpeaking = true
			} else if sawSpeaking {
				return
			}
		case <-deadline:
			t.Fatalf("utterance did not complete (saw speaking=%v)", sawSpeaking)
		}
	}
}

func TestOperationsAfterCloseAreNoops(t *testing.T) {
	h := newHarness(t)
	h.assistant.Close()

	done := make(chan struct{})
	go func() {
		h.assistant.StartListening()
		h.assistant.Speak("late")
		h.assistant.StopSpeaking()
		close(done)
	}()
	receive(t, done, "operations to return")
	if n := h.session.Starts(); n != 0 {
		t.Fatalf("expected no session start after close, got %d", n)
	}
	states, _ := h.assistant.Watch()
	if _, ok := <-states; ok {
		t.Fatalf("expected closed watch channel after Close")
	}
}
