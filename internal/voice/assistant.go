package voice

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/loqalabs/docugenius/internal/capability"
	"github.com/loqalabs/docugenius/internal/stt"
	"github.com/loqalabs/docugenius/internal/tts"
)

// Callbacks are optional notifications. They run in order on a dedicated
// goroutine and may call back into the Assistant.
type Callbacks struct {
	OnSpeechRecognized func(text string)
	OnSpeechStart      func()
	OnSpeechEnd        func()
	OnError            func(code string)
}

// UtteranceParams are applied to every spoken utterance.
type UtteranceParams struct {
	Voice  string
	Rate   float64
	Pitch  float64
	Volume float64
}

type Options struct {
	Recognition stt.Config
	Utterance   UtteranceParams
	Callbacks   Callbacks
	Logger      *slog.Logger
}

// DefaultOptions returns continuous en-US recognition with interim results
// and utterances at rate 0.9, pitch 1, volume 1.
func DefaultOptions() Options {
	return Options{
		Recognition: stt.Config{Continuous: true, InterimResults: true, Language: "en-US"},
		Utterance:   UtteranceParams{Rate: 0.9, Pitch: 1, Volume: 1},
	}
}

type command struct {
	apply func()
	done  chan struct{}
}

// Assistant is the voice I/O adapter. A single reducer goroutine owns the
// recognition session, the synthesis engine and the state; operations and
// platform events reach it as messages.
type Assistant struct {
	opts      Options
	logger    *slog.Logger
	supported bool
	session   stt.Session
	engine    tts.Engine
	metrics   metrics

	cmds     chan command
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	dispatch *dispatcher
	watchers *watchers

	mu    sync.RWMutex
	state State

	// reducer-owned
	starting  bool
	errored   bool
	utterance string

	closeOnce sync.Once
}

// New builds an Assistant from a capability probe result. With an
// Unsupported result, or when the recognition session cannot be opened, the
// assistant reports supported=false and every operation is a no-op.
func New(parent context.Context, probe capability.Result, opts Options) *Assistant {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(parent)
	a := &Assistant{
		opts:     opts,
		logger:   logger.With(slog.String("component", "voice")),
		metrics:  newMetrics(),
		cmds:     make(chan command),
		ctx:      ctx,
		cancel:   cancel,
		dispatch: newDispatcher(),
		watchers: newWatchers(),
	}

	switch res := probe.(type) {
	case capability.Supported:
		session, err := res.Recognizer.Open(opts.Recognition)
		if err != nil {
			a.logger.Warn("failed to open recognition session", slogError(err))
			_ = res.Engine.Close()
			break
		}
		a.session = session
		a.engine = res.Engine
		a.supported = true
	case capability.Unsupported:
		a.logger.Info("voice features unavailable", slog.Any("missing", res.Missing))
	}
	a.state.Supported = a.supported

	if a.supported {
		a.wg.Add(1)
		go a.run()
	}
	return a
}

// State returns a snapshot of the current state.
func (a *Assistant) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Watch subscribes to state changes. The channel starts with the current state
// and is closed by the returned cancel func or by Close.
func (a *Assistant) Watch() (<-chan State, func()) {
	return a.watchers.add(a.State())
}

// StartListening clears the transcript and starts a recognition session. It
// does nothing while a session is active or being started.
func (a *Assistant) StartListening() {
	a.do(func() {
		if a.state.Listening || a.starting {
			return
		}
		a.update(func(s *State) { s.Transcript = "" })
		if err := a.session.Start(); err != nil {
			a.logger.Warn("failed to start recognition", slogError(err))
			a.metrics.recognitionError(stt.CodeStartFailed)
			a.notifyError(stt.CodeStartFailed)
			return
		}
		a.starting = true
		a.metrics.sessionStarted()
	})
}

// StopListening asks the recognition session to stop. Listening turns false
// once the session reports its end.
func (a *Assistant) StopListening() {
	a.do(func() {
		if !a.state.Listening && !a.starting {
			return
		}
		a.session.Stop()
	})
}

// Speak cancels whatever is being spoken and speaks text. Empty text is
// ignored.
func (a *Assistant) Speak(text string) {
	if text == "" {
		return
	}
	a.do(func() {
		if a.utterance != "" {
			a.metrics.utterancePreempted()
		}
		a.engine.Cancel()
		a.utterance = ""
		a.update(func(s *State) { s.Speaking = false })

		u := tts.Utterance{
			ID:     uuid.NewString(),
			Text:   text,
			Voice:  a.opts.Utterance.Voice,
			Rate:   a.opts.Utterance.Rate,
			Pitch:  a.opts.Utterance.Pitch,
			Volume: a.opts.Utterance.Volume,
		}
		if err := a.engine.Speak(u); err != nil {
			a.logger.Debug("utterance rejected", slogError(err))
			return
		}
		a.utterance = u.ID
		a.metrics.utterance()
	})
}

// StopSpeaking cancels synthesis and sets speaking to false before returning.
func (a *Assistant) StopSpeaking() {
	a.do(func() {
		a.engine.Cancel()
		a.utterance = ""
		a.update(func(s *State) { s.Speaking = false })
	})
}

// Close stops recognition and synthesis and releases both handles. Pending
// callbacks still run; operations after Close are no-ops.
func (a *Assistant) Close() {
	a.closeOnce.Do(func() {
		a.cancel()
		a.wg.Wait()
		if a.supported {
			a.session.Stop()
			if err := a.session.Close(); err != nil {
				a.logger.Debug("recognition session close failed", slogError(err))
			}
			a.engine.Cancel()
			if err := a.engine.Close(); err != nil {
				a.logger.Debug("synthesis engine close failed", slogError(err))
			}
		}
		a.dispatch.close()
		a.watchers.close()
	})
}

func (a *Assistant) do(fn func()) {
	if !a.supported {
		return
	}
	cmd := command{apply: fn, done: make(chan struct{})}
	select {
	case a.cmds <- cmd:
	case <-a.ctx.Done():
		return
	}
	select {
	case <-cmd.done:
	case <-a.ctx.Done():
	}
}

func (a *Assistant) run() {
	defer a.wg.Done()
	recognition := a.session.Events()
	synthesis := a.engine.Events()
	for {
		select {
		case <-a.ctx.Done():
			return
		case cmd := <-a.cmds:
			cmd.apply()
			close(cmd.done)
		case evt, ok := <-recognition:
			if !ok {
				recognition = nil
				continue
			}
			a.handleRecognition(evt)
		case evt, ok := <-synthesis:
			if !ok {
				synthesis = nil
				continue
			}
			a.handleUtterance(evt)
		}
	}
}

func (a *Assistant) handleRecognition(evt stt.Event) {
	switch evt.Type {
	case stt.EventStart:
		a.starting = false
		a.update(func(s *State) { s.Listening = true })
		a.dispatch.submit(a.opts.Callbacks.OnSpeechStart)
	case stt.EventResult:
		if !hasFinal(evt) {
			return
		}
		text := stt.FinalTranscript(evt)
		a.update(func(s *State) { s.Transcript = text })
		if cb := a.opts.Callbacks.OnSpeechRecognized; cb != nil {
			a.dispatch.submit(func() { cb(text) })
		}
	case stt.EventError:
		a.starting = false
		a.errored = true
		a.update(func(s *State) { s.Listening = false })
		a.logger.Warn("recognition error", slog.String("code", evt.Code))
		a.metrics.recognitionError(evt.Code)
		a.notifyError(evt.Code)
	case stt.EventEnd:
		if a.errored {
			// End of the session that already failed; a restart may be pending.
			a.errored = false
			a.dispatch.submit(a.opts.Callbacks.OnSpeechEnd)
			return
		}
		a.starting = false
		a.update(func(s *State) { s.Listening = false })
		a.dispatch.submit(a.opts.Callbacks.OnSpeechEnd)
	}
}

func (a *Assistant) handleUtterance(evt tts.UtteranceEvent) {
	if evt.UtteranceID == "" || evt.UtteranceID != a.utterance {
		return
	}
	switch evt.Type {
	case tts.UtteranceStart:
		a.update(func(s *State) { s.Speaking = true })
	case tts.UtteranceEnd:
		a.utterance = ""
		a.update(func(s *State) { s.Speaking = false })
	case tts.UtteranceError:
		// Synthesis failures end the utterance like a normal completion.
		a.logger.Debug("utterance error", slog.String("utterance_id", evt.UtteranceID), slog.String("code", evt.Code))
		a.utterance = ""
		a.update(func(s *State) { s.Speaking = false })
	}
}

func (a *Assistant) notifyError(code string) {
	if cb := a.opts.Callbacks.OnError; cb != nil {
		a.dispatch.submit(func() { cb(code) })
	}
}

// update must only be called from the reducer goroutine.
func (a *Assistant) update(fn func(*State)) {
	a.mu.Lock()
	prev := a.state
	fn(&a.state)
	next := a.state
	a.mu.Unlock()
	if next != prev {
		a.watchers.publish(next)
	}
}

func hasFinal(evt stt.Event) bool {
	for i := evt.ResultIndex; i < len(evt.Results); i++ {
		if i >= 0 && evt.Results[i].Final {
			return true
		}
	}
	return false
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
