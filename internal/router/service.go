package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/loqalabs/docugenius/internal/bus"
	"github.com/loqalabs/docugenius/internal/chat"
	"github.com/loqalabs/docugenius/internal/protocol"
	"github.com/loqalabs/docugenius/internal/voice"
	"github.com/nats-io/nats.go"
)

const noDocumentReply = "Please upload a document first before asking questions."

// Asker answers questions about the uploaded document.
type Asker interface {
	Ask(ctx context.Context, question string) (chat.Message, error)
}

// Voice is the part of the voice assistant the router drives.
type Voice interface {
	StartListening()
	StopListening()
	Speak(text string)
	StopSpeaking()
	State() voice.State
	Watch() (<-chan voice.State, func())
}

// Service connects recognized speech to the chat session and speaks the
// answers back. It also exposes the assistant over the bus.
type Service struct {
	chat      Asker
	publisher *bus.Publisher
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	inflight  sync.WaitGroup
	subs      []*nats.Subscription

	mu           sync.Mutex
	voice        Voice
	processing   int
	lastResponse string
	closed       bool
}

func NewService(parent context.Context, asker Asker, publisher *bus.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		chat:      asker,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "router")),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Callbacks returns the hooks to construct the voice assistant with.
func (s *Service) Callbacks() voice.Callbacks {
	return voice.Callbacks{
		OnSpeechRecognized: s.handleRecognized,
		OnSpeechStart: func() {
			s.logger.Debug("listening")
		},
		OnSpeechEnd: func() {
			s.logger.Debug("speech recognition ended")
		},
		OnError: func(code string) {
			s.logger.Warn("speech recognition error", slog.String("code", code))
			s.publisher.PublishError(code)
		},
	}
}

// Bind attaches the assistant and mirrors its state onto the bus.
func (s *Service) Bind(v Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = v
	if s.closed {
		return
	}

	states, stop := v.Watch()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case state, ok := <-states:
				if !ok {
					return
				}
				s.publisher.PublishState(state.Listening, state.Speaking, state.Supported, state.Transcript)
			}
		}
	}()
}

// Start subscribes to the control subjects. A nil client leaves the bus
// surface disabled.
func (s *Service) Start(client *bus.Client) error {
	if client == nil {
		return nil
	}
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectSpeakRequest, s.handleSpeakRequest},
		{protocol.SubjectListenControl, s.handleListenControl},
		{protocol.SubjectChatQuestion, s.handleQuestion},
	}
	for _, h := range handlers {
		sub, err := client.Conn().Subscribe(h.subject, h.handler)
		if err != nil {
			s.drain()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.drain()
	s.inflight.Wait()
	s.wg.Wait()
}

func (s *Service) drain() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

// Processing reports whether a question is waiting for its answer.
func (s *Service) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing > 0
}

// LastResponse is the most recent answer spoken by the assistant.
func (s *Service) LastResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponse
}

// Listen applies a listen control action: start, stop or toggle.
func (s *Service) Listen(action string) error {
	v := s.boundVoice()
	if v == nil {
		return nil
	}
	switch action {
	case protocol.ListenStart:
		v.StartListening()
	case protocol.ListenStop:
		v.StopListening()
	case protocol.ListenToggle:
		s.ToggleListening()
	default:
		return errors.New("unknown listen action " + action)
	}
	return nil
}

func (s *Service) ToggleListening() {
	v := s.boundVoice()
	if v == nil {
		return
	}
	if v.State().Listening {
		v.StopListening()
	} else {
		v.StartListening()
	}
}

// ToggleSpeaking stops playback, or replays the last response when idle.
func (s *Service) ToggleSpeaking() {
	v := s.boundVoice()
	if v == nil {
		return
	}
	if v.State().Speaking {
		v.StopSpeaking()
		return
	}
	if last := s.LastResponse(); last != "" {
		v.Speak(last)
	}
}

// Wait blocks until in-flight questions are answered.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func (s *Service) handleRecognized(text string) {
	if v := s.boundVoice(); v != nil {
		v.StopListening()
	}
	s.publisher.PublishTranscript(text)
	s.ask(text, "voice", true)
}

func (s *Service) ask(question, source string, speak bool) {
	question = strings.TrimSpace(question)
	if question == "" {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.processing++
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		answer, err := s.chat.Ask(s.ctx, question)

		s.mu.Lock()
		s.processing--
		if err == nil && speak {
			s.lastResponse = answer.Content
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("question failed", slog.String("source", source), slogError(err))
			if speak {
				s.speak(replyFor(err))
			}
			return
		}
		s.publisher.PublishAnswer(question, answer.Content, source)
		if speak {
			s.speak(answer.Content)
		}
	}()
}

func (s *Service) speak(text string) {
	if s.ctx.Err() != nil {
		return
	}
	if v := s.boundVoice(); v != nil {
		v.Speak(text)
	}
}

func (s *Service) boundVoice() Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

func (s *Service) handleSpeakRequest(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("router failed to decode speak request", slogError(err))
		return
	}
	if v := s.boundVoice(); v != nil {
		v.Speak(req.Text)
	}
}

func (s *Service) handleListenControl(msg *nats.Msg) {
	var ctl protocol.ListenControl
	if err := json.Unmarshal(msg.Data, &ctl); err != nil {
		s.logger.Warn("router failed to decode listen control", slogError(err))
		return
	}
	if err := s.Listen(ctl.Action); err != nil {
		s.logger.Warn("router rejected listen control", slogError(err))
	}
}

func (s *Service) handleQuestion(msg *nats.Msg) {
	var q protocol.Question
	if err := json.Unmarshal(msg.Data, &q); err != nil {
		s.logger.Warn("router failed to decode question", slogError(err))
		return
	}
	s.ask(q.Text, "text", false)
}

// replyFor turns a failed question into something worth saying out loud.
func replyFor(err error) string {
	var backendErr *chat.BackendError
	switch {
	case errors.Is(err, chat.ErrNoDocument):
		return noDocumentReply
	case errors.As(err, &backendErr):
		return backendErr.Message
	default:
		return "Sorry, I could not answer that."
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
