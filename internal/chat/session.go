package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/docugenius/internal/docqa"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	uploadFailedText = "Failed to process documents. Please ensure your backend is running."
	askFailedText    = "Failed to get response. Please ensure your backend is running."
)

var (
	ErrNoFiles       = errors.New("no documents to upload")
	ErrNoDocument    = errors.New("no document uploaded; upload a document before asking questions")
	ErrEmptyQuestion = errors.New("question is empty")
)

// BackendError carries the message to show the user when the document
// backend failed or refused a request.
type BackendError struct {
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BackendError) Unwrap() error { return e.Err }

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Backend is the subset of the document client a session needs.
type Backend interface {
	ProcessDocuments(ctx context.Context, docs []docqa.Document) (docqa.ProcessResponse, error)
	AskQuestion(ctx context.Context, question, documentText string, history []docqa.HistoryEntry) (docqa.AskResponse, error)
}

type Summary struct {
	Files   []string `json:"files"`
	Welcome Message  `json:"welcome"`
}

// Session holds the uploaded document and the conversation about it.
type Session struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	mu           sync.Mutex
	documentText string
	files        []string
	messages     []Message
}

func NewSession(backend Backend, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		backend: backend,
		logger:  logger.With(slog.String("component", "chat")),
		now:     time.Now,
	}
}

// Upload sends docs to the backend. On success the document replaces any
// previous one and the history restarts with a welcome message.
func (s *Session) Upload(ctx context.Context, docs []docqa.Document) (Summary, error) {
	if len(docs) == 0 {
		return Summary{}, ErrNoFiles
	}
	names := make([]string, len(docs))
	for i, doc := range docs {
		names[i] = doc.Name
	}

	resp, err := s.backend.ProcessDocuments(ctx, docs)
	if err != nil {
		s.logger.Warn("document upload failed", slog.Any("files", names), slogError(err))
		return Summary{}, &BackendError{Message: uploadFailedText, Err: err}
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = uploadFailedText
		}
		return Summary{}, &BackendError{Message: msg}
	}
	if resp.DocumentText == "" {
		return Summary{}, &BackendError{Message: "The backend returned no text for the uploaded document(s)."}
	}

	welcome := Message{
		Role: RoleAssistant,
		Content: fmt.Sprintf("Hello! I've successfully processed your document(s): %s. I'm ready to help you understand the content. What would you like to know?",
			strings.Join(names, ", ")),
		Timestamp: s.now(),
	}

	s.mu.Lock()
	s.documentText = resp.DocumentText
	s.files = names
	s.messages = []Message{welcome}
	s.mu.Unlock()

	s.logger.Info("documents processed", slog.Any("files", names), slog.Int("text_length", len(resp.DocumentText)))
	return Summary{Files: append([]string(nil), names...), Welcome: welcome}, nil
}

// Ask sends question with the conversation so far and records both turns.
// On failure the user turn stays in the history.
func (s *Session) Ask(ctx context.Context, question string) (Message, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Message{}, ErrEmptyQuestion
	}

	s.mu.Lock()
	if s.documentText == "" {
		s.mu.Unlock()
		return Message{}, ErrNoDocument
	}
	documentText := s.documentText
	history := make([]docqa.HistoryEntry, 0, len(s.messages))
	for _, msg := range s.messages {
		history = append(history, docqa.HistoryEntry{Role: msg.Role, Content: msg.Content, Timestamp: msg.Timestamp})
	}
	s.messages = append(s.messages, Message{Role: RoleUser, Content: question, Timestamp: s.now()})
	s.mu.Unlock()

	resp, err := s.backend.AskQuestion(ctx, question, documentText, history)
	if err != nil {
		s.logger.Warn("question failed", slogError(err))
		return Message{}, &BackendError{Message: askFailedText, Err: err}
	}
	if !resp.Success {
		msg := resp.Answer
		if msg == "" {
			msg = resp.Error
		}
		if msg == "" {
			msg = askFailedText
		}
		return Message{}, &BackendError{Message: msg}
	}

	answer := Message{Role: RoleAssistant, Content: resp.Answer, Timestamp: s.now()}
	s.mu.Lock()
	// A Clear or a new upload while the question was in flight discards it.
	if s.documentText == documentText {
		s.messages = append(s.messages, answer)
	}
	s.mu.Unlock()
	return answer, nil
}

// Clear drops the document, the file list and the history.
func (s *Session) Clear() {
	s.mu.Lock()
	s.documentText = ""
	s.files = nil
	s.messages = nil
	s.mu.Unlock()
	s.logger.Info("chat cleared")
}

func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *Session) HasDocument() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentText != ""
}

func (s *Session) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
