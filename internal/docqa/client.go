package docqa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/docugenius/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrBackendUnavailable wraps transport failures talking to the document
// backend.
var ErrBackendUnavailable = errors.New("document backend unavailable")

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("document backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("document backend returned status %d: %s", e.StatusCode, e.Message)
}

// Document is one file to upload. Size is informational and may be zero.
type Document struct {
	Name    string
	Size    int64
	Content io.Reader
}

type ProcessResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DocumentText string `json:"documentText,omitempty"`
}

type AskResponse struct {
	Success bool   `json:"success"`
	Answer  string `json:"answer"`
	Error   string `json:"error,omitempty"`
}

// HistoryEntry is one prior chat turn sent along with a question.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type askRequest struct {
	Question     string         `json:"question"`
	DocumentText string         `json:"documentText"`
	ChatHistory  []HistoryEntry `json:"chatHistory"`
}

// Client talks to the document processing and question answering backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewClient(cfg config.DocQAConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "docqa")),
		tracer:  otel.Tracer("github.com/loqalabs/docugenius/docqa"),
	}
}

// ProcessDocuments uploads docs as multipart parts file_0, file_1, ...
func (c *Client) ProcessDocuments(ctx context.Context, docs []Document) (ProcessResponse, error) {
	ctx, span := c.tracer.Start(ctx, "docqa.process_documents", trace.WithAttributes(attribute.Int("docqa.documents", len(docs))))
	defer span.End()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for i, doc := range docs {
		part, err := writer.CreateFormFile(fmt.Sprintf("file_%d", i), doc.Name)
		if err != nil {
			return ProcessResponse{}, fail(span, fmt.Errorf("create form part: %w", err))
		}
		if _, err := io.Copy(part, doc.Content); err != nil {
			return ProcessResponse{}, fail(span, fmt.Errorf("read %s: %w", doc.Name, err))
		}
	}
	if err := writer.Close(); err != nil {
		return ProcessResponse{}, fail(span, fmt.Errorf("close multipart body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process-documents", &body)
	if err != nil {
		return ProcessResponse{}, fail(span, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp ProcessResponse
	if err := c.do(req, &resp); err != nil {
		return ProcessResponse{}, fail(span, err)
	}
	span.SetAttributes(attribute.Bool("docqa.success", resp.Success))
	c.logger.Debug("documents processed", slog.Int("documents", len(docs)), slog.Bool("success", resp.Success))
	return resp, nil
}

// AskQuestion asks a question about documentText given the prior history.
func (c *Client) AskQuestion(ctx context.Context, question, documentText string, history []HistoryEntry) (AskResponse, error) {
	ctx, span := c.tracer.Start(ctx, "docqa.ask_question", trace.WithAttributes(attribute.Int("docqa.history", len(history))))
	defer span.End()

	if history == nil {
		history = []HistoryEntry{}
	}
	payload, err := json.Marshal(askRequest{Question: question, DocumentText: documentText, ChatHistory: history})
	if err != nil {
		return AskResponse{}, fail(span, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask-question", bytes.NewReader(payload))
	if err != nil {
		return AskResponse{}, fail(span, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp AskResponse
	if err := c.do(req, &resp); err != nil {
		return AskResponse{}, fail(span, err)
	}
	span.SetAttributes(attribute.Bool("docqa.success", resp.Success))
	return resp, nil
}

// Health checks GET {base}/health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrBackendUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("document backend error", slog.String("path", req.URL.Path), slog.Int("status", resp.StatusCode))
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// errorMessage pulls the human readable reason out of an error body. The
// backend uses "message" for uploads and "answer" for questions.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Answer  string `json:"answer"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, msg := range []string{payload.Message, payload.Answer, payload.Error} {
		if msg != "" {
			return msg
		}
	}
	return ""
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
