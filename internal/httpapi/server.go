package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/loqalabs/docugenius/internal/chat"
	"github.com/loqalabs/docugenius/internal/docqa"
	"github.com/loqalabs/docugenius/internal/voice"
)

const maxUploadBytes = 64 << 20

type Voice interface {
	State() voice.State
	Watch() (<-chan voice.State, func())
	Speak(text string)
	StopSpeaking()
}

// Controller is the voice assistant panel: listening control plus the
// question currently being answered.
type Controller interface {
	Listen(action string) error
	Processing() bool
	LastResponse() string
}

type Chat interface {
	Upload(ctx context.Context, docs []docqa.Document) (chat.Summary, error)
	Ask(ctx context.Context, question string) (chat.Message, error)
	Messages() []chat.Message
	Files() []string
	Clear()
}

type Deps struct {
	Voice      Voice
	Controller Controller
	Chat       Chat
	Metrics    http.Handler
	Ready      func() bool
	Logger     *slog.Logger
}

type handler struct {
	Deps
	logger *slog.Logger
}

type voiceStatus struct {
	voice.State
	Processing   bool   `json:"processing"`
	LastResponse string `json:"last_response"`
}

// NewHandler builds the control surface router.
func NewHandler(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &handler{Deps: deps, logger: logger.With(slog.String("component", "httpapi"))}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/voice", func(r chi.Router) {
			r.Get("/", h.getVoice)
			r.Get("/stream", h.streamVoice)
			r.Post("/listen", h.postListen)
			r.Post("/speak", h.postSpeak)
			r.Delete("/speak", h.deleteSpeak)
		})
		r.Route("/chat", func(r chi.Router) {
			r.Delete("/", h.deleteChat)
			r.Post("/documents", h.postDocuments)
			r.Get("/messages", h.getMessages)
			r.Post("/messages", h.postMessage)
		})
	})
	return r
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) handleReady(w http.ResponseWriter, _ *http.Request) {
	if h.Ready == nil || h.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (h *handler) status() voiceStatus {
	return voiceStatus{
		State:        h.Voice.State(),
		Processing:   h.Controller.Processing(),
		LastResponse: h.Controller.LastResponse(),
	}
}

func (h *handler) getVoice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

func (h *handler) postListen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.Voice.State().Supported {
		writeError(w, http.StatusConflict, "voice features are not supported")
		return
	}
	if err := h.Controller.Listen(req.Action); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, h.status())
}

func (h *handler) postSpeak(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	if !h.Voice.State().Supported {
		writeError(w, http.StatusConflict, "voice features are not supported")
		return
	}
	h.Voice.Speak(req.Text)
	writeJSON(w, http.StatusAccepted, h.status())
}

func (h *handler) deleteSpeak(w http.ResponseWriter, _ *http.Request) {
	h.Voice.StopSpeaking()
	writeJSON(w, http.StatusOK, h.status())
}

func (h *handler) postDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	fields := make([]string, 0, len(r.MultipartForm.File))
	for field := range r.MultipartForm.File {
		fields = append(fields, field)
	}
	sortUploadFields(fields)

	var docs []docqa.Document
	for _, field := range fields {
		for _, header := range r.MultipartForm.File[field] {
			file, err := header.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			defer file.Close()
			docs = append(docs, docqa.Document{Name: header.Filename, Content: file})
		}
	}

	summary, err := h.Chat.Upload(r.Context(), docs)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// sortUploadFields orders form fields such as file_0, file_1 ... file_10 by
// their numeric suffix, falling back to the field name.
func sortUploadFields(fields []string) {
	sort.SliceStable(fields, func(i, j int) bool {
		pi, ni, oki := splitFieldIndex(fields[i])
		pj, nj, okj := splitFieldIndex(fields[j])
		if oki && okj && pi == pj {
			return ni < nj
		}
		return fields[i] < fields[j]
	})
}

func splitFieldIndex(field string) (string, int, bool) {
	idx := strings.LastIndex(field, "_")
	if idx < 0 {
		return field, 0, false
	}
	n, err := strconv.Atoi(field[idx+1:])
	if err != nil {
		return field, 0, false
	}
	return field[:idx], n, true
}

func (h *handler) getMessages(w http.ResponseWriter, _ *http.Request) {
	messages := h.Chat.Messages()
	if messages == nil {
		messages = []chat.Message{}
	}
	files := h.Chat.Files()
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files, "messages": messages})
}

func (h *handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	answer, err := h.Chat.Ask(r.Context(), req.Question)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (h *handler) deleteChat(w http.ResponseWriter, _ *http.Request) {
	h.Chat.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) writeChatError(w http.ResponseWriter, err error) {
	var backendErr *chat.BackendError
	switch {
	case errors.Is(err, chat.ErrNoFiles), errors.Is(err, chat.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrNoDocument):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &backendErr):
		h.logger.Warn("document backend request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, backendErr.Message)
	default:
		h.logger.Error("chat request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		return errors.New("invalid json: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// NewServer wraps handler in an http.Server with conservative timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
