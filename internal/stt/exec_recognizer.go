package stt

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/loqalabs/docugenius/internal/config"
	"github.com/mattn/go-shellwords"
)

type execRecognizer struct {
	cmd    []string
	cfg    config.STTConfig
	logger *slog.Logger
}

// execLine is one JSON line written by the recognizer command.
type execLine struct {
	ResultIndex int      `json:"result_index"`
	Results     []Result `json:"results"`
	Error       string   `json:"error"`
}

// ParseCommand splits a configured command line into argv.
func ParseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return args, nil
}

func NewExecRecognizer(cfg config.STTConfig, logger *slog.Logger) (Recognizer, error) {
	args, err := ParseCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &execRecognizer{cmd: args, cfg: cfg, logger: logger.With(slog.String("component", "stt-exec"))}, nil
}

func (r *execRecognizer) Open(cfg Config) (Session, error) {
	return &execSession{
		rec:    r,
		cfg:    cfg,
		events: make(chan Event, 64),
	}, nil
}

type execSession struct {
	rec    *execRecognizer
	cfg    Config
	events chan Event

	mu     sync.Mutex
	run    *execRun
	closed bool
	wg     sync.WaitGroup
}

// execRun is one recognizer process. A run stops owning the session as soon
// as it has reported its end event.
type execRun struct {
	cancel  context.CancelFunc
	stdout  io.Closer
	stopped bool
}

func (r *execRun) kill() {
	r.cancel()
	_ = r.stdout.Close()
}

func (s *execSession) args() []string {
	args := append([]string{}, s.rec.cmd[1:]...)
	if s.cfg.Language != "" {
		args = append(args, "--language", s.cfg.Language)
	}
	if s.cfg.Continuous {
		args = append(args, "--continuous")
	}
	if s.cfg.InterimResults {
		args = append(args, "--interim")
	}
	if s.rec.cfg.ModelPath != "" {
		args = append(args, "--model", s.rec.cfg.ModelPath)
	}
	return args
}

func (s *execSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	if s.run != nil {
		return errors.New("recognition already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	command := exec.CommandContext(ctx, s.rec.cmd[0], s.args()...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stt stdout pipe: %w", err)
	}
	if err := command.Start(); err != nil {
		cancel()
		return fmt.Errorf("start stt command: %w", err)
	}
	run := &execRun{cancel: cancel, stdout: stdout}
	s.run = run
	s.emit(Event{Type: EventStart})

	s.wg.Add(1)
	go s.read(run, command, stdout)
	return nil
}

func (s *execSession) read(run *execRun, command *exec.Cmd, stdout io.Reader) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg execLine
		if err := json.Unmarshal(line, &msg); err != nil {
			s.rec.logger.Warn("invalid recognizer output", slogError(err))
			continue
		}
		if msg.Error != "" {
			// The first error terminates the run.
			s.finish(run, Event{Type: EventError, Code: msg.Error})
			break
		}
		s.mu.Lock()
		if s.run == run {
			s.emit(Event{Type: EventResult, ResultIndex: msg.ResultIndex, Results: msg.Results})
		}
		s.mu.Unlock()
	}

	err := command.Wait()
	if err != nil {
		s.mu.Lock()
		failed := s.run == run && !run.stopped
		s.mu.Unlock()
		if failed {
			s.rec.logger.Warn("stt command exited", slogError(err))
			s.finish(run, Event{Type: EventError, Code: CodeAudioCapture})
			return
		}
	}
	s.finish(run)
}

// finish reports evts followed by the end event and releases the session for
// the next Start. It does nothing once run has been released.
func (s *execSession) finish(run *execRun, evts ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != run {
		return
	}
	for _, evt := range evts {
		s.emit(evt)
	}
	s.emit(Event{Type: EventEnd})
	s.run = nil
	run.kill()
}

func (s *execSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return
	}
	s.run.stopped = true
	s.run.kill()
}

func (s *execSession) Events() <-chan Event { return s.events }

func (s *execSession) Close() error {
	s.Stop()
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// emit must be called with s.mu held.
func (s *execSession) emit(evt Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- evt:
	default:
		s.rec.logger.Warn("dropping recognition event", slog.String("type", string(evt.Type)))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
