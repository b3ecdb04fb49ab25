package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func nextEvent(t *testing.T, ch <-chan UtteranceEvent) UtteranceEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for utterance event")
		return UtteranceEvent{}
	}
}

func TestQueuePlaysUtterance(t *testing.T) {
	q := NewQueue(context.Background(), NewMockSynth(22050, 1, 0), DiscardPlayer{}, newLogger())
	t.Cleanup(func() { _ = q.Close() })

	if err := q.Speak(Utterance{ID: "a", Text: "hello"}); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if evt := nextEvent(t, q.Events()); evt.Type != UtteranceStart || evt.UtteranceID != "a" {
		t.Fatalf("expected start for a, got %+v", evt)
	}
	if evt := nextEvent(t, q.Events()); evt.Type != UtteranceEnd || evt.UtteranceID != "a" {
		t.Fatalf("expected end for a, got %+v", evt)
	}
}

func TestQueueAssignsIDs(t *testing.T) {
	q := NewQueue(context.Background(), NewMockSynth(22050, 1, 0), nil, nil)
	t.Cleanup(func() { _ = q.Close() })

	if err := q.Speak(Utterance{Text: "hello"}); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if evt := nextEvent(t, q.Events()); evt.UtteranceID == "" {
		t.Fatalf("expected generated utterance id")
	}
}

func TestQueueCancelInterruptsAndDropsPending(t *testing.T) {
	q := NewQueue(context.Background(), NewMockSynth(22050, 1, 100*time.Millisecond), DiscardPlayer{}, newLogger())
	t.Cleanup(func() { _ = q.Close() })

	_ = q.Speak(Utterance{ID: "long", Text: "a rather long sentence"})
	if evt := nextEvent(t, q.Events()); evt.Type != UtteranceStart {
		t.Fatalf("expected start, got %+v", evt)
	}
	_ = q.Speak(Utterance{ID: "queued", Text: "next"})
	q.Cancel()

	got := map[string]UtteranceEvent{}
	for len(got) < 2 {
		evt := nextEvent(t, q.Events())
		got[evt.UtteranceID] = evt
	}
	if got["queued"].Type != UtteranceError || got["queued"].Code != CodeCanceled {
		t.Fatalf("expected queued utterance canceled, got %+v", got["queued"])
	}
	if got["long"].Type != UtteranceError || got["long"].Code != CodeInterrupted {
		t.Fatalf("expected playing utterance interrupted, got %+v", got["long"])
	}
}

func TestQueueCancelReachesPoppedUtterance(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := &Queue{
		logger: newLogger(),
		events: make(chan UtteranceEvent, 8),
		ctx:    ctx,
		cancel: cancel,
	}
	q.pending = []Utterance{{ID: "old", Text: "hello"}}

	u, playCtx, stop, ok := q.next()
	if !ok || u.ID != "old" {
		t.Fatalf("expected to pop old utterance, got %+v ok=%v", u, ok)
	}
	defer stop()
	q.Cancel()
	if playCtx.Err() == nil {
		t.Fatalf("expected cancel to interrupt the popped utterance before it plays")
	}
}

type failingSynth struct{}

func (failingSynth) Synthesize(_ context.Context, _ SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	errs <- errors.New("voice not installed")
	close(chunks)
	close(errs)
	return chunks, errs
}

func TestQueueReportsSynthesisFailure(t *testing.T) {
	q := NewQueue(context.Background(), failingSynth{}, DiscardPlayer{}, newLogger())
	t.Cleanup(func() { _ = q.Close() })

	_ = q.Speak(Utterance{ID: "x", Text: "hello"})
	nextEvent(t, q.Events())
	evt := nextEvent(t, q.Events())
	if evt.Type != UtteranceError || evt.Code != CodeSynthesisFailed {
		t.Fatalf("expected synthesis failure, got %+v", evt)
	}
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue(context.Background(), NewMockSynth(22050, 1, 0), DiscardPlayer{}, newLogger())
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Speak(Utterance{Text: "late"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	q.Cancel()
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecSynthAndPlayer(t *testing.T) {
	pcm := base64.StdEncoding.EncodeToString([]byte{0, 0, 1, 0, 2, 0, 3, 0})
	synthScript := writeScript(t, "synth.sh", fmt.Sprintf(`cat > /dev/null
echo '{"pcm_base64":"%s","final":false}'
echo '{"pcm_base64":"%s","final":true}'
`, pcm, pcm))
	marker := filepath.Join(t.TempDir(), "played")
	playerScript := writeScript(t, "player.sh", fmt.Sprintf(`test -s "$1" && cp "$1" %s
`, marker))

	synth, err := NewExecSynth(synthScript, 16000, 1)
	if err != nil {
		t.Fatalf("synth: %v", err)
	}
	player, err := NewExecPlayer(playerScript)
	if err != nil {
		t.Fatalf("player: %v", err)
	}
	q := NewQueue(context.Background(), synth, player, newLogger())
	t.Cleanup(func() { _ = q.Close() })

	_ = q.Speak(Utterance{ID: "wav", Text: "hello", Rate: 0.9, Pitch: 1, Volume: 1})
	nextEvent(t, q.Events())
	if evt := nextEvent(t, q.Events()); evt.Type != UtteranceEnd {
		t.Fatalf("expected end, got %+v", evt)
	}
	info, err := os.Stat(marker)
	if err != nil {
		t.Fatalf("player did not receive a wav file: %v", err)
	}
	if info.Size() <= 44 {
		t.Fatalf("unexpected wav size %d", info.Size())
	}
}

func TestWritePCMRejectsOddPayload(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "odd_*.wav")
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	if err := writePCMToWav(file, []byte{1, 2, 3}, 16000, 1); err == nil {
		t.Fatalf("expected alignment error")
	}
}
