package capability

import (
	"context"
	"testing"

	"github.com/loqalabs/docugenius/internal/config"
	"github.com/loqalabs/docugenius/internal/stt"
	"github.com/loqalabs/docugenius/internal/tts"
)

func TestProbeMissingBoth(t *testing.T) {
	result := Probe(nil, nil)
	unsupported, ok := result.(Unsupported)
	if !ok {
		t.Fatalf("expected Unsupported, got %T", result)
	}
	if len(unsupported.Missing) != 2 {
		t.Fatalf("expected two missing capabilities, got %v", unsupported.Missing)
	}
}

func TestProbeSupported(t *testing.T) {
	engine := tts.NewQueue(context.Background(), tts.NewMockSynth(22050, 1, 0), nil, nil)
	t.Cleanup(func() { _ = engine.Close() })

	result := Probe(stt.NewMockRecognizer(), engine)
	supported, ok := result.(Supported)
	if !ok {
		t.Fatalf("expected Supported, got %T", result)
	}
	if supported.Recognizer == nil || supported.Engine == nil {
		t.Fatalf("expected handles to be set")
	}
}

func TestDetectNoneMode(t *testing.T) {
	cfg := config.Default()
	cfg.STT.Mode = "none"
	result := Detect(context.Background(), cfg, nil)
	unsupported, ok := result.(Unsupported)
	if !ok {
		t.Fatalf("expected Unsupported, got %T", result)
	}
	if len(unsupported.Missing) != 1 || unsupported.Missing[0] != SpeechRecognition {
		t.Fatalf("unexpected missing list %v", unsupported.Missing)
	}
}

func TestDetectMissingBinary(t *testing.T) {
	cfg := config.Default()
	cfg.TTS.Mode = "exec"
	cfg.TTS.Command = "docugenius-no-such-synth --json"
	cfg.TTS.PlayerCommand = "aplay -q"
	result := Detect(context.Background(), cfg, nil)
	unsupported, ok := result.(Unsupported)
	if !ok {
		t.Fatalf("expected Unsupported, got %T", result)
	}
	if unsupported.Missing[0] != SpeechSynthesis {
		t.Fatalf("unexpected missing list %v", unsupported.Missing)
	}
}

func TestDetectMock(t *testing.T) {
	result := Detect(context.Background(), config.Default(), nil)
	supported, ok := result.(Supported)
	if !ok {
		t.Fatalf("expected Supported, got %T", result)
	}
	_ = supported.Engine.Close()
}
