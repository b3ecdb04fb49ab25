package capability

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/loqalabs/docugenius/internal/config"
	"github.com/loqalabs/docugenius/internal/stt"
	"github.com/loqalabs/docugenius/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	SpeechRecognition = "speech-recognition"
	SpeechSynthesis   = "speech-synthesis"
)

// Result is the outcome of probing the environment: either Supported or
// Unsupported.
type Result interface {
	isResult()
}

// Supported carries the platform handles the voice assistant takes ownership
// of.
type Supported struct {
	Recognizer stt.Recognizer
	Engine     tts.Engine
}

// Unsupported lists the capabilities that could not be found.
type Unsupported struct {
	Missing []string
}

func (Supported) isResult()   {}
func (Unsupported) isResult() {}

// Probe combines already constructed backends. A nil backend counts as
// missing.
func Probe(rec stt.Recognizer, engine tts.Engine) Result {
	var missing []string
	if rec == nil {
		missing = append(missing, SpeechRecognition)
	}
	if engine == nil {
		missing = append(missing, SpeechSynthesis)
	}
	if len(missing) > 0 {
		return Unsupported{Missing: missing}
	}
	return Supported{Recognizer: rec, Engine: engine}
}

// Detect builds the configured speech backends. A backend in mode "none", or
// an exec backend whose binary cannot be found, is reported missing. When
// recognition is missing, a synthesis engine built here is closed again.
func Detect(ctx context.Context, cfg config.Config, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log := logger.With(slog.String("component", "capability-probe"))

	rec := detectRecognizer(cfg.STT, log)
	engine := detectEngine(ctx, cfg.TTS, log)

	result := Probe(rec, engine)
	if unsupported, ok := result.(Unsupported); ok {
		if engine != nil {
			_ = engine.Close()
		}
		log.Warn("voice features unsupported", slog.Any("missing", unsupported.Missing))
	} else {
		log.Info("voice features supported", slog.String("stt_mode", cfg.STT.Mode), slog.String("tts_mode", cfg.TTS.Mode))
	}
	recordSupport(result)
	return result
}

func detectRecognizer(cfg config.STTConfig, log *slog.Logger) stt.Recognizer {
	switch cfg.Mode {
	case "mock":
		return stt.NewMockRecognizer(cfg.MockPhrases...)
	case "exec":
		args, err := stt.ParseCommand(cfg.Command)
		if err != nil {
			log.Warn("invalid stt command", slogError(err))
			return nil
		}
		if _, err := exec.LookPath(args[0]); err != nil {
			log.Warn("stt command not found", slog.String("command", args[0]), slogError(err))
			return nil
		}
		rec, err := stt.NewExecRecognizer(cfg, log)
		if err != nil {
			log.Warn("failed to create stt recognizer", slogError(err))
			return nil
		}
		return rec
	default:
		return nil
	}
}

func detectEngine(ctx context.Context, cfg config.TTSConfig, log *slog.Logger) tts.Engine {
	var (
		synth  tts.Synthesizer
		player tts.Player
	)
	switch cfg.Mode {
	case "mock":
		synth = tts.NewMockSynth(cfg.SampleRate, cfg.Channels, 20*time.Millisecond)
		player = tts.DiscardPlayer{}
	case "exec":
		for _, command := range []string{cfg.Command, cfg.PlayerCommand} {
			args, err := tts.ParseCommand(command)
			if err != nil {
				log.Warn("invalid tts command", slogError(err))
				return nil
			}
			if _, err := exec.LookPath(args[0]); err != nil {
				log.Warn("tts command not found", slog.String("command", args[0]), slogError(err))
				return nil
			}
		}
		s, err := tts.NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
		if err != nil {
			log.Warn("failed to create tts synthesizer", slogError(err))
			return nil
		}
		p, err := tts.NewExecPlayer(cfg.PlayerCommand)
		if err != nil {
			log.Warn("failed to create tts player", slogError(err))
			return nil
		}
		synth, player = s, p
	default:
		return nil
	}
	return tts.NewQueue(ctx, synth, player, log)
}

func recordSupport(result Result) {
	meter := otel.Meter("github.com/loqalabs/docugenius/capability")
	gauge, err := meter.Int64ObservableGauge("docugenius.capability.supported",
		metric.WithDescription("1 when speech recognition and synthesis are both available"))
	if err != nil {
		return
	}
	var value int64
	if _, ok := result.(Supported); ok {
		value = 1
	}
	_, _ = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, value)
		return nil
	}, gauge)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
