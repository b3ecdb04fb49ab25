package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/loqalabs/docugenius/internal/bus"
	"github.com/loqalabs/docugenius/internal/capability"
	"github.com/loqalabs/docugenius/internal/chat"
	"github.com/loqalabs/docugenius/internal/config"
	"github.com/loqalabs/docugenius/internal/docqa"
	"github.com/loqalabs/docugenius/internal/httpapi"
	"github.com/loqalabs/docugenius/internal/natsserver"
	"github.com/loqalabs/docugenius/internal/router"
	"github.com/loqalabs/docugenius/internal/stt"
	"github.com/loqalabs/docugenius/internal/voice"
	"golang.org/x/sync/errgroup"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	ctx           context.Context
	cancel        context.CancelFunc
	httpServer    *http.Server
	telemetryStop func(context.Context) error
	metrics       http.Handler
	embedded      *natsserver.EmbeddedServer
	busClient     *bus.Client
	chat          *chat.Session
	router        *router.Service
	assistant     *voice.Assistant
	ready         atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Open builds the runtime components without serving HTTP yet. Components are
// available through the accessors once Open returns.
func (r *Runtime) Open(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryStop = shutdownTelemetry
	r.metrics = metricsHandler

	if err := r.openBus(ctx); err != nil {
		r.close()
		return err
	}
	publisher := bus.NewPublisher(r.busClient)

	client := docqa.NewClient(r.cfg.DocQA, r.logger)
	r.chat = chat.NewSession(client, r.logger)
	r.router = router.NewService(r.ctx, r.chat, publisher, r.logger)

	probe := capability.Detect(r.ctx, r.cfg, r.logger)
	opts := voice.Options{
		Recognition: stt.Config{
			Continuous:     r.cfg.Voice.Continuous,
			InterimResults: r.cfg.Voice.InterimResults,
			Language:       r.cfg.Voice.Language,
		},
		Utterance: voice.UtteranceParams{
			Voice:  r.cfg.Voice.Voice,
			Rate:   r.cfg.Voice.Rate,
			Pitch:  r.cfg.Voice.Pitch,
			Volume: r.cfg.Voice.Volume,
		},
		Callbacks: r.router.Callbacks(),
		Logger:    r.logger,
	}
	r.assistant = voice.New(r.ctx, probe, opts)
	r.router.Bind(r.assistant)
	if err := r.router.Start(r.busClient); err != nil {
		r.close()
		return fmt.Errorf("failed to start router: %w", err)
	}

	checkCtx, cancelCheck := context.WithTimeout(ctx, 2*time.Second)
	defer cancelCheck()
	if err := client.Health(checkCtx); err != nil {
		r.logger.Warn("document backend not reachable", slog.String("base_url", r.cfg.DocQA.BaseURL), slog.String("error", err.Error()))
	}
	return nil
}

func (r *Runtime) openBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded nats: %w", err)
		}
		r.embedded = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = client
	return nil
}

// Run serves the control surface until ctx is cancelled, then shuts every
// component down.
func (r *Runtime) Run(ctx context.Context) error {
	defer r.close()

	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.HTTP.Enabled {
		addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
		r.httpServer = httpapi.NewServer(addr, httpapi.NewHandler(httpapi.Deps{
			Voice:      r.assistant,
			Controller: r.router,
			Chat:       r.chat,
			Metrics:    r.metrics,
			Ready:      r.Healthy,
			Logger:     r.logger,
		}))
		g.Go(func() error {
			r.logger.Info("http server listening", slog.String("addr", addr))
			if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.Bool("voice_supported", r.assistant.State().Supported))

	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		if r.httpServer == nil {
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})
	return g.Wait()
}

func (r *Runtime) close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.router != nil {
		r.router.Close()
	}
	if r.assistant != nil {
		r.assistant.Close()
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if r.telemetryStop != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.telemetryStop(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
		r.telemetryStop = nil
	}
}

// Healthy reports whether the runtime is serving and its bus, when enabled,
// is connected.
func (r *Runtime) Healthy() bool {
	if !r.ready.Load() {
		return false
	}
	return !r.cfg.Bus.Enabled || r.busClient.Healthy()
}

func (r *Runtime) Chat() *chat.Session        { return r.chat }
func (r *Runtime) Assistant() *voice.Assistant { return r.assistant }
func (r *Runtime) Router() *router.Service     { return r.router }

// Describe summarizes the configuration for the startup log.
func Describe(cfg config.Config) string {
	parts := []string{
		"stt=" + cfg.STT.Mode,
		"tts=" + cfg.TTS.Mode,
		"docqa=" + cfg.DocQA.BaseURL,
	}
	if cfg.Bus.Enabled {
		parts = append(parts, "bus=on")
	}
	return strings.Join(parts, " ")
}
