package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/docugenius/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(config.TelemetryConfig{LogLevel: "info"}, &buf).Info("hello", slog.String("component", "test"))
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json output, got %q", buf.String())
	}

	buf.Reset()
	logger := NewLogger(config.TelemetryConfig{LogLevel: "warn", LogFormat: "text"}, &buf)
	logger.Info("dropped")
	logger.Warn("kept")
	if out := buf.String(); strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("unexpected text output %q", out)
	}
}

func TestRuntimeServesVoiceState(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Port = freePort(t)
	cfg.DocQA.BaseURL = "http://127.0.0.1:1/api"
	cfg.Bus.Enabled = true
	cfg.Bus.Port = -1

	rt := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	if err := rt.Open(ctx); err != nil {
		cancel()
		t.Fatalf("open: %v", err)
	}
	go func() { done <- rt.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d", cfg.HTTP.Port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("runtime never became ready: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := http.Get(url + "/api/voice")
	if err != nil {
		t.Fatalf("get voice: %v", err)
	}
	var state map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&state)
	resp.Body.Close()
	if state["supported"] != true {
		t.Fatalf("expected mock backends to be supported, got %v", state)
	}

	resp, err = http.Get(url + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runtime exited with %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("runtime did not stop")
	}
}
