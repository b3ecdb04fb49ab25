package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/docugenius/internal/config"
	"github.com/loqalabs/docugenius/internal/natsserver"
	"github.com/loqalabs/docugenius/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func connectEmbedded(t *testing.T) *Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	p.PublishState(true, false, true, "")
	p.PublishTranscript("hello")
	p.PublishError("no-speech")
	p.PublishAnswer("q", "a", "voice")
	NewPublisher(nil).PublishTranscript("hello")
}

func TestPublishAnswer(t *testing.T) {
	client := connectEmbedded(t)
	if !client.Healthy() {
		t.Fatalf("expected healthy client")
	}
	sub, err := client.Conn().SubscribeSync(protocol.SubjectChatAnswer)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	NewPublisher(client).PublishAnswer("capital?", "Paris.", "voice")
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var answer protocol.Answer
	if err := json.Unmarshal(msg.Data, &answer); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if answer.Answer != "Paris." || answer.Source != "voice" || answer.Timestamp.IsZero() {
		t.Fatalf("unexpected answer %+v", answer)
	}
}

func TestConnectWithoutServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, newLogger()); err == nil {
		t.Fatalf("expected error without servers")
	}
}
