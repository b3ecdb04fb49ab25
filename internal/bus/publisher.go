package bus

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/docugenius/internal/protocol"
)

// Publisher broadcasts voice and chat events. A nil Publisher, or one
// without a client, drops everything.
type Publisher struct {
	client *Client
	now    func() time.Time
}

func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client, now: time.Now}
}

func (p *Publisher) PublishState(listening, speaking, supported bool, transcript string) {
	p.publish(protocol.SubjectVoiceState, protocol.VoiceState{
		Listening:  listening,
		Speaking:   speaking,
		Supported:  supported,
		Transcript: transcript,
		Timestamp:  p.timestamp(),
	})
}

func (p *Publisher) PublishTranscript(text string) {
	p.publish(protocol.SubjectTranscriptFinal, protocol.Transcript{Text: text, Timestamp: p.timestamp()})
}

func (p *Publisher) PublishError(code string) {
	p.publish(protocol.SubjectVoiceError, protocol.VoiceError{Code: code, Timestamp: p.timestamp()})
}

func (p *Publisher) PublishAnswer(question, answer, source string) {
	p.publish(protocol.SubjectChatAnswer, protocol.Answer{
		Question:  question,
		Answer:    answer,
		Source:    source,
		Timestamp: p.timestamp(),
	})
}

func (p *Publisher) timestamp() time.Time {
	if p == nil || p.now == nil {
		return time.Now().UTC()
	}
	return p.now().UTC()
}

func (p *Publisher) publish(subject string, payload any) {
	if p == nil || p.client == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.client.log.Error("failed to marshal bus payload", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := p.client.conn.Publish(subject, data); err != nil {
		p.client.log.Warn("failed to publish", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
