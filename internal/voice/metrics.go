package voice

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	sessions  metric.Int64Counter
	errors    metric.Int64Counter
	spoken    metric.Int64Counter
	preempted metric.Int64Counter
}

func newMetrics() metrics {
	meter := otel.Meter("github.com/loqalabs/docugenius/voice")
	var m metrics
	m.sessions, _ = meter.Int64Counter("docugenius.voice.recognition.sessions",
		metric.WithDescription("Recognition sessions started"))
	m.errors, _ = meter.Int64Counter("docugenius.voice.recognition.errors",
		metric.WithDescription("Recognition errors by code"))
	m.spoken, _ = meter.Int64Counter("docugenius.voice.utterances",
		metric.WithDescription("Utterances submitted for synthesis"))
	m.preempted, _ = meter.Int64Counter("docugenius.voice.utterances.preempted",
		metric.WithDescription("Utterances cancelled by a newer one"))
	return m
}

func (m metrics) sessionStarted() {
	if m.sessions != nil {
		m.sessions.Add(context.Background(), 1)
	}
}

func (m metrics) recognitionError(code string) {
	if m.errors != nil {
		m.errors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("code", code)))
	}
}

func (m metrics) utterance() {
	if m.spoken != nil {
		m.spoken.Add(context.Background(), 1)
	}
}

func (m metrics) utterancePreempted() {
	if m.preempted != nil {
		m.preempted.Add(context.Background(), 1)
	}
}
