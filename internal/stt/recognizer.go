package stt

import "strings"

// Config controls how a recognition session listens.
type Config struct {
	Continuous     bool
	InterimResults bool
	Language       string
}

// EventType identifies what a recognition session reported.
type EventType string

const (
	EventStart  EventType = "start"
	EventResult EventType = "result"
	EventError  EventType = "error"
	EventEnd    EventType = "end"
)

// Error codes reported with EventError.
const (
	CodeNoSpeech             = "no-speech"
	CodeAborted              = "aborted"
	CodeAudioCapture         = "audio-capture"
	CodeNetwork              = "network"
	CodeNotAllowed           = "not-allowed"
	CodeServiceNotAllowed    = "service-not-allowed"
	CodeLanguageNotSupported = "language-not-supported"
	CodeStartFailed          = "start-failed"
)

// Result is one recognized span. Final results will not be revised.
type Result struct {
	Transcript string `json:"transcript"`
	Final      bool   `json:"final"`
}

// Event is a single notification from a recognition session. Result events
// carry the batch of results the engine reported; ResultIndex is the first
// entry that changed since the previous batch.
type Event struct {
	Type        EventType
	ResultIndex int
	Results     []Result
	Code        string
}

// FinalTranscript concatenates the final results of a result batch, in order,
// starting at ResultIndex. Interim results are skipped.
func FinalTranscript(evt Event) string {
	if evt.Type != EventResult {
		return ""
	}
	start := evt.ResultIndex
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for i := start; i < len(evt.Results); i++ {
		if evt.Results[i].Final {
			b.WriteString(evt.Results[i].Transcript)
		}
	}
	return b.String()
}

// Session is a reusable recognition session. Start and Stop only request
// transitions; the outcome is reported through Events. The events channel
// stays open for the lifetime of the session and is closed by Close.
// A started recognition always finishes with EventEnd, preceded by at most
// one EventError. Start may be called again once the error is reported.
type Session interface {
	Start() error
	Stop()
	Events() <-chan Event
	Close() error
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Open(cfg Config) (Session, error)
}
