package tts

import "context"

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	UtteranceID string
	Text        string
	Voice       string
	Rate        float64
	Pitch       float64
	Volume      float64
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	UtteranceID string
	Sequence    int
	SampleRate  int
	Channels    int
	PCM         []byte
	Final       bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Player renders synthesized audio. Play returns once playback finished or
// ctx was cancelled.
type Player interface {
	Play(ctx context.Context, chunks []SynthChunk) error
}

// Utterance is one text-to-speech playback request.
type Utterance struct {
	ID     string
	Text   string
	Voice  string
	Rate   float64
	Pitch  float64
	Volume float64
}

// UtteranceEventType identifies an utterance lifecycle notification.
type UtteranceEventType string

const (
	UtteranceStart UtteranceEventType = "start"
	UtteranceEnd   UtteranceEventType = "end"
	UtteranceError UtteranceEventType = "error"
)

// Error codes reported with UtteranceError.
const (
	CodeCanceled        = "canceled"
	CodeInterrupted     = "interrupted"
	CodeSynthesisFailed = "synthesis-failed"
)

type UtteranceEvent struct {
	UtteranceID string
	Type        UtteranceEventType
	Code        string
}

// Engine is the synthesis service the voice assistant drives: a queue of
// utterances played one at a time.
type Engine interface {
	Speak(u Utterance) error
	Cancel()
	Events() <-chan UtteranceEvent
	Close() error
}
