package tts

import (
	"context"
	"time"
)

type mockSynth struct {
	sampleRate int
	channels   int
	perRune    time.Duration
}

// NewMockSynth returns a synthesizer that produces silence. Synthesis takes
// 50ms plus perRune for every character of text, so longer utterances keep
// the engine busy for longer.
func NewMockSynth(sampleRate, channels int, perRune time.Duration) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels, perRune: perRune}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		delay := 50*time.Millisecond + time.Duration(len([]rune(req.Text)))*m.perRune
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(delay):
		}
		chunks <- SynthChunk{
			UtteranceID: req.UtteranceID,
			Sequence:    0,
			SampleRate:  m.sampleRate,
			Channels:    m.channels,
			PCM:         []byte{},
			Final:       true,
		}
	}()
	return chunks, errs
}
