package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DiscardPlayer drops audio. It is the player for mock synthesis.
type DiscardPlayer struct{}

func (DiscardPlayer) Play(ctx context.Context, _ []SynthChunk) error {
	return ctx.Err()
}

// ExecPlayer writes the utterance to a temporary WAV file and hands it to an
// external player command such as aplay or afplay.
type ExecPlayer struct {
	cmd []string
}

func NewExecPlayer(command string) (*ExecPlayer, error) {
	args, err := parseCommand("player", command)
	if err != nil {
		return nil, err
	}
	return &ExecPlayer{cmd: args}, nil
}

func (p *ExecPlayer) Play(ctx context.Context, chunks []SynthChunk) error {
	pcm, sampleRate, channels := joinChunks(chunks)
	if len(pcm) == 0 {
		return nil
	}

	file, err := os.CreateTemp("", "docugenius_tts_*.wav")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, sampleRate, channels); err != nil {
		return err
	}

	args := append(append([]string{}, p.cmd[1:]...), file.Name())
	command := exec.CommandContext(ctx, p.cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("player command failed: %w: %s", err, stderr.String())
	}
	return nil
}

func joinChunks(chunks []SynthChunk) ([]byte, int, int) {
	var pcm []byte
	sampleRate, channels := 0, 0
	for _, chunk := range chunks {
		if sampleRate == 0 {
			sampleRate = chunk.SampleRate
			channels = chunk.Channels
		}
		pcm = append(pcm, chunk.PCM...)
	}
	if channels <= 0 {
		channels = 1
	}
	return pcm, sampleRate, channels
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
