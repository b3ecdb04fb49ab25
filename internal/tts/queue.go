package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrQueueClosed = errors.New("tts queue closed")

// Queue plays utterances one at a time through a Synthesizer and a Player.
// Lifecycle notifications are delivered on Events until Close.
type Queue struct {
	synth  Synthesizer
	player Player
	logger *slog.Logger
	events chan UtteranceEvent
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	pending       []Utterance
	current       string
	currentCancel context.CancelFunc
	closed        bool
}

func NewQueue(parent context.Context, synth Synthesizer, player Player, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if player == nil {
		player = DiscardPlayer{}
	}
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		synth:  synth,
		player: player,
		logger: logger.With(slog.String("component", "tts-queue")),
		events: make(chan UtteranceEvent, 128),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Speak appends u to the queue. An empty ID is replaced by a generated one.
func (q *Queue) Speak(u Utterance) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, u)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Cancel drops every queued utterance and interrupts the one playing.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	dropped := q.pending
	q.pending = nil
	if q.currentCancel != nil {
		q.currentCancel()
	}
	// events is closed only after closed is set, so emitting under mu is safe.
	for _, u := range dropped {
		q.tryEmit(UtteranceEvent{UtteranceID: u.ID, Type: UtteranceError, Code: CodeCanceled})
	}
}

func (q *Queue) Events() <-chan UtteranceEvent { return q.events }

func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	close(q.events)
	return nil
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		}
		for {
			u, ctx, cancel, ok := q.next()
			if !ok {
				break
			}
			q.play(ctx, u)
			cancel()
		}
	}
}

// next pops the head of the queue and marks it as playing under the same
// lock, so a Cancel either drops it or interrupts it.
func (q *Queue) next() (Utterance, context.Context, context.CancelFunc, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return Utterance{}, nil, nil, false
	}
	u := q.pending[0]
	q.pending = q.pending[1:]
	ctx, cancel := context.WithTimeout(q.ctx, 5*time.Minute)
	q.current = u.ID
	q.currentCancel = cancel
	return u, ctx, cancel, true
}

func (q *Queue) play(ctx context.Context, u Utterance) {
	defer func() {
		q.mu.Lock()
		q.current = ""
		q.currentCancel = nil
		q.mu.Unlock()
	}()

	q.emit(UtteranceEvent{UtteranceID: u.ID, Type: UtteranceStart})

	chunks, errs := q.synth.Synthesize(ctx, SynthRequest{
		UtteranceID: u.ID,
		Text:        u.Text,
		Voice:       u.Voice,
		Rate:        u.Rate,
		Pitch:       u.Pitch,
		Volume:      u.Volume,
	})
	var (
		collected []SynthChunk
		synthErr  error
	)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			collected = append(collected, chunk)
		case err, ok := <-errs:
			if ok && err != nil && synthErr == nil {
				synthErr = err
			}
			if !ok {
				errs = nil
			}
		}
	}

	if ctx.Err() != nil {
		q.emit(UtteranceEvent{UtteranceID: u.ID, Type: UtteranceError, Code: CodeInterrupted})
		return
	}
	if synthErr != nil {
		q.logger.Warn("tts synthesis error", slogError(synthErr))
		q.emit(UtteranceEvent{UtteranceID: u.ID, Type: UtteranceError, Code: CodeSynthesisFailed})
		return
	}
	if err := q.player.Play(ctx, collected); err != nil {
		if ctx.Err() != nil {
			q.emit(UtteranceEvent{UtteranceID: u.ID, Type: UtteranceError, Code: CodeInterrupted})
			return
		}
		q.logger.Warn("tts playback error", slogError(err))
		q.emit(UtteranceEvent{UtteranceID: u.ID, Type: UtteranceError, Code: CodeSynthesisFailed})
		return
	}
	q.emit(UtteranceEvent{UtteranceID: u.ID, Type: UtteranceEnd})
}

func (q *Queue) emit(evt UtteranceEvent) {
	select {
	case q.events <- evt:
	case <-q.ctx.Done():
	}
}

func (q *Queue) tryEmit(evt UtteranceEvent) {
	select {
	case q.events <- evt:
	default:
		q.logger.Warn("dropping utterance event", slog.String("utterance_id", evt.UtteranceID))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
