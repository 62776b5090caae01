// Package voice turns text into speech on Robbie's speaker.
//
// A Voice pairs a Synthesizer (OpenAI text-to-speech) with a Sink (an Opus
// RTP stream to the speaker daemon). Speak returns once the audio is
// synthesized; playback continues in the background and OnFinishedPlayback
// fires when it ends.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-robbie/internal/log"
)

// Synthesizer converts text to mono PCM16 audio at SynthesisRate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Sink plays mono PCM16 audio. Play blocks until playback ends.
type Sink interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
}

// Voice speaks text.
type Voice struct {
	synth  Synthesizer
	sink   Sink
	logger *slog.Logger

	mu         sync.Mutex
	closed     bool
	gen        uint64
	cancel     context.CancelFunc
	onFinished func()
	wg         sync.WaitGroup
}

// New creates a Voice.
func New(synth Synthesizer, sink Sink) *Voice {
	return &Voice{
		synth:  synth,
		sink:   sink,
		logger: log.Component("voice"),
	}
}

// OnFinishedPlayback registers the callback fired after each playback,
// including failed ones. A playback interrupted by a newer Speak does not
// fire it.
func (v *Voice) OnFinishedPlayback(fn func()) {
	v.mu.Lock()
	v.onFinished = fn
	v.mu.Unlock()
}

// Speaking reports whether audio is playing.
func (v *Voice) Speaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancel != nil
}

// Speak synthesizes text and starts playing it. Any playback in progress is
// interrupted before synthesis, so a superseded playback never reports
// finishing. A Speak overtaken by a newer one during synthesis plays
// nothing.
func (v *Voice) Speak(ctx context.Context, text string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.gen++
	gen := v.gen
	v.mu.Unlock()

	pcm, err := v.synth.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("voice: synthesize: %w", err)
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.gen != gen {
		v.mu.Unlock()
		v.logger.Debug("speech superseded", "text", text)
		return nil
	}
	playCtx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.wg.Add(1)
	v.mu.Unlock()

	v.logger.Info("speaking", "text", text, "duration", Duration(pcm, SynthesisRate))
	go v.play(playCtx, gen, pcm)
	return nil
}

func (v *Voice) play(ctx context.Context, gen uint64, pcm []byte) {
	defer v.wg.Done()

	err := v.sink.Play(ctx, pcm, SynthesisRate)
	if err != nil && !errors.Is(err, context.Canceled) {
		v.logger.Warn("playback failed", "error", err)
	}

	v.mu.Lock()
	if v.gen != gen {
		v.mu.Unlock()
		return
	}
	v.cancel()
	v.cancel = nil
	fn := v.onFinished
	closed := v.closed
	v.mu.Unlock()

	if fn != nil && !closed {
		fn()
	}
}

// Close stops playback and waits for it to end.
func (v *Voice) Close() error {
	v.mu.Lock()
	v.closed = true
	if v.cancel != nil {
		v.cancel()
	}
	v.mu.Unlock()

	v.wg.Wait()
	return nil
}
