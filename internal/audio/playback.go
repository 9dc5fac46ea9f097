package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// Output is the audio sink a synthesized clip plays through. Play blocks
// until the clip finishes or Stop is called.
type Output interface {
	Play(r io.Reader) error
	Stop()
	Reset()
}

// Synthesizer produces an audio blob for a piece of text. Satisfied by
// *gateway.Client.
type Synthesizer interface {
	TextToSpeech(ctx context.Context, text string) ([]byte, error)
}

// PlaybackError wraps TTS fetch or sink failures.
type PlaybackError struct {
	Stage string // "synthesize" or "play"
	Err   error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("tts %s: %v", e.Stage, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Service plays synthesized speech fetched from the backend. One clip at a
// time; Interrupt stops the active clip and is a no-op otherwise.
type Service struct {
	synth Synthesizer

	mu      sync.Mutex
	playing bool
	current Output
}

func NewService(synth Synthesizer) *Service {
	return &Service{synth: synth}
}

// Playing reports whether a synthesized clip is currently active.
func (s *Service) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Unlock primes an output that needs a first silent play before real
// audio is accepted. Best effort: failures are ignored.
func (s *Service) Unlock(out Output) {
	if out == nil {
		return
	}
	silence := make([]byte, 320) // 10ms of PCM16 mono at 16kHz
	_ = out.Play(bytes.NewReader(silence))
	out.Stop()
}

// PlaySynthesis fetches speech for text and plays it through out. onEnd
// fires exactly once: on natural completion, on interruption, and on
// error. The call blocks until playback finishes.
func (s *Service) PlaySynthesis(ctx context.Context, text string, out Output, onStart, onEnd func()) error {
	var endOnce sync.Once
	finish := func() {
		endOnce.Do(func() {
			if onEnd != nil {
				onEnd()
			}
		})
	}

	blob, err := s.synth.TextToSpeech(ctx, text)
	if err != nil {
		finish()
		return &PlaybackError{Stage: "synthesize", Err: err}
	}

	s.mu.Lock()
	if s.playing {
		s.mu.Unlock()
		finish()
		return &PlaybackError{Stage: "play", Err: errAlreadyPlaying}
	}
	s.playing = true
	s.current = out
	s.mu.Unlock()

	if onStart != nil {
		onStart()
	}

	playErr := out.Play(bytes.NewReader(blob))

	s.mu.Lock()
	s.playing = false
	s.current = nil
	s.mu.Unlock()

	finish()
	if playErr != nil {
		return &PlaybackError{Stage: "play", Err: playErr}
	}
	return nil
}

// Interrupt stops the active clip immediately. Safe to call when nothing
// is playing.
func (s *Service) Interrupt() {
	s.mu.Lock()
	out := s.current
	s.mu.Unlock()
	if out != nil {
		out.Stop()
	}
}

// Cleanup interrupts any playback and resets the output's media source.
func (s *Service) Cleanup(out Output) {
	s.Interrupt()
	if out != nil {
		out.Reset()
	}
}

var errAlreadyPlaying = fmt.Errorf("a clip is already playing")
