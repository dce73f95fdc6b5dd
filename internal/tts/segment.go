package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/podenginelabs/podengine/internal/audio"
	"github.com/podenginelabs/podengine/internal/script"
	"github.com/podenginelabs/podengine/internal/voice"
)

// SegmentSynthesizer turns one script line into a validated audio
// segment using the voice profile registered for the line's speaker.
type SegmentSynthesizer struct {
	synth      Synthesizer
	voices     *voice.Registry
	timeout    time.Duration
	sampleRate int
	channels   int
}

func NewSegmentSynthesizer(synth Synthesizer, voices *voice.Registry, timeout time.Duration, sampleRate, channels int) *SegmentSynthesizer {
	return &SegmentSynthesizer{
		synth:      synth,
		voices:     voices,
		timeout:    timeout,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (s *SegmentSynthesizer) Synthesize(ctx context.Context, runID string, line script.Line) (*audio.Segment, error) {
	profile, err := s.voices.Resolve(line.Speaker)
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	chunks, errs := s.synth.Synthesize(ctx, SynthRequest{
		RunID:   runID,
		Text:    line.Text,
		Profile: profile,
	})

	var pcm []byte
	rate, channels := 0, 0
	for chunk := range chunks {
		if rate == 0 {
			rate, channels = chunk.SampleRate, chunk.Channels
		} else if chunk.SampleRate != rate || chunk.Channels != channels {
			return nil, fmt.Errorf("line %d: synthesizer changed format mid stream (%d/%dch then %d/%dch)",
				line.Index, rate, channels, chunk.SampleRate, chunk.Channels)
		}
		pcm = append(pcm, chunk.PCM...)
	}
	if err := <-errs; err != nil {
		return nil, fmt.Errorf("line %d: %w", line.Index, err)
	}
	if s.sampleRate > 0 && rate != s.sampleRate {
		return nil, fmt.Errorf("line %d: synthesizer emitted %d Hz, configured for %d Hz", line.Index, rate, s.sampleRate)
	}
	if s.channels > 0 && channels != s.channels {
		return nil, fmt.Errorf("line %d: synthesizer emitted %d channels, configured for %d", line.Index, channels, s.channels)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	samples, err := audio.DecodePCM16(pcm)
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", line.Index, err)
	}
	seg := &audio.Segment{
		Index:      line.Index,
		Speaker:    line.Speaker,
		SampleRate: rate,
		Channels:   channels,
		Samples:    samples,
	}
	if err := seg.Validate(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line.Index, err)
	}
	return seg, nil
}
