package tts

import (
	"context"
	"math"

	"github.com/podenginelabs/podengine/internal/audio"
)

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth produces deterministic synthetic speech: a tone whose pitch
// depends on the speaker and whose length tracks the text length. The same
// request always yields the same samples, which the stitching determinism
// guarantees depend on.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		default:
		}

		// 40ms of audio per rune, minimum 200ms
		frames := m.sampleRate * 40 / 1000 * len([]rune(req.Text))
		if min := m.sampleRate / 5; frames < min {
			frames = min
		}
		freq := 180.0
		for _, c := range req.Profile.Speaker {
			freq += float64(c % 64)
		}
		samples := make([]int, frames*m.channels)
		for f := 0; f < frames; f++ {
			v := int(6000 * math.Sin(2*math.Pi*freq*float64(f)/float64(m.sampleRate)))
			for c := 0; c < m.channels; c++ {
				samples[f*m.channels+c] = v
			}
		}

		chunks <- SynthChunk{
			Sequence:   0,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        audio.EncodePCM16(samples),
			Final:      true,
		}
	}()
	return chunks, errs
}
