package audio

import (
	"errors"
	"fmt"
	"time"
)

// Stitching errors. A format mismatch means the voice registry handed
// differently configured synthesizers to one run, which is a configuration
// bug rather than a transient failure, so callers must not retry it.
var (
	ErrNoSegments     = errors.New("no segments to stitch")
	ErrFormatMismatch = errors.New("segments have mixed sample rate or channel count")
)

// Stitcher concatenates segments sample-exactly, inserting a fixed silence
// gap between consecutive segments whose speakers differ.
type Stitcher struct {
	gap time.Duration
}

func NewStitcher(gap time.Duration) *Stitcher {
	if gap < 0 {
		gap = 0
	}
	return &Stitcher{gap: gap}
}

// gapSamples is the interleaved sample count of one silence gap for the
// given format.
func (st *Stitcher) gapSamples(sampleRate, channels int) int {
	frames := int(int64(sampleRate) * int64(st.gap) / int64(time.Second))
	return frames * channels
}

// Stitch merges the ordered segment list into a single master recording.
// Preconditions: the list is non-empty, every segment's index matches its
// position, and all segments share one format. The output buffer is sized
// up front and filled in a single copy pass, so identical input always
// produces an identical buffer.
func (st *Stitcher) Stitch(segments []Segment) (*MasterRecording, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}

	sampleRate := segments[0].SampleRate
	channels := segments[0].Channels
	for i := range segments {
		seg := &segments[i]
		if err := seg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid segment: %w", err)
		}
		if seg.Index != i {
			return nil, fmt.Errorf("segment at position %d has index %d", i, seg.Index)
		}
		if seg.SampleRate != sampleRate || seg.Channels != channels {
			return nil, fmt.Errorf("%w: segment %d is %dHz/%dch, expected %dHz/%dch",
				ErrFormatMismatch, seg.Index, seg.SampleRate, seg.Channels, sampleRate, channels)
		}
	}

	gap := st.gapSamples(sampleRate, channels)

	total := 0
	for i := range segments {
		total += len(segments[i].Samples)
		if i > 0 && segments[i].Speaker != segments[i-1].Speaker {
			total += gap
		}
	}

	out := make([]int, total)
	boundaries := make([]Boundary, 0, len(segments))

	offset := 0
	for i := range segments {
		seg := &segments[i]
		if i > 0 && seg.Speaker != segments[i-1].Speaker {
			// gap slots are already zero valued
			offset += gap
		}
		copy(out[offset:], seg.Samples)
		boundaries = append(boundaries, Boundary{
			Index:   seg.Index,
			Speaker: seg.Speaker,
			Offset:  offset,
			Samples: len(seg.Samples),
			Start:   time.Duration(offset/channels) * time.Second / time.Duration(sampleRate),
		})
		offset += len(seg.Samples)
	}

	return &MasterRecording{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    out,
		Boundaries: boundaries,
	}, nil
}
