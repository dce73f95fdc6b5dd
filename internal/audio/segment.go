package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Segment is one synthesized clip for a single script line. Samples are
// signed 16-bit PCM amplitudes, interleaved when Channels > 1. A segment is
// never mutated after synthesis completes.
type Segment struct {
	Index      int    `json:"index"`
	Speaker    string `json:"speaker"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Samples    []int  `json:"-"`
	Path       string `json:"path,omitempty"`
}

// Duration derives the clip length from the sample count.
func (s *Segment) Duration() time.Duration {
	if s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	frames := len(s.Samples) / s.Channels
	return time.Duration(frames) * time.Second / time.Duration(s.SampleRate)
}

// Validate checks the segment against its contract.
func (s *Segment) Validate() error {
	if s.Index < 0 {
		return fmt.Errorf("segment index %d is negative", s.Index)
	}
	if s.Speaker == "" {
		return errors.New("segment has no speaker")
	}
	if s.SampleRate <= 0 {
		return fmt.Errorf("segment %d has non-positive sample rate %d", s.Index, s.SampleRate)
	}
	if s.Channels <= 0 {
		return fmt.Errorf("segment %d has non-positive channel count %d", s.Index, s.Channels)
	}
	if len(s.Samples) == 0 {
		return fmt.Errorf("segment %d has no samples", s.Index)
	}
	if len(s.Samples)%s.Channels != 0 {
		return fmt.Errorf("segment %d sample count %d not aligned to %d channels", s.Index, len(s.Samples), s.Channels)
	}
	return nil
}

// Boundary records where one segment landed inside the master recording.
type Boundary struct {
	Index   int           `json:"index"`
	Speaker string        `json:"speaker"`
	Offset  int           `json:"offset"`
	Samples int           `json:"samples"`
	Start   time.Duration `json:"start"`
}

// MasterRecording is the concatenation of all segments in script order plus
// boundary metadata. It is created once by the stitching engine and never
// mutated afterward.
type MasterRecording struct {
	SampleRate int        `json:"sample_rate"`
	Channels   int        `json:"channels"`
	Samples    []int      `json:"-"`
	Boundaries []Boundary `json:"boundaries"`
	Path       string     `json:"path,omitempty"`
}

// Duration is the total length of the recording.
func (m *MasterRecording) Duration() time.Duration {
	if m.SampleRate <= 0 || m.Channels <= 0 {
		return 0
	}
	frames := len(m.Samples) / m.Channels
	return time.Duration(frames) * time.Second / time.Duration(m.SampleRate)
}

// DecodePCM16 converts little-endian 16-bit PCM bytes into amplitude values.
func DecodePCM16(pcm []byte) ([]int, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("pcm payload not aligned")
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples, nil
}

// EncodePCM16 converts amplitude values into little-endian 16-bit PCM bytes.
// Values outside the int16 range are clipped.
func EncodePCM16(samples []int) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return pcm
}
