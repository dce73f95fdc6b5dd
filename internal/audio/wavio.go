package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth = 16

	// MasterFilename is the per-run master recording artifact.
	MasterFilename = "final_podcast.wav"
)

// SegmentFilename names a per-line artifact deterministically by index and
// speaker role, e.g. segment_003_expert.wav.
func SegmentFilename(index int, speaker string) string {
	return fmt.Sprintf("segment_%03d_%s.wav", index, strings.ToLower(speaker))
}

// WriteWAV encodes samples as a 16-bit PCM WAV file.
func WriteWAV(path string, samples []int, sampleRate, channels int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer file.Close()

	buffer := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	enc := wav.NewEncoder(file, sampleRate, bitDepth, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// ReadWAV decodes a 16-bit PCM WAV file back into samples.
func ReadWAV(path string) ([]int, int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open wav file: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buffer, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buffer.Format == nil {
		return nil, 0, 0, fmt.Errorf("wav file %s has no format chunk", path)
	}
	return buffer.Data, buffer.Format.SampleRate, buffer.Format.NumChannels, nil
}

// WriteSegment persists a segment under its deterministic filename inside
// dir and records the path on the segment.
func WriteSegment(dir string, seg *Segment) error {
	path := filepath.Join(dir, SegmentFilename(seg.Index, seg.Speaker))
	if err := WriteWAV(path, seg.Samples, seg.SampleRate, seg.Channels); err != nil {
		return err
	}
	seg.Path = path
	return nil
}

// ReadSegment loads a previously written segment file and revalidates it.
func ReadSegment(path string, index int, speaker string) (*Segment, error) {
	samples, sampleRate, channels, err := ReadWAV(path)
	if err != nil {
		return nil, err
	}
	seg := &Segment{
		Index:      index,
		Speaker:    speaker,
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    samples,
		Path:       path,
	}
	if err := seg.Validate(); err != nil {
		return nil, err
	}
	return seg, nil
}
