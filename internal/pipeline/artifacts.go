package pipeline

import (
	"github.com/podenginelabs/podengine/internal/audio"
	"github.com/podenginelabs/podengine/internal/research"
	"github.com/podenginelabs/podengine/internal/script"
)

// SegmentRef points at one synthesized segment on disk.
type SegmentRef struct {
	Index      int    `json:"index"`
	Speaker    string `json:"speaker"`
	Path       string `json:"path"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// ProducedArtifact is the persisted output of the Producing stage.
type ProducedArtifact struct {
	Segments []SegmentRef `json:"segments"`
}

// MasterArtifact is the persisted output of the Stitching stage.
type MasterArtifact struct {
	Path       string         `json:"path"`
	SampleRate int            `json:"sample_rate"`
	Channels   int            `json:"channels"`
	DurationMS int64          `json:"duration_ms"`
	Boundaries []BoundaryInfo `json:"boundaries"`
}

// BoundaryInfo records where each segment landed in the master.
type BoundaryInfo struct {
	Index   int    `json:"index"`
	Speaker string `json:"speaker"`
	Offset  int    `json:"offset"`
	Samples int    `json:"samples"`
	StartMS int64  `json:"start_ms"`
}

// runState carries stage outputs forward through a run. On resume it is
// rebuilt from persisted artifacts.
type runState struct {
	notes    *research.Notes
	summary  *script.Summary
	script   *script.Script
	segments []audio.Segment
	master   *MasterArtifact
}
