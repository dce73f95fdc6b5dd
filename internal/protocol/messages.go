package protocol

import "time"

// StageEvent announces a pipeline run entering, completing, or failing a
// stage. Broadcast on the bus so observers can follow run progress.
type StageEvent struct {
	RunID     string    `json:"run_id"`
	Topic     string    `json:"topic"`
	Stage     string    `json:"stage"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SegmentEvent reports one synthesized script line.
type SegmentEvent struct {
	RunID      string    `json:"run_id"`
	LineIndex  int       `json:"line_index"`
	Speaker    string    `json:"speaker"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	DurationMS int       `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectStageEntered   = "pipeline.stage.entered"
	SubjectStageCompleted = "pipeline.stage.completed"
	SubjectStageFailed    = "pipeline.stage.failed"
	SubjectSegmentDone    = "pipeline.segment.done"
	SubjectRunComplete    = "pipeline.run.complete"
)
