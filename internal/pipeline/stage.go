package pipeline

// Stage identifies one step of the podcast production pipeline. A run
// moves strictly forward through the working stages and ends in either
// Complete or Failed.
type Stage string

const (
	StageResearching Stage = "Researching"
	StageSummarizing Stage = "Summarizing"
	StageScripting   Stage = "Scripting"
	StageProducing   Stage = "Producing"
	StageStitching   Stage = "Stitching"
	StageComplete    Stage = "Complete"
	StageFailed      Stage = "Failed"
)

// stageOrder lists the working stages in execution order.
var stageOrder = []Stage{
	StageResearching,
	StageSummarizing,
	StageScripting,
	StageProducing,
	StageStitching,
}

// Terminal reports whether a run in this stage is finished.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// Known reports whether s is a stage this pipeline understands. A
// persisted snapshot naming anything else is corrupt.
func (s Stage) Known() bool {
	if s.Terminal() {
		return true
	}
	for _, stage := range stageOrder {
		if s == stage {
			return true
		}
	}
	return false
}

// next returns the stage that follows s, or Complete after the last
// working stage.
func (s Stage) next() Stage {
	for i, stage := range stageOrder {
		if s == stage {
			if i+1 < len(stageOrder) {
				return stageOrder[i+1]
			}
			return StageComplete
		}
	}
	return StageComplete
}
