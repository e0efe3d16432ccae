package core

// Stage identifies one step of the multibeam processing pipeline.
type Stage string

const (
	// StageConvert decodes raw sonar records into the time-ordered ping store.
	StageConvert Stage = "convert"
	// StageOrientation applies vessel offsets and angle corrections.
	StageOrientation Stage = "orientation"
	// StageSoundVelocity ray-traces beams through the sound velocity profile.
	StageSoundVelocity Stage = "soundvelocity"
	// StageGeoreference produces georeferenced soundings with TPU.
	StageGeoreference Stage = "georeference"
	// StageGrid folds georeferenced soundings into the terrain grid.
	StageGrid Stage = "grid"
)

// Pipeline returns the stages in dependency order. Each stage consumes the
// output of the one before it.
func Pipeline() []Stage {
	return []Stage{
		StageConvert,
		StageOrientation,
		StageSoundVelocity,
		StageGeoreference,
		StageGrid,
	}
}

// StageIndex returns the position of s in the pipeline, or -1 if unknown.
func StageIndex(s Stage) int {
	for i, st := range Pipeline() {
		if st == s {
			return i
		}
	}
	return -1
}

// Predecessor returns the stage directly upstream of s, and false for the
// first stage or an unknown stage.
func Predecessor(s Stage) (Stage, bool) {
	i := StageIndex(s)
	if i <= 0 {
		return "", false
	}
	return Pipeline()[i-1], true
}

// StageStatus is the processing state of one stage for one container.
type StageStatus string

const (
	StageNotRun   StageStatus = "not_run"
	StageStale    StageStatus = "stale"
	StageRunning  StageStatus = "running"
	StageComplete StageStatus = "complete"
	StageFailed   StageStatus = "failed"
)

// Classification is the staleness evaluator's verdict for one stage.
type Classification string

const (
	ClassFresh   Classification = "fresh"
	ClassStale   Classification = "stale"
	ClassMissing Classification = "missing"
)

// SourceKind identifies the kind of external dependency input.
type SourceKind string

const (
	// SourceVessel is a vessel calibration entry (offsets, mounting angles).
	SourceVessel SourceKind = "vessel"
	// SourceNavigation is a post-processed navigation overwrite range.
	SourceNavigation SourceKind = "navigation"
	// SourceSVP is an imported sound velocity cast.
	SourceSVP SourceKind = "svp"
	// SourceCoordinateSystem is the project coordinate system setting.
	SourceCoordinateSystem SourceKind = "coordinate_system"
)

// StagesFor returns the pipeline stages whose output depends directly on a
// source kind. Downstream stages pick up the change through propagation.
func StagesFor(kind SourceKind) []Stage {
	switch kind {
	case SourceVessel:
		return []Stage{StageOrientation}
	case SourceSVP:
		return []Stage{StageSoundVelocity}
	case SourceNavigation, SourceCoordinateSystem:
		return []Stage{StageGeoreference}
	default:
		return nil
	}
}
