package pipeline

import "github.com/mosaicgis/cartographer/internal/catalog"

// Stage names the four pipeline phases in execution order.
type Stage string

const (
	StageDownload   Stage = "download"
	StageMetadata   Stage = "metadata"
	StageProcessing Stage = "processing"
	StageUpload     Stage = "upload"
)

// Status is a stage result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusNND     Status = "nnd"
	StatusSkipped Status = "skipped"
)

// Outcome is one stage's result for one entity.
type Outcome struct {
	Stage  Stage
	Status Status
	Err    error
	// Reason carries the human-readable explanation for NND and skip
	// outcomes.
	Reason string

	// Metadata is populated by the metadata stage and consumed by upload.
	Metadata catalog.Metadata
	// RawZip is the archive the download stage extracted, when there was one.
	RawZip string
}

func success(stage Stage) Outcome {
	return Outcome{Stage: stage, Status: StatusSuccess}
}

func failed(stage Stage, err error) Outcome {
	return Outcome{Stage: stage, Status: StatusFailed, Err: err}
}

func noNewData(stage Stage, reason string) Outcome {
	return Outcome{Stage: stage, Status: StatusNND, Reason: reason}
}

func skipped(stage Stage, reason string) Outcome {
	return Outcome{Stage: stage, Status: StatusSkipped, Reason: reason}
}
