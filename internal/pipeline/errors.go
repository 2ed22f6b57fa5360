package pipeline

import "fmt"

// No-new-data reasons, recorded in the ledger's error column so a reader can
// tell which signal fired.
const (
	ReasonDownloadNND = "download command: no new data"
	ReasonDateNND     = "metadata check: data date unchanged"
)

// StageError wraps a failure with the stage it happened in. Stage errors are
// entity-local: they fail the entity's run, never the whole batch.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
