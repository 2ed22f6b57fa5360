package pipeline

import "fmt"

// State tracks where an entity run is in its lifecycle. Exposed through the
// status server so an operator can see what a long batch is doing.
type State string

const (
	StatePending     State = "pending"
	StateDownloading State = "downloading"
	StateExtracting  State = "extracting_metadata"
	StateProcessing  State = "processing"
	StateUploading   State = "uploading"
	StateDone        State = "done"
	StateNoNewData   State = "no_new_data"
	StateSkipped     State = "skipped"
	StateFailed      State = "failed"
)

type FSM struct {
	current     State
	Transitions map[State]map[State]struct{}
}

func NewFSM() *FSM {
	return &FSM{
		current: StatePending,
		Transitions: map[State]map[State]struct{}{
			StatePending: {
				StateDownloading: {},
				StateExtracting:  {},
				StateSkipped:     {},
			},
			StateDownloading: {
				StateExtracting: {},
				StateNoNewData:  {},
				StateFailed:     {},
			},
			StateExtracting: {
				StateProcessing: {},
				StateUploading:  {},
				StateNoNewData:  {},
				StateFailed:     {},
			},
			StateProcessing: {
				StateUploading: {},
				StateDone:      {},
				StateFailed:    {},
			},
			StateUploading: {
				StateDone:   {},
				StateFailed: {},
			},
		},
	}
}

func (f *FSM) Current() State {
	return f.current
}

func (f *FSM) CanTransition(to State) bool {
	if _, ok := f.Transitions[f.current][to]; ok {
		return true
	}
	return false
}

func (f *FSM) Transition(to State) error {
	if !f.CanTransition(to) {
		return fmt.Errorf("invalid transition from %s to %s", f.current, to)
	}
	f.current = to
	return nil
}
