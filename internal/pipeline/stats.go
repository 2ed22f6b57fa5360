package pipeline

import (
	"sync"
	"time"
)

type Stats struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	NoNewData int64 `json:"no_new_data"`
	Skipped   int64 `json:"skipped"`
}

// EntityStatus is one entity's live view, served by the status API.
type EntityStatus struct {
	ID        string    `json:"id"`
	Layer     string    `json:"layer"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Tracker aggregates live run state across entity workers.
type Tracker struct {
	mu       sync.RWMutex
	entities map[string]*EntityStatus
	stats    Stats
}

func NewTracker() *Tracker {
	return &Tracker{
		entities: make(map[string]*EntityStatus),
	}
}

func (t *Tracker) Begin(id, layer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entities[id] = &EntityStatus{
		ID:        id,
		Layer:     layer,
		State:     StatePending,
		StartedAt: time.Now(),
	}
	t.stats.Total++
}

func (t *Tracker) SetState(id string, state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entities[id]; ok {
		e.State = state
	}
}

func (t *Tracker) Finish(id string, state State, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entities[id]; ok {
		e.State = state
		e.EndedAt = time.Now()
		if err != nil {
			e.Error = err.Error()
		}
	}
	switch state {
	case StateDone:
		t.stats.Succeeded++
	case StateFailed:
		t.stats.Failed++
	case StateNoNewData:
		t.stats.NoNewData++
	case StateSkipped:
		t.stats.Skipped++
	}
}

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

func (t *Tracker) Snapshot() []EntityStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]EntityStatus, 0, len(t.entities))
	for _, e := range t.entities {
		out = append(out, *e)
	}
	return out
}
