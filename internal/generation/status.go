package generation

import (
	"sync"
	"time"
)

// OverviewSection is appended to CompletedSections once a run has visited
// every section. Clients treat it as the end-of-run marker.
const OverviewSection = "Overview"

const cancelledMessage = "Generation cancelled"

// Status is the progress of one generation run.
type Status struct {
	CanvasID          string     `json:"canvas_id"`
	UserID            uint64     `json:"-"`
	IsGenerating      bool       `json:"is_generating"`
	CurrentSection    string     `json:"current_section,omitempty"`
	CompletedSections []string   `json:"completed_sections"`
	Error             string     `json:"error,omitempty"`
	Cancelled         bool       `json:"cancelled"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`

	run uint64
}

func (s *Status) clone() Status {
	out := *s
	out.CompletedSections = append([]string{}, s.CompletedSections...)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Tracker is the per-canvas status table. Every accessor returns a copy.
type Tracker struct {
	mu       sync.Mutex
	statuses map[string]*Status
	seq      uint64
	now      func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		statuses: make(map[string]*Status),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Begin resets the status of canvasID for a new run. It reports false when a
// run for the canvas is still in progress.
func (t *Tracker) Begin(userID uint64, canvasID string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.statuses[canvasID]; ok && st.IsGenerating {
		return st.clone(), false
	}
	t.seq++
	st := &Status{
		run:               t.seq,
		CanvasID:          canvasID,
		UserID:            userID,
		IsGenerating:      true,
		CompletedSections: []string{},
		StartedAt:         t.now(),
	}
	t.statuses[canvasID] = st
	return st.clone(), true
}

func (t *Tracker) Get(canvasID string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.statuses[canvasID]
	if !ok {
		return Status{}, false
	}
	return st.clone(), true
}

// update applies fn to the status of run and returns a snapshot. The bool is
// false when the canvas has no status or a newer run replaced it.
func (t *Tracker) update(canvasID string, run uint64, fn func(st *Status)) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.statuses[canvasID]
	if !ok || (run != 0 && st.run != run) {
		return Status{}, false
	}
	fn(st)
	return st.clone(), true
}

// stopped reports whether run was cancelled or superseded.
func (t *Tracker) stopped(canvasID string, run uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.statuses[canvasID]
	return !ok || st.run != run || st.Cancelled
}

func (t *Tracker) start(canvasID string, run uint64, section string) (Status, bool) {
	return t.update(canvasID, run, func(st *Status) {
		st.CurrentSection = section
	})
}

func (t *Tracker) complete(canvasID string, run uint64, section string) (Status, bool) {
	return t.update(canvasID, run, func(st *Status) {
		st.CompletedSections = append(st.CompletedSections, section)
		st.CurrentSection = ""
	})
}

func (t *Tracker) fail(canvasID string, run uint64, message string) (Status, bool) {
	return t.update(canvasID, run, func(st *Status) {
		if !st.Cancelled {
			st.Error = message
		}
		st.CurrentSection = ""
	})
}

// finish closes a run. A cancelled run keeps its cancellation message and
// does not receive the overview marker.
func (t *Tracker) finish(canvasID string, run uint64) (Status, bool) {
	return t.update(canvasID, run, func(st *Status) {
		if !st.Cancelled {
			st.CompletedSections = append(st.CompletedSections, OverviewSection)
		}
		st.IsGenerating = false
		st.CurrentSection = ""
		if st.FinishedAt == nil {
			now := t.now()
			st.FinishedAt = &now
		}
	})
}

// Cancel flags the run of canvasID as cancelled. The running loop sees the
// flag before its next section.
func (t *Tracker) Cancel(canvasID string) (Status, bool) {
	return t.update(canvasID, 0, func(st *Status) {
		if !st.IsGenerating {
			return
		}
		st.Cancelled = true
		st.IsGenerating = false
		st.Error = cancelledMessage
		now := t.now()
		st.FinishedAt = &now
	})
}

// Forget drops the status of canvasID, used when the canvas is deleted.
func (t *Tracker) Forget(canvasID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.statuses, canvasID)
}
