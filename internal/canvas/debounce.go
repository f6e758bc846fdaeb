package canvas

import (
	"context"
	"sync"
	"time"

	"cavvy/internal/domain"

	"github.com/rs/zerolog"
)

// SectionKey identifies one section of one canvas.
type SectionKey struct {
	UserID   uint64
	CanvasID string
	Section  string
}

// SaveFunc persists the full item list of a section.
type SaveFunc func(ctx context.Context, key SectionKey, items []domain.SectionItem) error

// SaveStatus reports the state of deferred section writes of a canvas.
type SaveStatus struct {
	Pending     int        `json:"pending"`
	LastError   string     `json:"last_error,omitempty"`
	LastSavedAt *time.Time `json:"last_saved_at,omitempty"`
}

type pendingWrite struct {
	items []domain.SectionItem
	timer *time.Timer
	seq   uint64
}

// Debouncer coalesces rapid section edits into one write per section. Only
// the latest item list scheduled for a key is written. Until then the
// pending list is readable through Pending.
type Debouncer struct {
	delay       time.Duration
	save        SaveFunc
	saveTimeout time.Duration
	log         zerolog.Logger

	// writing serialises saves so that a later snapshot of a key is never
	// overwritten by an earlier one.
	writing sync.Mutex

	mu      sync.Mutex
	seq     uint64
	pending map[SectionKey]*pendingWrite
	status  map[string]*SaveStatus
}

func NewDebouncer(delay time.Duration, save SaveFunc, log zerolog.Logger) *Debouncer {
	return &Debouncer{
		delay:       delay,
		save:        save,
		saveTimeout: 10 * time.Second,
		log:         log,
		pending:     make(map[SectionKey]*pendingWrite),
		status:      make(map[string]*SaveStatus),
	}
}

// Schedule records items as the next value of key. With a zero delay the
// write happens before Schedule returns and its error is returned.
func (d *Debouncer) Schedule(ctx context.Context, key SectionKey, items []domain.SectionItem) error {
	items = domain.CloneItems(items)

	if d.delay <= 0 {
		d.writing.Lock()
		defer d.writing.Unlock()
		err := d.save(ctx, key, items)
		d.record(key.CanvasID, err)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	seq := d.seq
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		p.items = items
		p.seq = seq
		p.timer = time.AfterFunc(d.delay, func() { d.fire(key, seq) })
		return nil
	}

	d.pending[key] = &pendingWrite{
		items: items,
		seq:   seq,
		timer: time.AfterFunc(d.delay, func() { d.fire(key, seq) }),
	}
	d.statusLocked(key.CanvasID).Pending++
	return nil
}

func (d *Debouncer) fire(key SectionKey, seq uint64) {
	d.writing.Lock()
	defer d.writing.Unlock()

	items, ok := d.take(key, seq)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.saveTimeout)
	defer cancel()

	err := d.save(ctx, key, items)
	if err != nil {
		d.log.Error().Err(err).
			Str("canvas_id", key.CanvasID).
			Str("section", key.Section).
			Msg("deferred section save failed")
	}
	d.record(key.CanvasID, err)
}

// take removes the pending write of key. A seq of 0 matches any write.
func (d *Debouncer) take(key SectionKey, seq uint64) ([]domain.SectionItem, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[key]
	if !ok || (seq != 0 && p.seq != seq) {
		return nil, false
	}
	p.timer.Stop()
	delete(d.pending, key)
	d.statusLocked(key.CanvasID).Pending--
	return p.items, true
}

// Flush writes the pending value of key now, if there is one.
func (d *Debouncer) Flush(ctx context.Context, key SectionKey) error {
	d.writing.Lock()
	defer d.writing.Unlock()

	items, ok := d.take(key, 0)
	if !ok {
		return nil
	}
	err := d.save(ctx, key, items)
	d.record(key.CanvasID, err)
	return err
}

// FlushAll writes every pending section. It is called on shutdown.
func (d *Debouncer) FlushAll(ctx context.Context) error {
	var firstErr error
	for _, key := range d.keys(func(SectionKey) bool { return true }) {
		if err := d.Flush(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Discard drops pending writes of a canvas without saving them.
func (d *Debouncer) Discard(userID uint64, canvasID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, p := range d.pending {
		if key.UserID == userID && key.CanvasID == canvasID {
			p.timer.Stop()
			delete(d.pending, key)
		}
	}
	delete(d.status, canvasID)
}

// Pending returns the unsaved item lists of a canvas keyed by section name.
func (d *Debouncer) Pending(userID uint64, canvasID string) map[string][]domain.SectionItem {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string][]domain.SectionItem)
	for key, p := range d.pending {
		if key.UserID == userID && key.CanvasID == canvasID {
			out[key.Section] = domain.CloneItems(p.items)
		}
	}
	return out
}

func (d *Debouncer) Status(canvasID string) SaveStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.status[canvasID]
	if !ok {
		return SaveStatus{}
	}
	return *st
}

func (d *Debouncer) keys(match func(SectionKey) bool) []SectionKey {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]SectionKey, 0, len(d.pending))
	for key := range d.pending {
		if match(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (d *Debouncer) record(canvasID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.statusLocked(canvasID)
	if err != nil {
		st.LastError = err.Error()
		return
	}
	now := time.Now().UTC()
	st.LastError = ""
	st.LastSavedAt = &now
}

func (d *Debouncer) statusLocked(canvasID string) *SaveStatus {
	st, ok := d.status[canvasID]
	if !ok {
		st = &SaveStatus{}
		d.status[canvasID] = st
	}
	return st
}
