package calls

import (
	"sort"
	"sync"
	"time"

	"callwatch/internal/country"
)

// RawRow is one table row as read from the page. Err is set when the row
// went stale while it was being read.
type RawRow struct {
	ID    string
	Cells []string
	Err   error
}

// RowStatus classifies how a row was handled by Diff.
type RowStatus int

const (
	RowOK RowStatus = iota
	RowSkipped
)

// RowResult records why a row did or did not produce state.
type RowResult struct {
	ID     string
	Status RowStatus
	Reason string
}

// Skip reasons.
const (
	ReasonStale      = "stale"
	ReasonMissingID  = "missing id"
	ReasonMalformed  = "too few cells"
	ReasonNoDigits   = "no digits"
	ReasonProcessing = "processing"
)

// Changes is the outcome of one Diff.
type Changes struct {
	Started   []CallSession
	Completed []CallSession
	Skipped   []RowResult
}

// Options describe the row layout and recording address.
type Options struct {
	MinRowCells   int
	NumberCell    int
	BaseURL       string
	RecordingPath string
}

// Registry owns the active call set and the processing set. Completed calls
// move from the former to the latter inside Diff under one lock.
type Registry struct {
	opts    Options
	now     func() time.Time
	resolve func(string) country.Info

	mu         sync.Mutex
	active     map[string]*CallSession
	order      []string
	processing map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.MinRowCells <= opts.NumberCell {
		opts.MinRowCells = opts.NumberCell + 1
	}
	return &Registry{
		opts:       opts,
		now:        time.Now,
		resolve:    country.Resolve,
		active:     make(map[string]*CallSession),
		processing: make(map[string]struct{}),
	}
}

// WithClock overrides the time source.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Diff applies one snapshot. Rows are visited in order; started calls are
// emitted in row order and completed calls in first-seen order.
func (r *Registry) Diff(rows []RawRow) Changes {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var out Changes
	seen := make(map[string]struct{}, len(rows))

	for _, row := range rows {
		if row.ID == "" {
			out.Skipped = append(out.Skipped, RowResult{Status: RowSkipped, Reason: ReasonMissingID})
			continue
		}
		if row.Err != nil {
			// A stale row still counts as present so a re-render does not
			// complete the call.
			seen[row.ID] = struct{}{}
			out.Skipped = append(out.Skipped, RowResult{ID: row.ID, Status: RowSkipped, Reason: ReasonStale})
			continue
		}
		if len(row.Cells) < r.opts.MinRowCells {
			out.Skipped = append(out.Skipped, RowResult{ID: row.ID, Status: RowSkipped, Reason: ReasonMalformed})
			continue
		}
		number := Digits(row.Cells[r.opts.NumberCell])
		if number == "" {
			out.Skipped = append(out.Skipped, RowResult{ID: row.ID, Status: RowSkipped, Reason: ReasonNoDigits})
			continue
		}
		seen[row.ID] = struct{}{}

		if cs, ok := r.active[row.ID]; ok {
			if now.After(cs.LastSeen) {
				cs.LastSeen = now
			}
			continue
		}
		if _, busy := r.processing[row.ID]; busy {
			out.Skipped = append(out.Skipped, RowResult{ID: row.ID, Status: RowSkipped, Reason: ReasonProcessing})
			continue
		}

		info := r.resolve(number)
		cs := &CallSession{
			ID:           row.ID,
			PhoneNumber:  number,
			Region:       info.Region,
			Country:      info.Name,
			Flag:         info.Flag,
			DetectedAt:   now,
			LastSeen:     now,
			RecordingURL: RecordingURL(r.opts.BaseURL, r.opts.RecordingPath, number, row.ID),
		}
		r.active[row.ID] = cs
		r.order = append(r.order, row.ID)
		out.Started = append(out.Started, *cs)
	}

	kept := r.order[:0]
	for _, id := range r.order {
		if _, ok := seen[id]; ok {
			kept = append(kept, id)
			continue
		}
		cs := r.active[id]
		delete(r.active, id)
		if !r.claimLocked(id) {
			continue
		}
		out.Completed = append(out.Completed, *cs)
	}
	r.order = kept
	return out
}

// claimLocked inserts id into the processing set; false if already present.
func (r *Registry) claimLocked(id string) bool {
	if _, ok := r.processing[id]; ok {
		return false
	}
	r.processing[id] = struct{}{}
	return true
}

// Release removes id from the processing set. It reports whether id was
// present, so only the first call for a claim returns true.
func (r *Registry) Release(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processing[id]; !ok {
		return false
	}
	delete(r.processing, id)
	return true
}

// SetAdminMessage records the admin notification for an active call.
func (r *Registry) SetAdminMessage(id string, messageID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.active[id]
	if !ok {
		return false
	}
	cs.AdminMessageID = messageID
	return true
}

// Active returns a snapshot of the active calls in first-seen order.
func (r *Registry) Active() []CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallSession, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.active[id])
	}
	return out
}

// Processing returns the ids being processed, sorted.
func (r *Registry) Processing() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.processing))
	for id := range r.processing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsProcessing reports whether id is in the processing set.
func (r *Registry) IsProcessing(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.processing[id]
	return ok
}
