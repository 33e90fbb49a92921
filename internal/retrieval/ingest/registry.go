package ingest

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"

	"github.com/todomyday/recall/internal/retrieval/model"
	"github.com/todomyday/recall/internal/retrieval/rerr"
)

// Registry owns job records for their lifetime. The map lock covers
// membership only; each job carries its own mutex, so polling job A never
// waits on processing of job B.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]*jobRecord
	retention time.Duration
	logger    *log.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

type jobRecord struct {
	mu         sync.Mutex
	snap       Job
	finishedAt time.Time
}

// NewRegistry creates the job registry. Records of terminal jobs are
// garbage-collected after the retention window; jobs live only in memory and
// are re-triggerable by re-uploading after a restart.
func NewRegistry(retention time.Duration, logger *log.Logger) *Registry {
	if retention <= 0 {
		retention = time.Hour
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Registry{
		jobs:      make(map[string]*jobRecord),
		retention: retention,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// StartJanitor sweeps expired terminal jobs on the given cron schedule. An
// empty or invalid expression falls back to a once-a-minute sweep.
func (r *Registry) StartJanitor(schedule string) {
	var next func(time.Time) time.Time
	if schedule != "" {
		if expr, err := cronexpr.Parse(schedule); err == nil {
			next = expr.Next
		} else {
			r.logger.Printf("invalid sweep schedule %q, using minute interval: %v", schedule, err)
		}
	}
	if next == nil {
		next = func(t time.Time) time.Time { return t.Add(time.Minute) }
	}
	go func() {
		for {
			wait := time.Until(next(time.Now()))
			if wait < time.Second {
				wait = time.Second
			}
			select {
			case <-r.stop:
				return
			case <-time.After(wait):
				r.Sweep(time.Now())
			}
		}
	}()
}

// Stop halts the janitor.
func (r *Registry) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

// Sweep drops terminal jobs whose retention window has passed and reports
// how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, rec := range r.jobs {
		rec.mu.Lock()
		expired := rec.snap.Status.Terminal() && rec.finishedAt.Before(cutoff)
		rec.mu.Unlock()
		if expired {
			delete(r.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Printf("swept %d expired job record(s)", removed)
	}
	return removed
}

// Create allocates a new pending job.
func (r *Registry) Create(ownerID, filename, fileType string, totalItems int) Job {
	rec := &jobRecord{
		snap: Job{
			ID:         uuid.NewString(),
			OwnerID:    ownerID,
			Filename:   filename,
			FileType:   fileType,
			Status:     StatusPending,
			TotalItems: totalItems,
			CreatedAt:  time.Now().UTC(),
		},
	}
	r.mu.Lock()
	r.jobs[rec.snap.ID] = rec
	r.mu.Unlock()
	return rec.snapshot()
}

// Get returns a consistent snapshot of the job, never a partially updated
// record.
func (r *Registry) Get(id string) (Job, error) {
	rec, ok := r.lookup(id)
	if !ok {
		return Job{}, rerr.NotFound("job %s not found", id)
	}
	return rec.snapshot(), nil
}

func (r *Registry) lookup(id string) (*jobRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.jobs[id]
	return rec, ok
}

func (rec *jobRecord) snapshot() Job {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	snap := rec.snap
	snap.Results = append([]model.Document(nil), rec.snap.Results...)
	snap.Progress = progressPercent(snap.ProcessedItems, snap.TotalItems)
	return snap
}

// mutate applies fn under the job's own lock. Mutations of terminal jobs are
// rejected, keeping completed/failed records immutable.
func (rec *jobRecord) mutate(fn func(*Job)) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.snap.Status.Terminal() {
		return false
	}
	fn(&rec.snap)
	if rec.snap.Status.Terminal() {
		rec.finishedAt = time.Now()
	}
	return true
}
