package ingest

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/todomyday/recall/internal/retrieval/model"
	"github.com/todomyday/recall/internal/retrieval/rerr"
	"github.com/todomyday/recall/internal/retrieval/telemetry"
)

// DocumentBuilder constructs a Document from a parsed section. Creation and
// categorization policy lives with the application; the default builder just
// derives a title from the heading.
type DocumentBuilder interface {
	Build(ctx context.Context, ownerID string, section Section) (model.Document, error)
}

// Indexer is the write side of the dual index.
type Indexer interface {
	Index(ctx context.Context, doc model.Document) error
}

// Handle supervises one running job. Cancel stops the section loop; it is
// not yet wired to the HTTP layer but keeps the concurrency contract
// explicit instead of fire-and-forget.
type Handle struct {
	done   chan struct{}
	cancel context.CancelFunc
}

// Done is closed when the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel abandons processing; the job is marked failed.
func (h *Handle) Cancel() { h.cancel() }

// Manager drives ingestion jobs to completion.
type Manager struct {
	registry *Registry
	builder  DocumentBuilder
	indexer  Indexer
	logger   *log.Logger
}

func NewManager(registry *Registry, builder DocumentBuilder, indexer Indexer, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Manager{registry: registry, builder: builder, indexer: indexer, logger: logger}
}

// CreateJob allocates a pending job and returns immediately.
func (m *Manager) CreateJob(ownerID, filename, fileType string, totalItems int) Job {
	return m.registry.Create(ownerID, filename, fileType, totalItems)
}

// GetStatus returns a snapshot suitable for polling. O(1) apart from copying
// the results slice; it never waits on the processing goroutine beyond the
// snapshot read.
func (m *Manager) GetStatus(jobID string) (Job, error) {
	return m.registry.Get(jobID)
}

// StartProcessing transitions the job to processing and consumes the
// sections asynchronously, strictly in the order provided. A per-section
// failure is logged and skipped, not retried; it does not abort the job.
func (m *Manager) StartProcessing(jobID string, sections []Section) (*Handle, error) {
	rec, ok := m.registry.lookup(jobID)
	if !ok {
		return nil, rerr.NotFound("job %s not found", jobID)
	}
	if !rec.mutate(func(j *Job) { j.Status = StatusProcessing }) {
		return nil, rerr.Validation("job %s already finished", jobID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{done: make(chan struct{}), cancel: cancel}
	go m.run(ctx, rec, sections, h)
	return h, nil
}

func (m *Manager) run(ctx context.Context, rec *jobRecord, sections []Section, h *Handle) {
	defer close(h.done)
	jobID := rec.snap.ID
	ownerID := rec.snap.OwnerID

	if m.builder == nil || m.indexer == nil {
		m.fail(rec, "ingestion pipeline not configured")
		return
	}

	m.logger.Printf("[job:%s] processing %d section(s)", jobID, len(sections))
	for i, section := range sections {
		select {
		case <-ctx.Done():
			m.fail(rec, "processing cancelled")
			return
		default:
		}

		doc, err := m.processSection(ctx, ownerID, section)
		if err != nil {
			telemetry.IngestSectionsTotal.WithLabelValues("failed").Inc()
			m.logger.Printf("[job:%s] section %d/%d %q failed: %v", jobID, i+1, len(sections), section.Heading, err)
			rec.mutate(func(j *Job) {
				j.ProcessedItems++
				j.FailedItems++
			})
			continue
		}

		telemetry.IngestSectionsTotal.WithLabelValues("ok").Inc()
		rec.mutate(func(j *Job) {
			j.ProcessedItems++
			j.Results = append(j.Results, doc)
		})
		m.logger.Printf("[job:%s] processed section %d/%d %q", jobID, i+1, len(sections), section.Heading)
	}

	rec.mutate(func(j *Job) { j.Status = StatusCompleted })
	telemetry.IngestJobsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	m.logger.Printf("[job:%s] completed", jobID)
}

func (m *Manager) processSection(ctx context.Context, ownerID string, section Section) (model.Document, error) {
	doc, err := m.builder.Build(ctx, ownerID, section)
	if err != nil {
		return model.Document{}, err
	}
	if err := m.indexer.Index(ctx, doc); err != nil && !rerr.IsKind(err, rerr.KindPartial) {
		return model.Document{}, err
	}
	return doc, nil
}

func (m *Manager) fail(rec *jobRecord, msg string) {
	rec.mutate(func(j *Job) {
		j.Status = StatusFailed
		j.ErrorMessage = msg
	})
	telemetry.IngestJobsTotal.WithLabelValues(string(StatusFailed)).Inc()
	m.logger.Printf("[job:%s] failed: %s", rec.snap.ID, msg)
}

// DefaultBuilder is the stand-in for the application's document creation
// service: it mints an id, uses the section heading as the title and tags
// the document as a note.
type DefaultBuilder struct{}

func (DefaultBuilder) Build(_ context.Context, ownerID string, section Section) (model.Document, error) {
	content := strings.TrimSpace(section.Content)
	if content == "" {
		return model.Document{}, rerr.Validation("section %q is empty", section.Heading)
	}
	title := strings.TrimSpace(section.Heading)
	if title == "" {
		title = firstLine(content)
	}
	return model.Document{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		ContentType: model.ContentTypeNote,
		Title:       title,
		Body:        content,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return strings.TrimSpace(s)
}
