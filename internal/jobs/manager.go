// internal/jobs/manager.go
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"lms-deadline-tracker/internal/importer"
	"lms-deadline-tracker/internal/lms"
	"lms-deadline-tracker/internal/model"
)

// ErrQueueFull is returned by Submit when every worker is busy and the
// backlog is at capacity. The caller should retry later.
var ErrQueueFull = errors.New("sync queue is full")

// Importer is the slice of the import engine the manager needs.
type Importer interface {
	Import(ctx context.Context, studentID int64, items []model.ScrapedItem, meta importer.Meta) (int, error)
}

// Store is the subset of the database layer the manager touches.
// *database.Queries satisfies it.
type Store interface {
	CreateSyncJob(ctx context.Context, job model.SyncJob) error
	GetSyncJob(ctx context.Context, jobID string) (model.SyncJob, error)
	MarkJobRunning(ctx context.Context, jobID string, startedAt time.Time) error
	MarkJobCompleted(ctx context.Context, jobID string, imported int, finishedAt time.Time) error
	MarkJobFailed(ctx context.Context, jobID string, errMsg string, finishedAt time.Time) error
	CreateSyncLog(ctx context.Context, source, status, message string) error
}

type task struct {
	jobID     string
	studentID int64
	creds     *lms.Credentials
}

// Manager runs scrape-and-import jobs on a bounded worker pool, off the
// request path. Submission persists a queued record and returns at once;
// progress is observed by polling Status.
type Manager struct {
	db       Store
	scraper  lms.Scraper
	importer Importer
	logger   *slog.Logger

	tasks   chan task
	workers int
	wg      sync.WaitGroup
}

func NewManager(db Store, scraper lms.Scraper, imp Importer, logger *slog.Logger, workers, queueSize int) *Manager {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	return &Manager{
		db:       db,
		scraper:  scraper,
		importer: imp,
		logger:   logger,
		tasks:    make(chan task, queueSize),
		workers:  workers,
	}
}

// Start launches the workers. They drain the queue until ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("Starting sync job workers", "workers", m.workers, "queue", cap(m.tasks))
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-m.tasks:
					m.run(ctx, t)
				}
			}
		}()
	}
}

// Wait blocks until every worker has exited. Call after canceling the
// Start context during shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Submit registers a queued job for the student and schedules it. It never
// blocks on the scrape: a full queue fails fast with ErrQueueFull and the
// job record is marked failed so pollers are not left hanging.
func (m *Manager) Submit(ctx context.Context, studentID int64, creds *lms.Credentials) (string, error) {
	jobID := uuid.NewString()
	err := m.db.CreateSyncJob(ctx, model.SyncJob{
		JobID:     jobID,
		StudentID: studentID,
		Status:    model.JobQueued,
	})
	if err != nil {
		creds.Wipe()
		return "", fmt.Errorf("failed to persist sync job: %w", err)
	}

	select {
	case m.tasks <- task{jobID: jobID, studentID: studentID, creds: creds}:
		m.logger.Info("Sync job queued", "job_id", jobID, "student_id", studentID)
		return jobID, nil
	default:
		creds.Wipe()
		if err := m.db.MarkJobFailed(ctx, jobID, ErrQueueFull.Error(), time.Now()); err != nil {
			m.logger.Error("Failed to mark overflowed job", "job_id", jobID, "error", err)
		}
		return "", ErrQueueFull
	}
}

// Status returns the job record for polling. Pure read.
func (m *Manager) Status(ctx context.Context, jobID string) (model.SyncJob, error) {
	return m.db.GetSyncJob(ctx, jobID)
}

// run executes one job to a terminal state. Credentials are wiped on every
// exit path; the finish time is always stamped.
func (m *Manager) run(ctx context.Context, t task) {
	defer t.creds.Wipe()

	logger := m.logger.With("job_id", t.jobID, "student_id", t.studentID)
	source := fmt.Sprintf("scraper:%d", t.studentID)

	if err := m.db.MarkJobRunning(ctx, t.jobID, time.Now()); err != nil {
		logger.Error("Failed to mark job running", "error", err)
		return
	}
	logger.Info("Sync job started")

	items, err := m.scraper.Scrape(ctx, t.creds)
	var imported int
	if err == nil {
		imported, err = m.importer.Import(ctx, t.studentID, items, importer.Meta{})
	}

	finished := time.Now()
	if err != nil {
		logger.Error("Sync job failed", "error", err)
		if dbErr := m.db.MarkJobFailed(ctx, t.jobID, err.Error(), finished); dbErr != nil {
			logger.Error("Failed to record job failure", "error", dbErr)
		}
		if dbErr := m.db.CreateSyncLog(ctx, source, "error", err.Error()); dbErr != nil {
			logger.Error("Failed to write sync log", "error", dbErr)
		}
		return
	}

	logger.Info("Sync job completed", "imported", imported)
	if dbErr := m.db.MarkJobCompleted(ctx, t.jobID, imported, finished); dbErr != nil {
		logger.Error("Failed to record job completion", "error", dbErr)
	}
	if dbErr := m.db.CreateSyncLog(ctx, source, "success", fmt.Sprintf("imported=%d", imported)); dbErr != nil {
		logger.Error("Failed to write sync log", "error", dbErr)
	}
}
