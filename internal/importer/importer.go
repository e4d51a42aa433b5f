// internal/importer/importer.go
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lms-deadline-tracker/internal/database"
	custom_errors "lms-deadline-tracker/internal/errors"
	"lms-deadline-tracker/internal/model"
	"lms-deadline-tracker/internal/normalize"
)

// relevanceHorizon bounds how far ahead an item may be due and still be
// actionable. Past-due items and items beyond the horizon are dropped.
const relevanceHorizon = 30 * 24 * time.Hour

// txStore is the slice of the database layer one import transaction uses.
// *database.Queries satisfies it.
type txStore interface {
	DeleteItemsByStudent(ctx context.Context, studentID int64) error
	CreateItems(ctx context.Context, items []model.Item) (int64, error)
	UpsertStudentUpdateStatus(ctx context.Context, arg database.UpsertUpdateStatusParams) error
}

// Meta carries optional client details recorded on the student's update status.
type Meta struct {
	ClientVersion  *string
	ClientPlatform *string
}

// Importer performs the replace-on-sync import for one student: delete the
// student's previous items, insert the filtered and deduplicated new set,
// and refresh the update-status record, all in one transaction.
type Importer struct {
	dbpool *pgxpool.Pool
	logger *slog.Logger

	// Per-student serialization: two concurrent syncs for the same student
	// would interleave their delete-then-insert sequences otherwise.
	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	now func() time.Time
}

func New(dbpool *pgxpool.Pool, logger *slog.Logger) *Importer {
	return &Importer{
		dbpool: dbpool,
		logger: logger,
		locks:  make(map[int64]*sync.Mutex),
		now:    time.Now,
	}
}

// Import runs one full replace cycle for the student and returns the number
// of rows inserted. The whole cycle holds the student's lock, so replaces
// never interleave for the same student.
func (im *Importer) Import(ctx context.Context, studentID int64, scraped []model.ScrapedItem, meta Meta) (int, error) {
	unlock := im.lockStudent(studentID)
	defer unlock()

	tx, err := im.dbpool.Begin(ctx)
	if err != nil {
		return 0, &custom_errors.PersistenceError{Op: "begin import tx", Err: err}
	}
	defer tx.Rollback(ctx) // no-op once committed

	n, err := im.importTx(ctx, database.New(tx), studentID, scraped, meta)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, &custom_errors.PersistenceError{Op: "commit import tx", Err: err}
	}
	return n, nil
}

// importTx is the transaction body, split out so tests can drive it with a
// mock store.
func (im *Importer) importTx(ctx context.Context, q txStore, studentID int64, scraped []model.ScrapedItem, meta Meta) (int, error) {
	now := im.now()
	items := im.buildItems(studentID, scraped, now)

	if err := q.DeleteItemsByStudent(ctx, studentID); err != nil {
		return 0, &custom_errors.PersistenceError{Op: "delete previous items", Err: err}
	}
	inserted, err := q.CreateItems(ctx, items)
	if err != nil {
		return 0, &custom_errors.PersistenceError{Op: "insert items", Err: err}
	}
	if err := q.UpsertStudentUpdateStatus(ctx, database.UpsertUpdateStatusParams{
		StudentID:      studentID,
		LastUpdatedAt:  now,
		ClientVersion:  meta.ClientVersion,
		ClientPlatform: meta.ClientPlatform,
	}); err != nil {
		return 0, &custom_errors.PersistenceError{Op: "upsert update status", Err: err}
	}

	im.logger.Info("Replaced student items", "student_id", studentID,
		"scraped", len(scraped), "imported", inserted)
	return int(inserted), nil
}

// buildItems normalizes, filters and deduplicates the scraped set. A single
// malformed record is skipped with a log line; it never aborts the sync.
func (im *Importer) buildItems(studentID int64, scraped []model.ScrapedItem, now time.Time) []model.Item {
	horizon := now.Add(relevanceHorizon)
	seen := make(map[string]struct{}, len(scraped))
	items := make([]model.Item, 0, len(scraped))

	for _, s := range scraped {
		if s.Title == "" || s.CourseName == "" {
			im.logger.Debug("Skipping item with missing title or course", "title", s.Title)
			continue
		}
		if s.Kind != model.KindAssignment && s.Kind != model.KindLecture {
			im.logger.Debug("Skipping item of unknown kind", "kind", s.Kind, "title", s.Title)
			continue
		}

		course := normalize.CleanCourseName(s.CourseName)

		dueAt, hasDue := normalize.ParseDue(s.DueText)
		// Relevance window. Items with no due date are always kept.
		if hasDue && dueAt.Before(now) {
			continue
		}
		if hasDue && dueAt.After(horizon) {
			continue
		}

		id := ItemID(s.Title, course, studentID, s.DueText)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		item := model.Item{
			ID:         id,
			StudentID:  studentID,
			Kind:       s.Kind,
			CourseName: course,
			Title:      s.Title,
		}
		if s.URL != "" {
			u := s.URL
			item.URL = &u
		}
		if hasDue {
			d := dueAt
			item.DueAt = &d
		}
		items = append(items, item)
	}
	return items
}

// ItemID derives the content-addressed identifier of an item. It is a pure
// function of (title, cleaned course name, student, raw due text), so
// re-importing byte-identical source data reproduces the same ids.
func ItemID(title, courseName string, studentID int64, dueText string) string {
	due := dueText
	if due == "" {
		due = "NO_DUE"
	}
	source := title + "|" + courseName + "|" + strconv.FormatInt(studentID, 10) + "|" + due
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

func (im *Importer) lockStudent(studentID int64) func() {
	im.locksMu.Lock()
	l, ok := im.locks[studentID]
	if !ok {
		l = &sync.Mutex{}
		im.locks[studentID] = l
	}
	im.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}
