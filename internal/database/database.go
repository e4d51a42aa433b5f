// internal/database/database.go
package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"lms-deadline-tracker/internal/model"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx, so the same queries run
// standalone or inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New wraps a connection or transaction in the query set.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

// Querier is the storage surface the rest of the application depends on.
// Tests substitute a mock; production code uses *Queries.
type Querier interface {
	CreateStudent(ctx context.Context, arg CreateStudentParams) (model.Student, error)
	GetStudentByID(ctx context.Context, id int64) (model.Student, error)
	GetStudentByEmail(ctx context.Context, email string) (model.Student, error)

	DeleteItemsByStudent(ctx context.Context, studentID int64) error
	CreateItems(ctx context.Context, items []model.Item) (int64, error)
	GetItemsByStudent(ctx context.Context, studentID int64) ([]model.Item, error)
	SetItemCompleted(ctx context.Context, id string, completed bool) (int64, error)

	CreateSyncJob(ctx context.Context, job model.SyncJob) error
	GetSyncJob(ctx context.Context, jobID string) (model.SyncJob, error)
	MarkJobRunning(ctx context.Context, jobID string, startedAt time.Time) error
	MarkJobCompleted(ctx context.Context, jobID string, imported int, finishedAt time.Time) error
	MarkJobFailed(ctx context.Context, jobID string, errMsg string, finishedAt time.Time) error

	CreateSyncLog(ctx context.Context, source, status, message string) error
	ListSyncLogs(ctx context.Context, limit int32) ([]model.SyncLog, error)

	UpsertStudentUpdateStatus(ctx context.Context, arg UpsertUpdateStatusParams) error
	GetStudentUpdateStatus(ctx context.Context, studentID int64) (model.StudentUpdateStatus, error)
}

var _ Querier = (*Queries)(nil)

type CreateStudentParams struct {
	Email        string
	Name         string
	PasswordHash string
}

func (q *Queries) CreateStudent(ctx context.Context, arg CreateStudentParams) (model.Student, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO students (email, name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, email, name, password_hash, created_at`,
		arg.Email, arg.Name, arg.PasswordHash)
	var s model.Student
	err := row.Scan(&s.ID, &s.Email, &s.Name, &s.PasswordHash, &s.CreatedAt)
	return s, err
}

func (q *Queries) GetStudentByID(ctx context.Context, id int64) (model.Student, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM students WHERE id = $1`, id)
	var s model.Student
	err := row.Scan(&s.ID, &s.Email, &s.Name, &s.PasswordHash, &s.CreatedAt)
	return s, err
}

func (q *Queries) GetStudentByEmail(ctx context.Context, email string) (model.Student, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM students WHERE email = $1`, email)
	var s model.Student
	err := row.Scan(&s.ID, &s.Email, &s.Name, &s.PasswordHash, &s.CreatedAt)
	return s, err
}

func (q *Queries) DeleteItemsByStudent(ctx context.Context, studentID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM items WHERE student_id = $1`, studentID)
	return err
}

// CreateItems bulk-inserts the replacement item set for one student.
func (q *Queries) CreateItems(ctx context.Context, items []model.Item) (int64, error) {
	var n int64
	for _, it := range items {
		tag, err := q.db.Exec(ctx, `
			INSERT INTO items (id, student_id, kind, course_name, title, url, due_at, completed)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			it.ID, it.StudentID, it.Kind, it.CourseName, it.Title, it.URL, it.DueAt, it.Completed)
		if err != nil {
			return n, err
		}
		n += tag.RowsAffected()
	}
	return n, nil
}

func (q *Queries) GetItemsByStudent(ctx context.Context, studentID int64) ([]model.Item, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, student_id, kind, course_name, title, url, due_at, completed, created_at
		FROM items
		WHERE student_id = $1
		ORDER BY due_at NULLS LAST, title`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.ID, &it.StudentID, &it.Kind, &it.CourseName, &it.Title,
			&it.URL, &it.DueAt, &it.Completed, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (q *Queries) SetItemCompleted(ctx context.Context, id string, completed bool) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE items SET completed = $2 WHERE id = $1`, id, completed)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) CreateSyncJob(ctx context.Context, job model.SyncJob) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO sync_jobs (job_id, student_id, status)
		VALUES ($1, $2, $3)`,
		job.JobID, job.StudentID, job.Status)
	return err
}

func (q *Queries) GetSyncJob(ctx context.Context, jobID string) (model.SyncJob, error) {
	row := q.db.QueryRow(ctx, `
		SELECT job_id, student_id, status, imported, error, created_at, started_at, finished_at
		FROM sync_jobs WHERE job_id = $1`, jobID)
	var j model.SyncJob
	err := row.Scan(&j.JobID, &j.StudentID, &j.Status, &j.Imported, &j.Error,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	return j, err
}

func (q *Queries) MarkJobRunning(ctx context.Context, jobID string, startedAt time.Time) error {
	_, err := q.db.Exec(ctx, `
		UPDATE sync_jobs SET status = 'running', started_at = $2
		WHERE job_id = $1`, jobID, startedAt)
	return err
}

func (q *Queries) MarkJobCompleted(ctx context.Context, jobID string, imported int, finishedAt time.Time) error {
	_, err := q.db.Exec(ctx, `
		UPDATE sync_jobs SET status = 'completed', imported = $2, finished_at = $3
		WHERE job_id = $1`, jobID, imported, finishedAt)
	return err
}

func (q *Queries) MarkJobFailed(ctx context.Context, jobID string, errMsg string, finishedAt time.Time) error {
	_, err := q.db.Exec(ctx, `
		UPDATE sync_jobs SET status = 'failed', error = $2, finished_at = $3
		WHERE job_id = $1`, jobID, errMsg, finishedAt)
	return err
}

func (q *Queries) CreateSyncLog(ctx context.Context, source, status, message string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO sync_logs (source, status, message)
		VALUES ($1, $2, $3)`, source, status, message)
	return err
}

func (q *Queries) ListSyncLogs(ctx context.Context, limit int32) ([]model.SyncLog, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, source, status, message, created_at
		FROM sync_logs ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.SyncLog
	for rows.Next() {
		var l model.SyncLog
		if err := rows.Scan(&l.ID, &l.Source, &l.Status, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

type UpsertUpdateStatusParams struct {
	StudentID      int64
	LastUpdatedAt  time.Time
	ClientVersion  *string
	ClientPlatform *string
}

// UpsertStudentUpdateStatus records a successful import and resets the
// reminder counter the notification tracker consumes.
func (q *Queries) UpsertStudentUpdateStatus(ctx context.Context, arg UpsertUpdateStatusParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO student_update_status (student_id, last_updated_at, notification_count, is_active, client_version, client_platform)
		VALUES ($1, $2, 0, TRUE, $3, $4)
		ON CONFLICT (student_id) DO UPDATE SET
			last_updated_at = EXCLUDED.last_updated_at,
			notification_count = 0,
			client_version = COALESCE(EXCLUDED.client_version, student_update_status.client_version),
			client_platform = COALESCE(EXCLUDED.client_platform, student_update_status.client_platform)`,
		arg.StudentID, arg.LastUpdatedAt, arg.ClientVersion, arg.ClientPlatform)
	return err
}

func (q *Queries) GetStudentUpdateStatus(ctx context.Context, studentID int64) (model.StudentUpdateStatus, error) {
	row := q.db.QueryRow(ctx, `
		SELECT student_id, last_updated_at, last_notification_sent_at, notification_count, is_active, client_version, client_platform
		FROM student_update_status WHERE student_id = $1`, studentID)
	var s model.StudentUpdateStatus
	err := row.Scan(&s.StudentID, &s.LastUpdatedAt, &s.LastNotificationSentAt,
		&s.NotificationCount, &s.IsActive, &s.ClientVersion, &s.ClientPlatform)
	return s, err
}
