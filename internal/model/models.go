// internal/model/models.go
package model

import (
	"time"
)

// ItemKind tags a persisted item as an assignment or a lecture session.
// Both share the same record shape; the kind only carries semantics.
type ItemKind string

const (
	KindAssignment ItemKind = "assignment"
	KindLecture    ItemKind = "lecture"
)

// Student is the identity all imported data belongs to.
type Student struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ScrapedItem is the transient record produced by the page parser (or
// received from a client-side crawler). It is consumed by the importer
// and never persisted as-is.
type ScrapedItem struct {
	Kind             ItemKind
	CourseName       string // raw, as it appears on the page
	Title            string
	URL              string // optional
	DueText          string // raw due text, optional
	RemainingSeconds int64  // optional hint from client crawlers, unused server-side
}

// Item is a persisted assignment or lecture deadline for one student.
// The ID is a content-derived hash, so re-importing identical source
// data maps onto the same row.
type Item struct {
	ID         string     `json:"id"`
	StudentID  int64      `json:"studentId"`
	Kind       ItemKind   `json:"kind"`
	CourseName string     `json:"courseName"`
	Title      string     `json:"title"`
	URL        *string    `json:"url,omitempty"`
	DueAt      *time.Time `json:"dueAt,omitempty"`
	Completed  bool       `json:"completed"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// SyncJob tracks one asynchronous fetch/import execution.
// Imported is set only on completed, Error only on failed.
type SyncJob struct {
	JobID      string     `json:"jobId"`
	StudentID  int64      `json:"studentId"`
	Status     JobStatus  `json:"status"`
	Imported   *int       `json:"imported,omitempty"`
	Error      *string    `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// SyncLog is an append-only record of one import attempt.
type SyncLog struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Status    string    `json:"status"` // success | error
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// StudentUpdateStatus is the 1:1 per-student record the notification
// tracker reads to decide reminder eligibility. The importer refreshes
// it on every successful sync and resets the notification counter.
type StudentUpdateStatus struct {
	StudentID              int64      `json:"studentId"`
	LastUpdatedAt          *time.Time `json:"lastUpdatedAt,omitempty"`
	LastNotificationSentAt *time.Time `json:"lastNotificationSentAt,omitempty"`
	NotificationCount      int        `json:"notificationCount"`
	IsActive               bool       `json:"isActive"`
	ClientVersion          *string    `json:"clientVersion,omitempty"`
	ClientPlatform         *string    `json:"clientPlatform,omitempty"`
}
