// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"lms-deadline-tracker/internal/database"
	"lms-deadline-tracker/internal/importer"
	"lms-deadline-tracker/internal/jobs"
	"lms-deadline-tracker/internal/lms"
	"lms-deadline-tracker/internal/model"
	"lms-deadline-tracker/internal/normalize"
)

// JobService is the slice of the job manager the handlers use.
type JobService interface {
	Submit(ctx context.Context, studentID int64, creds *lms.Credentials) (string, error)
	Status(ctx context.Context, jobID string) (model.SyncJob, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	db       database.Querier
	jobs     JobService
	importer jobs.Importer
	logger   *slog.Logger
	validate *validator.Validate
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db database.Querier, jobSvc JobService, imp jobs.Importer, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:       db,
		jobs:     jobSvc,
		importer: imp,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Post("/students", h.registerStudent)
	r.Post("/sync", h.submitSync)
	r.Get("/jobs/{jobID}", h.getJob)
	r.Post("/crawl/submit/{studentID}", h.submitCrawl)
	r.Get("/schedules", h.getSchedules)
	r.Get("/sync-logs", h.getSyncLogs)
	r.Post("/items/{itemID}/complete", h.completeItem(true))
	r.Post("/items/{itemID}/uncomplete", h.completeItem(false))

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status": "OK",
		"ts":     time.Now().In(normalize.Zone).Format(time.RFC3339),
	})
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

// registerStudent creates the identity imported data belongs to.
// POST /students
func (h *Handler) registerStudent(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if _, err := h.db.GetStudentByEmail(r.Context(), req.Email); err == nil {
		respondWithError(w, http.StatusConflict, "Email already registered")
		return
	} else if !errors.Is(err, pgx.ErrNoRows) {
		h.logger.Error("Failed to look up student", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("Failed to hash password", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	student, err := h.db.CreateStudent(r.Context(), database.CreateStudentParams{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
	})
	if err != nil {
		h.logger.Error("Failed to create student", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusCreated, student)
}

type syncRequest struct {
	StudentID   int64  `json:"studentId" validate:"required,gt=0"`
	LMSUsername string `json:"lmsUsername" validate:"required"`
	LMSPassword string `json:"lmsPassword" validate:"required"`
}

// submitSync enqueues a server-side scrape job and returns immediately.
// POST /sync -> 202 {jobId, status:"queued"}
func (h *Handler) submitSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	creds := lms.NewCredentials(req.LMSUsername, req.LMSPassword)
	jobID, err := h.jobs.Submit(r.Context(), req.StudentID, creds)
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			respondWithError(w, http.StatusServiceUnavailable, "Sync queue is full, try again later")
			return
		}
		h.logger.Error("Failed to submit sync job", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]any{
		"jobId":  jobID,
		"status": model.JobQueued,
	})
}

// getJob is the polling endpoint for job state.
// GET /jobs/{jobID}
func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.jobs.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error("Failed to get job", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, job)
}

type crawlPayload struct {
	ClientVersion  string      `json:"clientVersion"`
	ClientPlatform string      `json:"clientPlatform"`
	CrawledAt      string      `json:"crawledAt"`
	Items          []crawlItem `json:"items" validate:"required"`
}

type crawlItem struct {
	Type             string `json:"type"`
	CourseName       string `json:"courseName"`
	Title            string `json:"title"`
	URL              string `json:"url"`
	Due              string `json:"due"`
	RemainingSeconds int64  `json:"remainingSeconds"`
}

// submitCrawl receives a payload crawled on the client side and runs it
// through the same normalization and import pipeline as a server scrape.
// Individual malformed items are dropped by the importer, not rejected here.
// POST /crawl/submit/{studentID}
func (h *Handler) submitCrawl(w http.ResponseWriter, r *http.Request) {
	requestedID, err := strconv.ParseInt(chi.URLParam(r, "studentID"), 10, 64)
	if err != nil || requestedID <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid student id")
		return
	}

	var payload crawlPayload
	if !h.decodeAndValidate(w, r, &payload) {
		return
	}

	student, err := h.resolveCrawlStudent(r, requestedID)
	if err != nil {
		h.logger.Error("Failed to resolve student for crawl submit", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	scraped := make([]model.ScrapedItem, 0, len(payload.Items))
	for _, it := range payload.Items {
		scraped = append(scraped, model.ScrapedItem{
			Kind:             itemKindFromPayload(it.Type),
			CourseName:       it.CourseName,
			Title:            it.Title,
			URL:              it.URL,
			DueText:          it.Due,
			RemainingSeconds: it.RemainingSeconds,
		})
	}

	meta := importer.Meta{}
	if payload.ClientVersion != "" {
		meta.ClientVersion = &payload.ClientVersion
	}
	if payload.ClientPlatform != "" {
		meta.ClientPlatform = &payload.ClientPlatform
	}

	source := fmt.Sprintf("client:%d:%s", requestedID, payload.ClientPlatform)
	imported, err := h.importer.Import(r.Context(), student.ID, scraped, meta)
	if err != nil {
		h.logger.Error("Client crawl import failed", "student_id", student.ID, "error", err)
		if logErr := h.db.CreateSyncLog(r.Context(), source, "error", err.Error()); logErr != nil {
			h.logger.Error("Failed to write sync log", "error", logErr)
		}
		respondWithJSON(w, http.StatusInternalServerError, map[string]any{
			"success":  false,
			"imported": 0,
			"message":  "Failed to process crawl data",
		})
		return
	}
	if logErr := h.db.CreateSyncLog(r.Context(), source, "success", fmt.Sprintf("imported=%d", imported)); logErr != nil {
		h.logger.Error("Failed to write sync log", "error", logErr)
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"imported": imported,
		"message":  "Schedule data updated",
	})
}

// resolveCrawlStudent looks up the student a client crawl belongs to,
// creating a placeholder identity for first-contact clients so onboarding
// does not require a prior registration round-trip.
func (h *Handler) resolveCrawlStudent(r *http.Request, requestedID int64) (model.Student, error) {
	student, err := h.db.GetStudentByID(r.Context(), requestedID)
	if err == nil {
		return student, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Student{}, err
	}

	email := fmt.Sprintf("client-%d@local", requestedID)
	student, err = h.db.GetStudentByEmail(r.Context(), email)
	if err == nil {
		return student, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Student{}, err
	}

	return h.db.CreateStudent(r.Context(), database.CreateStudentParams{
		Email:        email,
		Name:         fmt.Sprintf("Client %d", requestedID),
		PasswordHash: "NOT_USED",
	})
}

func itemKindFromPayload(t string) model.ItemKind {
	switch t {
	case "assignment":
		return model.KindAssignment
	case "class", "lecture":
		return model.KindLecture
	default:
		return model.ItemKind(t) // importer drops unknown kinds
	}
}

// itemView is the wire shape of a persisted item; due timestamps are
// rendered in the institutional time zone.
type itemView struct {
	ID         string  `json:"id"`
	CourseName string  `json:"courseName"`
	Title      string  `json:"title"`
	URL        *string `json:"url,omitempty"`
	DueAt      *string `json:"dueAt,omitempty"`
	Completed  bool    `json:"completed"`
}

func toItemView(it model.Item) itemView {
	v := itemView{
		ID:         it.ID,
		CourseName: it.CourseName,
		Title:      it.Title,
		URL:        it.URL,
		Completed:  it.Completed,
	}
	if it.DueAt != nil {
		s := it.DueAt.In(normalize.Zone).Format(time.RFC3339)
		v.DueAt = &s
	}
	return v
}

// getSchedules returns the student's current deadline set.
// GET /schedules?studentId=N
func (h *Handler) getSchedules(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.ParseInt(r.URL.Query().Get("studentId"), 10, 64)
	if err != nil || studentID <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid or missing 'studentId' parameter")
		return
	}

	items, err := h.db.GetItemsByStudent(r.Context(), studentID)
	if err != nil {
		h.logger.Error("Failed to get items", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	assignments := make([]itemView, 0)
	lectures := make([]itemView, 0)
	for _, it := range items {
		switch it.Kind {
		case model.KindAssignment:
			assignments = append(assignments, toItemView(it))
		case model.KindLecture:
			lectures = append(lectures, toItemView(it))
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"assignments": assignments,
		"lectures":    lectures,
		"counts": map[string]int{
			"assignments": len(assignments),
			"lectures":    len(lectures),
		},
	})
}

// getSyncLogs exposes recent import attempts for debugging.
// GET /sync-logs
func (h *Handler) getSyncLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.db.ListSyncLogs(r.Context(), 100)
	if err != nil {
		h.logger.Error("Failed to list sync logs", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"count": len(logs),
		"logs":  logs,
	})
}

// completeItem toggles the local-only completion flag.
// POST /items/{itemID}/complete | /uncomplete
func (h *Handler) completeItem(completed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := chi.URLParam(r, "itemID")

		n, err := h.db.SetItemCompleted(r.Context(), itemID, completed)
		if err != nil {
			h.logger.Error("Failed to update completion flag", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if n == 0 {
			respondWithError(w, http.StatusNotFound, "Item not found")
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]any{
			"id":        itemID,
			"completed": completed,
		})
	}
}

// decodeAndValidate reads the JSON body into dst and runs struct validation,
// writing the 400 response itself on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return false
	}
	return true
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
