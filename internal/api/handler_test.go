// internal/api/handler_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lms-deadline-tracker/internal/database"
	"lms-deadline-tracker/internal/importer"
	"lms-deadline-tracker/internal/jobs"
	"lms-deadline-tracker/internal/lms"
	"lms-deadline-tracker/internal/model"
	"lms-deadline-tracker/internal/normalize"
)

// MockQuerier is a mock of the database.Querier interface.
type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) CreateStudent(ctx context.Context, arg database.CreateStudentParams) (model.Student, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(model.Student), args.Error(1)
}

func (m *MockQuerier) GetStudentByID(ctx context.Context, id int64) (model.Student, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Student), args.Error(1)
}

func (m *MockQuerier) GetStudentByEmail(ctx context.Context, email string) (model.Student, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(model.Student), args.Error(1)
}

func (m *MockQuerier) DeleteItemsByStudent(ctx context.Context, studentID int64) error {
	args := m.Called(ctx, studentID)
	return args.Error(0)
}

func (m *MockQuerier) CreateItems(ctx context.Context, items []model.Item) (int64, error) {
	args := m.Called(ctx, items)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuerier) GetItemsByStudent(ctx context.Context, studentID int64) ([]model.Item, error) {
	args := m.Called(ctx, studentID)
	return args.Get(0).([]model.Item), args.Error(1)
}

func (m *MockQuerier) SetItemCompleted(ctx context.Context, id string, completed bool) (int64, error) {
	args := m.Called(ctx, id, completed)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuerier) CreateSyncJob(ctx context.Context, job model.SyncJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockQuerier) GetSyncJob(ctx context.Context, jobID string) (model.SyncJob, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(model.SyncJob), args.Error(1)
}

func (m *MockQuerier) MarkJobRunning(ctx context.Context, jobID string, startedAt time.Time) error {
	args := m.Called(ctx, jobID, startedAt)
	return args.Error(0)
}

func (m *MockQuerier) MarkJobCompleted(ctx context.Context, jobID string, imported int, finishedAt time.Time) error {
	args := m.Called(ctx, jobID, imported, finishedAt)
	return args.Error(0)
}

func (m *MockQuerier) MarkJobFailed(ctx context.Context, jobID string, errMsg string, finishedAt time.Time) error {
	args := m.Called(ctx, jobID, errMsg, finishedAt)
	return args.Error(0)
}

func (m *MockQuerier) CreateSyncLog(ctx context.Context, source, status, message string) error {
	args := m.Called(ctx, source, status, message)
	return args.Error(0)
}

func (m *MockQuerier) ListSyncLogs(ctx context.Context, limit int32) ([]model.SyncLog, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.SyncLog), args.Error(1)
}

func (m *MockQuerier) UpsertStudentUpdateStatus(ctx context.Context, arg database.UpsertUpdateStatusParams) error {
	args := m.Called(ctx, arg)
	return args.Error(0)
}

func (m *MockQuerier) GetStudentUpdateStatus(ctx context.Context, studentID int64) (model.StudentUpdateStatus, error) {
	args := m.Called(ctx, studentID)
	return args.Get(0).(model.StudentUpdateStatus), args.Error(1)
}

// fakeJobService returns canned submit/status results.
type fakeJobService struct {
	jobID     string
	submitErr error
	job       model.SyncJob
	statusErr error
}

func (f *fakeJobService) Submit(ctx context.Context, studentID int64, creds *lms.Credentials) (string, error) {
	return f.jobID, f.submitErr
}

func (f *fakeJobService) Status(ctx context.Context, jobID string) (model.SyncJob, error) {
	return f.job, f.statusErr
}

// fakeImporter records what the handler fed it.
type fakeImporter struct {
	imported int
	err      error
	gotID    int64
	gotItems []model.ScrapedItem
	gotMeta  importer.Meta
}

func (f *fakeImporter) Import(ctx context.Context, studentID int64, items []model.ScrapedItem, meta importer.Meta) (int, error) {
	f.gotID = studentID
	f.gotItems = items
	f.gotMeta = meta
	return f.imported, f.err
}

func newTestRouter(db database.Querier, jobSvc JobService, imp *fakeImporter) http.Handler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	if imp == nil {
		imp = &fakeImporter{}
	}
	return NewRouter(db, jobSvc, imp, logger)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(new(MockQuerier), &fakeJobService{}, nil)

	rr := doJSON(t, router, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "OK", resp["status"])
	assert.NotEmpty(t, resp["ts"])
}

func TestRegisterStudent_Success(t *testing.T) {
	mockDB := new(MockQuerier)
	mockDB.On("GetStudentByEmail", mock.Anything, "kim@example.com").
		Return(model.Student{}, pgx.ErrNoRows).Once()
	mockDB.On("CreateStudent", mock.Anything, mock.MatchedBy(func(arg database.CreateStudentParams) bool {
		// Stored hash must never be the raw password.
		return arg.Email == "kim@example.com" && arg.Name == "Kim" && arg.PasswordHash != "supersecret"
	})).Return(model.Student{ID: 1, Email: "kim@example.com", Name: "Kim"}, nil).Once()

	router := newTestRouter(mockDB, &fakeJobService{}, nil)
	rr := doJSON(t, router, http.MethodPost, "/students", map[string]string{
		"email":    "kim@example.com",
		"name":     "Kim",
		"password": "supersecret",
	})

	assert.Equal(t, http.StatusCreated, rr.Code)
	mockDB.AssertExpectations(t)
}

func TestRegisterStudent_DuplicateEmail(t *testing.T) {
	mockDB := new(MockQuerier)
	mockDB.On("GetStudentByEmail", mock.Anything, "kim@example.com").
		Return(model.Student{ID: 1, Email: "kim@example.com"}, nil).Once()

	router := newTestRouter(mockDB, &fakeJobService{}, nil)
	rr := doJSON(t, router, http.MethodPost, "/students", map[string]string{
		"email":    "kim@example.com",
		"name":     "Kim",
		"password": "supersecret",
	})

	assert.Equal(t, http.StatusConflict, rr.Code)
	mockDB.AssertNotCalled(t, "CreateStudent")
}

func TestRegisterStudent_Validation(t *testing.T) {
	router := newTestRouter(new(MockQuerier), &fakeJobService{}, nil)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing email", map[string]string{"name": "Kim", "password": "supersecret"}},
		{"bad email", map[string]string{"email": "not-an-email", "name": "Kim", "password": "supersecret"}},
		{"short password", map[string]string{"email": "kim@example.com", "name": "Kim", "password": "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, router, http.MethodPost, "/students", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestSubmitSync_Accepted(t *testing.T) {
	router := newTestRouter(new(MockQuerier), &fakeJobService{jobID: "job-42"}, nil)

	rr := doJSON(t, router, http.MethodPost, "/sync", map[string]any{
		"studentId":   7,
		"lmsUsername": "student01",
		"lmsPassword": "secret",
	})

	assert.Equal(t, http.StatusAccepted, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "job-42", resp["jobId"])
	assert.Equal(t, string(model.JobQueued), resp["status"])
}

func TestSubmitSync_QueueFull(t *testing.T) {
	router := newTestRouter(new(MockQuerier), &fakeJobService{submitErr: jobs.ErrQueueFull}, nil)

	rr := doJSON(t, router, http.MethodPost, "/sync", map[string]any{
		"studentId":   7,
		"lmsUsername": "student01",
		"lmsPassword": "secret",
	})

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestSubmitSync_MissingCredentials(t *testing.T) {
	router := newTestRouter(new(MockQuerier), &fakeJobService{jobID: "job-42"}, nil)

	rr := doJSON(t, router, http.MethodPost, "/sync", map[string]any{"studentId": 7})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetJob_Found(t *testing.T) {
	imported := 5
	svc := &fakeJobService{job: model.SyncJob{
		JobID: "job-42", StudentID: 7, Status: model.JobCompleted, Imported: &imported,
	}}
	router := newTestRouter(new(MockQuerier), svc, nil)

	rr := doJSON(t, router, http.MethodGet, "/jobs/job-42", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp model.SyncJob
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, model.JobCompleted, resp.Status)
	require.NotNil(t, resp.Imported)
	assert.Equal(t, 5, *resp.Imported)
}

func TestGetJob_NotFound(t *testing.T) {
	router := newTestRouter(new(MockQuerier), &fakeJobService{statusErr: pgx.ErrNoRows}, nil)

	rr := doJSON(t, router, http.MethodGet, "/jobs/nope", nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSubmitCrawl_ExistingStudent(t *testing.T) {
	mockDB := new(MockQuerier)
	mockDB.On("GetStudentByID", mock.Anything, int64(7)).
		Return(model.Student{ID: 7, Email: "kim@example.com"}, nil).Once()
	mockDB.On("CreateSyncLog", mock.Anything, "client:7:windows", "success", "imported=2").Return(nil).Once()

	imp := &fakeImporter{imported: 2}
	router := newTestRouter(mockDB, &fakeJobService{}, imp)

	rr := doJSON(t, router, http.MethodPost, "/crawl/submit/7", map[string]any{
		"clientVersion":  "1.4.2",
		"clientPlatform": "windows",
		"items": []map[string]any{
			{"type": "assignment", "courseName": "자료구조", "title": "HW1", "due": "2025-03-20 23:59"},
			{"type": "class", "courseName": "자료구조", "title": "3주차 강의"},
		},
	})

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Success  bool `json:"success"`
		Imported int  `json:"imported"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Imported)

	assert.Equal(t, int64(7), imp.gotID)
	require.Len(t, imp.gotItems, 2)
	assert.Equal(t, model.KindAssignment, imp.gotItems[0].Kind)
	assert.Equal(t, model.KindLecture, imp.gotItems[1].Kind, `payload type "class" maps to a lecture`)
	require.NotNil(t, imp.gotMeta.ClientVersion)
	assert.Equal(t, "1.4.2", *imp.gotMeta.ClientVersion)
	mockDB.AssertExpectations(t)
}

func TestSubmitCrawl_CreatesPlaceholderStudent(t *testing.T) {
	mockDB := new(MockQuerier)
	mockDB.On("GetStudentByID", mock.Anything, int64(99)).
		Return(model.Student{}, pgx.ErrNoRows).Once()
	mockDB.On("GetStudentByEmail", mock.Anything, "client-99@local").
		Return(model.Student{}, pgx.ErrNoRows).Once()
	mockDB.On("CreateStudent", mock.Anything, database.CreateStudentParams{
		Email: "client-99@local", Name: "Client 99", PasswordHash: "NOT_USED",
	}).Return(model.Student{ID: 12, Email: "client-99@local"}, nil).Once()
	mockDB.On("CreateSyncLog", mock.Anything, mock.Anything, "success", mock.Anything).Return(nil).Once()

	imp := &fakeImporter{imported: 1}
	router := newTestRouter(mockDB, &fakeJobService{}, imp)

	rr := doJSON(t, router, http.MethodPost, "/crawl/submit/99", map[string]any{
		"items": []map[string]any{
			{"type": "assignment", "courseName": "C", "title": "HW1"},
		},
	})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(12), imp.gotID, "import must target the created identity")
	mockDB.AssertExpectations(t)
}

func TestSubmitCrawl_ImportFailure(t *testing.T) {
	mockDB := new(MockQuerier)
	mockDB.On("GetStudentByID", mock.Anything, int64(7)).
		Return(model.Student{ID: 7}, nil).Once()
	mockDB.On("CreateSyncLog", mock.Anything, mock.Anything, "error", mock.Anything).Return(nil).Once()

	imp := &fakeImporter{err: errors.New("storage unavailable")}
	router := newTestRouter(mockDB, &fakeJobService{}, imp)

	rr := doJSON(t, router, http.MethodPost, "/crawl/submit/7", map[string]any{
		"items": []map[string]any{{"type": "assignment", "courseName": "C", "title": "HW1"}},
	})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var resp struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	mockDB.AssertExpectations(t)
}

func TestSubmitCrawl_MissingItems(t *testing.T) {
	router := newTestRouter(new(MockQuerier), &fakeJobService{}, nil)

	rr := doJSON(t, router, http.MethodPost, "/crawl/submit/7", map[string]any{
		"clientVersion": "1.4.2",
	})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitCrawl_BadStudentID(t *testing.T) {
	router := newTestRouter(new(MockQuerier), &fakeJobService{}, nil)

	rr := doJSON(t, router, http.MethodPost, "/crawl/submit/abc", map[string]any{
		"items": []map[string]any{{"type": "assignment", "courseName": "C", "title": "HW1"}},
	})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetSchedules_SplitsByKind(t *testing.T) {
	due := time.Date(2025, 3, 20, 14, 59, 0, 0, time.UTC)
	url1 := "https://learn.example.ac.kr/mod/assign/view.php?id=1"
	mockDB := new(MockQuerier)
	mockDB.On("GetItemsByStudent", mock.Anything, int64(7)).Return([]model.Item{
		{ID: "a1", StudentID: 7, Kind: model.KindAssignment, CourseName: "자료구조", Title: "HW1", URL: &url1, DueAt: &due},
		{ID: "l1", StudentID: 7, Kind: model.KindLecture, CourseName: "자료구조", Title: "3주차 강의"},
	}, nil).Once()

	router := newTestRouter(mockDB, &fakeJobService{}, nil)
	rr := doJSON(t, router, http.MethodGet, "/schedules?studentId=7", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Assignments []itemView     `json:"assignments"`
		Lectures    []itemView     `json:"lectures"`
		Counts      map[string]int `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	require.Len(t, resp.Assignments, 1)
	require.Len(t, resp.Lectures, 1)
	assert.Equal(t, 1, resp.Counts["assignments"])
	assert.Equal(t, 1, resp.Counts["lectures"])

	// 14:59 UTC renders as 23:59 in the institutional zone.
	require.NotNil(t, resp.Assignments[0].DueAt)
	assert.Equal(t, due.In(normalize.Zone).Format(time.RFC3339), *resp.Assignments[0].DueAt)
	assert.Nil(t, resp.Lectures[0].DueAt)
}

func TestGetSchedules_InvalidStudentID(t *testing.T) {
	router := newTestRouter(new(MockQuerier), &fakeJobService{}, nil)

	for _, path := range []string{"/schedules", "/schedules?studentId=abc", "/schedules?studentId=-1"} {
		rr := doJSON(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
}

func TestGetSyncLogs(t *testing.T) {
	mockDB := new(MockQuerier)
	mockDB.On("ListSyncLogs", mock.Anything, int32(100)).Return([]model.SyncLog{
		{ID: 2, Source: "scraper:7", Status: "success", Message: "imported=4"},
		{ID: 1, Source: "client:7:windows", Status: "error", Message: "storage unavailable"},
	}, nil).Once()

	router := newTestRouter(mockDB, &fakeJobService{}, nil)
	rr := doJSON(t, router, http.MethodGet, "/sync-logs", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Count int             `json:"count"`
		Logs  []model.SyncLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Logs, 2)
}

func TestCompleteItem(t *testing.T) {
	mockDB := new(MockQuerier)
	mockDB.On("SetItemCompleted", mock.Anything, "abc123", true).Return(int64(1), nil).Once()
	mockDB.On("SetItemCompleted", mock.Anything, "abc123", false).Return(int64(1), nil).Once()

	router := newTestRouter(mockDB, &fakeJobService{}, nil)

	rr := doJSON(t, router, http.MethodPost, "/items/abc123/complete", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/items/abc123/uncomplete", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	mockDB.AssertExpectations(t)
}

func TestCompleteItem_NotFound(t *testing.T) {
	mockDB := new(MockQuerier)
	mockDB.On("SetItemCompleted", mock.Anything, "missing", true).Return(int64(0), nil).Once()

	router := newTestRouter(mockDB, &fakeJobService{}, nil)
	rr := doJSON(t, router, http.MethodPost, "/items/missing/complete", nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
