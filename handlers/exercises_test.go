package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	stderrs "github.com/sasta-kro/training-orchestrator/errs"
	"github.com/sasta-kro/training-orchestrator/models"
)

type fakeCatalog struct {
	exercises []*models.Exercise
	progress  map[string]*models.Progress
}

func (f *fakeCatalog) ListExercises() ([]*models.Exercise, error) {
	return f.exercises, nil
}

func (f *fakeCatalog) ListProgressBySubject(subjectID string) (map[string]*models.Progress, error) {
	return f.progress, nil
}

type fakeBuilder struct {
	exercise *models.Exercise
	err      error
}

func (f *fakeBuilder) BuildFromArchive(ctx context.Context, archivePath string) (*models.Exercise, error) {
	return f.exercise, f.err
}

type fakeLauncher struct {
	record *models.ContainerRecord
	err    error
}

func (f *fakeLauncher) Launch(ctx context.Context, subjectID, exerciseID string) (*models.ContainerRecord, error) {
	return f.record, f.err
}

func newMultipartUpload(t *testing.T, fieldName, fileName, content string) (*http.Request, error) {
	t.Helper()
	body := &strings.Builder{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	request := httptest.NewRequest(http.MethodPost, "/api/exercises/upload", strings.NewReader(body.String()))
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request, nil
}

func TestUpload_MissingFieldReturns400(t *testing.T) {
	handler := NewExercisesHandler(&fakeCatalog{}, &fakeBuilder{}, &fakeLauncher{}, t.TempDir(), 1<<20, "training.localhost", discardLogger())

	request := httptest.NewRequest(http.MethodPost, "/api/exercises/upload", strings.NewReader(""))
	request.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	recorder := httptest.NewRecorder()

	handler.Upload(recorder, request)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestUpload_Success(t *testing.T) {
	built := &models.Exercise{Name: "intro-sql", Version: "1.0.0", ImageTag: "training/intro-sql:1.0.0"}
	handler := NewExercisesHandler(&fakeCatalog{}, &fakeBuilder{exercise: built}, &fakeLauncher{}, t.TempDir(), 1<<20, "training.localhost", discardLogger())

	request, err := newMultipartUpload(t, "exercise", "bundle.zip", "fake archive bytes")
	require.NoError(t, err)
	recorder := httptest.NewRecorder()

	handler.Upload(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "intro-sql")
}

func TestUpload_BuilderErrorMapsToDomainStatus(t *testing.T) {
	handler := NewExercisesHandler(&fakeCatalog{}, &fakeBuilder{err: stderrs.ErrInvalidBundle}, &fakeLauncher{}, t.TempDir(), 1<<20, "training.localhost", discardLogger())

	request, err := newMultipartUpload(t, "exercise", "bundle.zip", "fake archive bytes")
	require.NoError(t, err)
	recorder := httptest.NewRecorder()

	handler.Upload(recorder, request)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestList_RequiresAuthenticatedSubject(t *testing.T) {
	handler := NewExercisesHandler(&fakeCatalog{}, &fakeBuilder{}, &fakeLauncher{}, t.TempDir(), 1<<20, "training.localhost", discardLogger())

	request := httptest.NewRequest(http.MethodGet, "/api/exercises", nil)
	recorder := httptest.NewRecorder()

	handler.List(recorder, request)

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestList_EnrichesWithProgress(t *testing.T) {
	catalog := &fakeCatalog{
		exercises: []*models.Exercise{{ID: "ex1", Name: "intro-sql"}, {ID: "ex2", Name: "intro-go"}},
		progress: map[string]*models.Progress{
			"ex1": {ExerciseID: "ex1", Status: models.ProgressCompleted, Attempts: 2},
		},
	}
	handler := NewExercisesHandler(catalog, &fakeBuilder{}, &fakeLauncher{}, t.TempDir(), 1<<20, "training.localhost", discardLogger())

	request := httptest.NewRequest(http.MethodGet, "/api/exercises", nil)
	request = request.WithContext(WithSubject(request.Context(), Subject{ID: "u1"}))
	recorder := httptest.NewRecorder()

	handler.List(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	body := recorder.Body.String()
	require.Contains(t, body, `"status":"completed"`)
	require.Contains(t, body, `"attempts":2`)
}

func TestLaunch_RequiresAuthenticatedSubject(t *testing.T) {
	handler := NewExercisesHandler(&fakeCatalog{}, &fakeBuilder{}, &fakeLauncher{}, t.TempDir(), 1<<20, "training.localhost", discardLogger())

	request := httptest.NewRequest(http.MethodPost, "/api/exercises/launch/ex1", nil)
	recorder := httptest.NewRecorder()

	handler.Launch(recorder, request)

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestLaunch_Success(t *testing.T) {
	record := &models.ContainerRecord{ID: "c1", Subdomain: "11111111-1111-4111-8111-111111111111"}
	handler := NewExercisesHandler(&fakeCatalog{}, &fakeBuilder{}, &fakeLauncher{record: record}, t.TempDir(), 1<<20, "training.localhost", discardLogger())

	request := newRequestWithURLParam(t, http.MethodPost, "/api/exercises/launch/ex1", "exerciseId", "ex1")
	request = request.WithContext(WithSubject(request.Context(), Subject{ID: "u1"}))
	recorder := httptest.NewRecorder()

	handler.Launch(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "11111111-1111-4111-8111-111111111111.training.localhost")
}

func TestLaunch_AlreadyRunningEchoesSubdomain(t *testing.T) {
	launchErr := &stderrs.AlreadyRunningError{Subdomain: "22222222-2222-4222-8222-222222222222"}
	handler := NewExercisesHandler(&fakeCatalog{}, &fakeBuilder{}, &fakeLauncher{err: launchErr}, t.TempDir(), 1<<20, "training.localhost", discardLogger())

	request := newRequestWithURLParam(t, http.MethodPost, "/api/exercises/launch/ex1", "exerciseId", "ex1")
	request = request.WithContext(WithSubject(request.Context(), Subject{ID: "u1"}))
	recorder := httptest.NewRecorder()

	handler.Launch(recorder, request)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "22222222-2222-4222-8222-222222222222")
	require.True(t, errors.Is(launchErr, stderrs.ErrAlreadyRunning))
}

func TestLaunch_QuotaExceededMapsTo400(t *testing.T) {
	handler := NewExercisesHandler(&fakeCatalog{}, &fakeBuilder{}, &fakeLauncher{err: stderrs.ErrQuotaExceeded}, t.TempDir(), 1<<20, "training.localhost", discardLogger())

	request := newRequestWithURLParam(t, http.MethodPost, "/api/exercises/launch/ex1", "exerciseId", "ex1")
	request = request.WithContext(WithSubject(request.Context(), Subject{ID: "u1"}))
	recorder := httptest.NewRecorder()

	handler.Launch(recorder, request)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "QuotaExceeded")
}

// newRequestWithURLParam builds a request whose chi.URLParam(key) resolves
// to value, without going through a real chi router.
func newRequestWithURLParam(t *testing.T, method, target, key, value string) *http.Request {
	t.Helper()
	request := httptest.NewRequest(method, target, nil)
	routeContext := chi.NewRouteContext()
	routeContext.URLParams.Add(key, value)
	return request.WithContext(context.WithValue(request.Context(), chi.RouteCtxKey, routeContext))
}
