package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openshelf/catalogd/internal/catalog"
)

type fakeJobReader struct {
	jobs    map[string]catalog.IngestionJob
	sources map[string]catalog.Source
}

func (f *fakeJobReader) GetJob(_ context.Context, jobID string) (catalog.IngestionJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return catalog.IngestionJob{}, catalog.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobReader) GetSource(_ context.Context, sourceID string) (catalog.Source, error) {
	source, ok := f.sources[sourceID]
	if !ok {
		return catalog.Source{}, catalog.ErrNotFound
	}
	return source, nil
}

type fakeTrigger struct {
	job     catalog.IngestionJob
	created bool
	err     error
	calls   []string
}

func (f *fakeTrigger) CreateJobForSource(_ context.Context, sourceID string) (catalog.IngestionJob, bool, error) {
	f.calls = append(f.calls, sourceID)
	return f.job, f.created, f.err
}

func newTestServer(reader *fakeJobReader, trigger *fakeTrigger) *httptest.Server {
	if reader.sources == nil {
		reader.sources = map[string]catalog.Source{}
	}
	if reader.jobs == nil {
		reader.jobs = map[string]catalog.IngestionJob{}
	}
	srv := NewServer(reader, trigger, zap.NewNop())
	return httptest.NewServer(srv.Handler())
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthzReturnsOK(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeJobReader{}, &fakeTrigger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	body := decodeBody(t, resp)
	require.Equal(t, "ok", body["status"])
}

func TestTriggerJobAccepted(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{
		job: catalog.IngestionJob{
			ID:        "job-1",
			SourceID:  "src-1",
			Status:    catalog.JobStatusPending,
			CreatedAt: time.Unix(1700000000, 0).UTC(),
		},
		created: true,
	}
	reader := &fakeJobReader{sources: map[string]catalog.Source{
		"src-1": {ID: "src-1", Name: "Project Gutenberg", Enabled: true},
	}}
	srv := newTestServer(reader, trigger)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/sources/src-1/jobs", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	job := body["job"].(map[string]any)
	require.Equal(t, "job-1", job["id"])
	require.Equal(t, "pending", job["status"])
	require.Equal(t, []string{"src-1"}, trigger.calls)
}

func TestTriggerJobConflictWhenActive(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{created: false}
	reader := &fakeJobReader{sources: map[string]catalog.Source{
		"src-1": {ID: "src-1"},
	}}
	srv := newTestServer(reader, trigger)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/sources/src-1/jobs", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestTriggerJobUnknownSource(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{created: true}
	srv := newTestServer(&fakeJobReader{}, trigger)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/sources/missing/jobs", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
	require.Empty(t, trigger.calls, "no job should be created for an unknown source")
}

func TestTriggerJobServiceError(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{err: errors.New("db down")}
	reader := &fakeJobReader{sources: map[string]catalog.Source{"src-1": {ID: "src-1"}}}
	srv := newTestServer(reader, trigger)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/sources/src-1/jobs", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	resp.Body.Close()
}

func TestGetJobReturnsJob(t *testing.T) {
	t.Parallel()

	started := time.Unix(1700000100, 0).UTC()
	reader := &fakeJobReader{jobs: map[string]catalog.IngestionJob{
		"job-1": {
			ID:           "job-1",
			SourceID:     "src-1",
			Status:       catalog.JobStatusFailed,
			StartedAt:    &started,
			ErrorMessage: "source has no connector_type",
		},
	}}
	srv := newTestServer(reader, &fakeTrigger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/jobs/job-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	job := body["job"].(map[string]any)
	require.Equal(t, "failed", job["status"])
	require.Equal(t, "source has no connector_type", job["error_message"])
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeJobReader{}, &fakeTrigger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/jobs/missing")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
