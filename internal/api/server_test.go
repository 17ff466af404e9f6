package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/serial-archiver/internal/config"
	idgen "github.com/JakeFAU/serial-archiver/internal/id/uuid"
	"github.com/JakeFAU/serial-archiver/internal/jobs"
	"github.com/JakeFAU/serial-archiver/internal/novel"
	queuememory "github.com/JakeFAU/serial-archiver/internal/queue/memory"
	"github.com/JakeFAU/serial-archiver/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type testEnv struct {
	server *Server
	store  *memory.JobStore
	queue  *queuememory.Queue
}

func newTestEnv(t *testing.T, auth config.AuthConfig, ready ReadyFunc) testEnv {
	t.Helper()
	store := memory.NewJobStore()
	q := queuememory.NewQueue(4)
	svc := jobs.NewService(store, q, idgen.New(), fakeClock{now: time.Unix(100, 0).UTC()}, zap.NewNop())
	return testEnv{
		server: NewServer(svc, ready, auth, zap.NewNop()),
		store:  store,
		queue:  q,
	}
}

func (e testEnv) do(t *testing.T, method, path string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func submit(t *testing.T, env testEnv, body string) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/v1/jobs", bytes.NewBufferString(body))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, idgen.Valid(resp["job_id"]))
	return resp["job_id"]
}

func TestServerSubmitJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	jobID := submit(t, env, `{"user_id":"reader","platform":"novelpia","work_id":"1234","format":"txt"}`)

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, jobID, item.JobID)

	again := submit(t, env, `{"user_id":"reader","platform":"novelpia","work_id":"1234","format":"txt"}`)
	require.Equal(t, jobID, again)
}

func TestServerSubmitJobDefaultsToEPUB(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	jobID := submit(t, env, `{"user_id":"reader","platform":"munpia","work_id":"abc12"}`)

	job, err := env.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, novel.FormatEPUB, job.Format)
}

func TestServerSubmitJobRejectsBadInput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	cases := map[string]string{
		"invalid json":     `{invalid`,
		"unknown platform": `{"user_id":"u","platform":"kakao","work_id":"1"}`,
		"unknown format":   `{"user_id":"u","platform":"novelpia","work_id":"1","format":"pdf"}`,
		"bad work id":      `{"user_id":"u","platform":"novelpia","work_id":"../1"}`,
		"missing user":     `{"platform":"novelpia","work_id":"1"}`,
	}
	for name, body := range cases {
		rec := env.do(t, http.MethodPost, "/v1/jobs", bytes.NewBufferString(body))
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestServerJobStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	jobID := submit(t, env, `{"user_id":"reader","platform":"novelpia","work_id":"77"}`)

	rec := env.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job novel.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, jobID, job.ID)
	require.Equal(t, novel.JobStatusPending, job.Status)

	missing, err := idgen.New().NewID()
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/v1/jobs/"+missing, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/jobs/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerArtifactLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	jobID := submit(t, env, `{"user_id":"reader","platform":"novelpia","work_id":"55","format":"txt"}`)

	rec := env.do(t, http.MethodGet, "/v1/jobs/"+jobID+"/artifact", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/jobs/"+jobID+"/download", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	path := filepath.Join(t.TempDir(), "sample-work.txt")
	require.NoError(t, os.WriteFile(path, []byte("chapter one"), 0o600))
	require.NoError(t, env.store.CompleteJob(context.Background(), jobID, novel.Artifact{
		Path:      path,
		SizeBytes: 11,
		SinkURI:   "file:///exports/sample-work.txt",
		SHA256:    "digest",
	}, time.Now()))

	rec = env.do(t, http.MethodGet, "/v1/jobs/"+jobID+"/artifact", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp artifactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, path, resp.Path)
	require.EqualValues(t, 11, resp.SizeBytes)
	require.Equal(t, "digest", resp.SHA256)

	rec = env.do(t, http.MethodGet, "/v1/jobs/"+jobID+"/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "chapter one", rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Disposition"), "sample-work.txt")

	require.NoError(t, os.Remove(path))
	rec = env.do(t, http.MethodGet, "/v1/jobs/"+jobID+"/download", nil)
	require.Equal(t, http.StatusGone, rec.Code)
}

func TestServerAPIKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{Enabled: true, APIKey: "secret"}, nil)
	body := `{"user_id":"reader","platform":"novelpia","work_id":"1"}`

	rec := env.do(t, http.MethodPost, "/v1/jobs", bytes.NewBufferString(body))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/jobs", bytes.NewBufferString(body), "X-API-Key", "secret")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerProbes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, nil)
	rec := env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	down := newTestEnv(t, config.AuthConfig{}, func(context.Context) error { return errors.New("db down") })
	rec = down.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerRecoversFromPanics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{}, func(context.Context) error { panic("boom") })
	rec := env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
