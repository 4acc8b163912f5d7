package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/clock"
	"github.com/JakeFAU/site-auditor/internal/config"
	storagememory "github.com/JakeFAU/site-auditor/internal/storage/memory"
)

const testAuditID = "01890a5d-ac96-774b-bcce-b302099a8057"

type testEnv struct {
	store     *storagememory.AuditStore
	submitter *fakeSubmitter
	server    *Server
}

func newTestEnv(t *testing.T, cfg config.Config, ready ...ReadyCheck) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     storagememory.NewAuditStore(nil),
		submitter: &fakeSubmitter{},
	}
	env.server = NewServer(
		env.store,
		env.submitter,
		&fakeIDGen{ids: []string{testAuditID}},
		clock.NewFixed(time.Unix(100, 0).UTC()),
		cfg,
		zap.NewNop(),
		ready...,
	)
	return env
}

func (e *testEnv) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitAuditAccepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	body := []byte(`{"sitemap_url":"https://shop.test/sitemap.xml","client_name":" Acme ","client_email":"ops@acme.test"}`)
	rec := env.do(http.MethodPost, "/v1/audits", body, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, testAuditID, resp.AuditID)
	require.Equal(t, audit.StatusPending, resp.Status)

	job, err := env.store.GetJob(context.Background(), testAuditID)
	require.NoError(t, err)
	require.Equal(t, audit.StatusPending, job.Status)
	require.Equal(t, "Acme", job.ClientName)

	runs := env.submitter.requests()
	require.Len(t, runs, 1)
	require.Equal(t, testAuditID, runs[0].JobID)
	require.Equal(t, "https://shop.test/sitemap.xml", runs[0].SitemapURL)
	require.Equal(t, "ops@acme.test", runs[0].Metadata.ClientEmail)
}

func TestSubmitAuditValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{bad`, "invalid JSON"},
		{"missing", `{}`, "sitemap_url is required"},
		{"not xml", `{"sitemap_url":"https://shop.test/sitemap.txt"}`, ".xml"},
		{"relative", `{"sitemap_url":"/sitemap.xml"}`, "http or https"},
		{"ftp", `{"sitemap_url":"ftp://shop.test/sitemap.xml"}`, "http or https"},
		{"no host", `{"sitemap_url":"https:///sitemap.xml"}`, "absolute"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, config.Config{})
			rec := env.do(http.MethodPost, "/v1/audits", []byte(tc.body), nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
			require.Empty(t, env.submitter.requests())
		})
	}
}

func TestSubmitAuditRunnerUnavailable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.submitter.err = audit.ErrQueueClosed

	rec := env.do(http.MethodPost, "/v1/audits", []byte(`{"sitemap_url":"https://shop.test/sitemap.xml"}`), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "audit runner is unavailable")

	_, err := env.store.GetJob(context.Background(), testAuditID)
	require.NoError(t, err)
}

func TestGetAudit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	ctx := context.Background()
	require.NoError(t, env.store.CreateJob(ctx, audit.Job{ID: testAuditID, SitemapURL: "https://shop.test/sitemap.xml"}))
	require.NoError(t, env.store.UpdateStatus(ctx, testAuditID, audit.StatusInProgress, "", nil))
	score := 82.5
	require.NoError(t, env.store.UpdateStatus(ctx, testAuditID, audit.StatusCompleted, "", &audit.Summary{
		Status:       audit.StatusCompleted,
		OverallScore: &score,
	}))

	rec := env.do(http.MethodGet, "/v1/audits/"+testAuditID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var job audit.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, audit.StatusCompleted, job.Status)
	require.Equal(t, 82.5, *job.OverallScore)
	require.NotNil(t, job.Summary)
}

func TestGetAuditErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/v1/audits/not-a-uuid", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/v1/audits/"+testAuditID, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})
	path := "/v1/audits/" + testAuditID

	rec := env.do(http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, path, nil, map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, path+"?api_key=secret", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	down := newTestEnv(t, config.Config{}, func(context.Context) error { return errors.New("db down") })
	rec = down.do(http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	_ = env.do(http.MethodGet, "/healthz", nil, nil)
	rec := env.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/healthz", nil, nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(http.MethodGet, "/healthz", nil, map[string]string{"X-Request-ID": "req-1"})
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

type fakeSubmitter struct {
	mu   sync.Mutex
	runs []audit.RunRequest
	err  error
}

func (s *fakeSubmitter) Submit(_ context.Context, req audit.RunRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.runs = append(s.runs, req)
	return nil
}

func (s *fakeSubmitter) requests() []audit.RunRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.RunRequest(nil), s.runs...)
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
	idx int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.ids) {
		return "", errors.New("no ids left")
	}
	id := f.ids[f.idx]
	f.idx++
	return id, nil
}
