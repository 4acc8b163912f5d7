package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

const testConfig = `
headless:
  enabled: false
logging:
  development: false
  level: error
audit:
  concurrency: 2
  per_page_timeout_ms: 5000
  overall_deadline_ms: 20000
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auditor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func newSiteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/</loc></url>
  <url><loc>%[1]s/about</loc></url>
</urlset>`, base)
	})
	page := func(title string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, `<!doctype html><html lang="en"><head><title>%s page for the test site</title>
<meta name="description" content="A page used to exercise the audit command end to end in tests.">
</head><body><main><h1>%s</h1><p>Hello.</p></main></body></html>`, title, title)
		}
	}
	mux.HandleFunc("/", page("Home"))
	mux.HandleFunc("/about", page("About"))
	srv := httptest.NewServer(mux)
	base = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func TestRunCommandAuditsSitemap(t *testing.T) {
	srv := newSiteServer(t)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", writeConfig(t), "run", "--sitemap", srv.URL + "/sitemap.xml"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	var got struct {
		AuditID string        `json:"audit_id"`
		Summary audit.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.NotEmpty(t, got.AuditID)
	require.Equal(t, audit.StatusCompleted, got.Summary.Status)
	require.Equal(t, 2, got.Summary.PagesAttempted)
	require.Equal(t, 2, got.Summary.PagesSucceeded)
	require.NotNil(t, got.Summary.OverallScore)
}

func TestRunCommandUnreachableSitemap(t *testing.T) {
	srv := newSiteServer(t)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", writeConfig(t), "run", "--sitemap", srv.URL + "/missing.xml"})
	err := root.ExecuteContext(context.Background())
	require.ErrorIs(t, err, audit.ErrUnreachableSitemap)
	require.Contains(t, out.String(), `"status": "FAILED"`)
}

func TestRunCommandRequiresSitemap(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", writeConfig(t), "run"})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "--sitemap is required")
}

func TestRootFailsOnBadConfig(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "run", "--sitemap", "https://s.test/sitemap.xml"})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "load config")
}

func TestResolveAppWithoutServices(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
