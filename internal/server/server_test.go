package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourorg/capgen/internal/artifact"
	"github.com/yourorg/capgen/internal/checker"
	"github.com/yourorg/capgen/internal/config"
	"github.com/yourorg/capgen/internal/metrics"
	"github.com/yourorg/capgen/internal/pipeline"
	"github.com/yourorg/capgen/internal/store"
	"github.com/yourorg/capgen/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore, *config.Config) {
	t.Helper()

	tmpDir := t.TempDir()
	cfg := config.Default()
	cfg.Data.OutputDir = filepath.Join(tmpDir, "output")

	st, err := store.NewSQLiteStore(filepath.Join(tmpDir, "capgen.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	m := metrics.New()
	m.Tool("extract", "done")
	srv, err := New(cfg, st, m, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, st, cfg
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv, "/health")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRuns(t *testing.T) {
	srv, st, _ := newTestServer(t)

	rec := get(t, srv, "/api/runs")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty runs = %d %s", rec.Code, rec.Body.String())
	}

	for _, stage := range []string{"extract", "generate"} {
		if err := st.MarkRun(&types.Run{ToolKey: "Travel/hotels.json", Stage: stage, Status: types.RunDone, Methods: 2}); err != nil {
			t.Fatal(err)
		}
	}
	rec = get(t, srv, "/api/runs?stage=generate")
	var runs []types.Run
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].Stage != "generate" {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestReport(t *testing.T) {
	srv, _, cfg := newTestServer(t)

	if rec := get(t, srv, "/api/report"); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing key status = %d", rec.Code)
	}
	if rec := get(t, srv, "/api/report?key=Travel/none.json"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown key status = %d", rec.Code)
	}

	dir := artifact.Dir{Root: cfg.Data.OutputDir}
	rep := pipeline.ToolReport{Key: "Travel/hotels.json", Tool: "Hotels", Violations: checker.Report{Value: 2, Utterances: 5}}
	if err := dir.WriteValue(artifact.Reports, rep.Key, rep); err != nil {
		t.Fatal(err)
	}

	rec := get(t, srv, "/api/report?key=Travel/hotels.json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	var got pipeline.ToolReport
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Violations.Value != 2 || got.Tool != "Hotels" {
		t.Fatalf("report = %+v", got)
	}

	md := get(t, srv, "/api/report.md")
	if md.Code != http.StatusOK || !strings.Contains(md.Body.String(), "| Travel/hotels.json | 5 | 2 |") {
		t.Fatalf("markdown = %d %s", md.Code, md.Body.String())
	}

	raw := get(t, srv, "/artifacts/reports/Travel/hotels.json")
	body, _ := io.ReadAll(raw.Body)
	if raw.Code != http.StatusOK || !strings.Contains(string(body), `"Hotels"`) {
		t.Fatalf("artifact = %d %s", raw.Code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "capgen_tools_total") {
		t.Fatalf("metrics = %d %s", rec.Code, rec.Body.String())
	}
}
