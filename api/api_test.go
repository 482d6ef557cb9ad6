package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xraph/spool"
	"github.com/xraph/spool/api"
	"github.com/xraph/spool/artifact/filesystem"
	"github.com/xraph/spool/engine"
	"github.com/xraph/spool/export"
	"github.com/xraph/spool/job"
	"github.com/xraph/spool/monitor"
	"github.com/xraph/spool/queue"
	"github.com/xraph/spool/store/memory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type source struct{}

func (source) LoadProjectWithWorkflow(_ context.Context, projectID, userID string) (*export.ProjectData, error) {
	return nil, spool.ErrProjectNotFound
}

type renderer struct{}

func (renderer) RenderPDF(context.Context, *export.ProjectData) ([]byte, error) { return nil, nil }

func (renderer) RenderMarkdown(context.Context, *export.ProjectData) (string, error) { return "", nil }

func newServer(t *testing.T, pipeline bool) (*httptest.Server, *engine.Engine) {
	t.Helper()
	opts := []engine.Option{engine.WithLogger(discard)}
	var files *filesystem.Storage
	if pipeline {
		var err error
		files, err = filesystem.New(t.TempDir(), "http://localhost/files")
		if err != nil {
			t.Fatalf("filesystem.New: %v", err)
		}
		opts = append(opts, engine.WithExportPipeline(engine.ExportPipeline{
			Source:    source{},
			Renderer:  renderer{},
			Artifacts: files,
		}))
	}
	eng, err := engine.New(memory.New(), opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	apiOpts := []api.Option{api.WithLogger(discard)}
	if files != nil {
		apiOpts = append(apiOpts, api.WithFiles(files.Handler(eng.Exports(), discard)))
	}
	srv := httptest.NewServer(api.New(eng, apiOpts...).Handler())
	t.Cleanup(srv.Close)
	return srv, eng
}

func do(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, false)
	var h monitor.Health
	if code := do(t, http.MethodGet, srv.URL+"/healthz", nil, &h); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !h.OK {
		t.Errorf("health = %+v", h)
	}
}

func TestQueues(t *testing.T) {
	srv, _ := newServer(t, false)

	var stats []queue.Stats
	if code := do(t, http.MethodGet, srv.URL+"/v1/queues", nil, &stats); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(stats) != len(queue.DefaultConfigs()) {
		t.Errorf("queues = %d, want %d", len(stats), len(queue.DefaultConfigs()))
	}

	if code := do(t, http.MethodPost, srv.URL+"/v1/queues/exports/pause", nil, nil); code != http.StatusNoContent {
		t.Fatalf("pause status = %d", code)
	}
	var one queue.Stats
	do(t, http.MethodGet, srv.URL+"/v1/queues/exports", nil, &one)
	if !one.Paused {
		t.Error("queue not paused")
	}
	if code := do(t, http.MethodPost, srv.URL+"/v1/queues/exports/resume", nil, nil); code != http.StatusNoContent {
		t.Fatalf("resume status = %d", code)
	}

	if code := do(t, http.MethodGet, srv.URL+"/v1/queues/nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown queue status = %d, want 404", code)
	}
}

func TestJobs_EnqueueListGet(t *testing.T) {
	srv, _ := newServer(t, false)
	base := srv.URL + "/v1/queues/ai-processing/jobs"

	var created job.Job
	code := do(t, http.MethodPost, base, api.EnqueueRequest{
		Type:     "summarize",
		Payload:  json.RawMessage(`{"doc":"x"}`),
		Priority: 3,
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("enqueue status = %d", code)
	}
	if created.Status != job.StatusWaiting || created.Priority != 3 {
		t.Errorf("created = %+v", created)
	}

	var delayed job.Job
	do(t, http.MethodPost, base, api.EnqueueRequest{Type: "summarize", Delay: "1h"}, &delayed)
	if delayed.Status != job.StatusDelayed {
		t.Errorf("delayed status = %q", delayed.Status)
	}

	var waiting []*job.Job
	if code := do(t, http.MethodGet, base+"?status=waiting", nil, &waiting); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(waiting) != 1 || waiting[0].ID != created.ID {
		t.Errorf("waiting = %+v", waiting)
	}

	var st monitor.JobStatus
	if code := do(t, http.MethodGet, base+"/"+created.ID.String(), nil, &st); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if st.Type != "summarize" || st.Status != job.StatusWaiting {
		t.Errorf("job status = %+v", st)
	}
}

func TestJobs_BadRequests(t *testing.T) {
	srv, _ := newServer(t, false)
	base := srv.URL + "/v1/queues/ai-processing/jobs"

	tests := []struct {
		name   string
		method string
		url    string
		body   any
		want   int
	}{
		{"missing type", http.MethodPost, base, map[string]any{"payload": 1}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, base, map[string]any{"type": "x", "bogus": 1}, http.StatusBadRequest},
		{"bad delay", http.MethodPost, base, map[string]any{"type": "x", "delay": "soon"}, http.StatusBadRequest},
		{"priority too high", http.MethodPost, base, map[string]any{"type": "x", "priority": 901}, http.StatusBadRequest},
		{"bad status", http.MethodGet, base + "?status=paused", nil, http.StatusBadRequest},
		{"bad job id", http.MethodGet, base + "/not-an-id", nil, http.StatusBadRequest},
		{"unknown queue", http.MethodPost, srv.URL + "/v1/queues/nope/jobs", map[string]any{"type": "x"}, http.StatusNotFound},
		{"clean active", http.MethodPost, srv.URL + "/v1/queues/exports/clean", map[string]any{"status": "active", "grace": "1h"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := do(t, tt.method, tt.url, tt.body, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestJobs_RetryRequiresFailed(t *testing.T) {
	srv, _ := newServer(t, false)
	base := srv.URL + "/v1/queues/ai-processing/jobs"

	var created job.Job
	do(t, http.MethodPost, base, api.EnqueueRequest{Type: "summarize"}, &created)

	code := do(t, http.MethodPost, base+"/"+created.ID.String()+"/retry", nil, nil)
	if code != http.StatusConflict {
		t.Errorf("retry of waiting job = %d, want 409", code)
	}
}

func TestClean(t *testing.T) {
	srv, _ := newServer(t, false)
	var resp api.CleanResponse
	code := do(t, http.MethodPost, srv.URL+"/v1/queues/exports/clean",
		api.CleanRequest{Status: job.StatusCompleted, Grace: "24h"}, &resp)
	if code != http.StatusOK {
		t.Fatalf("clean status = %d", code)
	}
	if resp.Removed != 0 {
		t.Errorf("removed = %d, want 0", resp.Removed)
	}
}

func TestExports(t *testing.T) {
	srv, _ := newServer(t, true)

	var e export.Export
	code := do(t, http.MethodPost, srv.URL+"/v1/exports", export.Request{
		UserID:    "usr_1",
		ProjectID: "prj_1",
		Format:    export.FormatPDF,
	}, &e)
	if code != http.StatusAccepted {
		t.Fatalf("create status = %d", code)
	}
	if e.Status != export.StatusPending || e.JobID.IsNil() {
		t.Errorf("export = %+v", e)
	}

	var got export.Export
	if code := do(t, http.MethodGet, srv.URL+"/v1/exports/"+e.ID.String()+"?user_id=usr_1", nil, &got); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if code := do(t, http.MethodGet, srv.URL+"/v1/exports/"+e.ID.String()+"?user_id=usr_2", nil, nil); code != http.StatusNotFound {
		t.Errorf("other user get = %d, want 404", code)
	}

	var list []*export.Export
	do(t, http.MethodGet, srv.URL+"/v1/exports?user_id=usr_1", nil, &list)
	if len(list) != 1 {
		t.Errorf("list = %d, want 1", len(list))
	}

	bad := map[string]any{"user_id": "usr_1", "project_id": "prj_1", "format": "docx"}
	if code := do(t, http.MethodPost, srv.URL+"/v1/exports", bad, nil); code != http.StatusBadRequest {
		t.Errorf("bad format = %d, want 400", code)
	}
	badEmail := map[string]any{"user_id": "usr_1", "project_id": "prj_1", "format": "pdf", "notify_email": "nope"}
	if code := do(t, http.MethodPost, srv.URL+"/v1/exports", badEmail, nil); code != http.StatusBadRequest {
		t.Errorf("bad email = %d, want 400", code)
	}
}

func TestExports_NotConfigured(t *testing.T) {
	srv, _ := newServer(t, false)
	code := do(t, http.MethodGet, srv.URL+"/v1/exports?user_id=usr_1", nil, nil)
	if code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", code)
	}
}

func TestFiles_UnknownArtifact(t *testing.T) {
	srv, _ := newServer(t, true)
	resp, err := http.Get(srv.URL + "/files/missing-20260101T000000.000-abcdefgh.pdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
