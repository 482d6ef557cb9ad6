package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xraph/spool"
	"github.com/xraph/spool/export"
	"github.com/xraph/spool/export/remote"
	"github.com/xraph/spool/job"
)

func projectServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/projects/prj_1":
			_ = json.NewEncoder(w).Encode(export.ProjectData{
				ID:       "prj_1",
				UserID:   "usr_1",
				Name:     "Launch Plan",
				Workflow: map[string]any{"nodes": []any{"a"}},
			})
		case "/projects/prj_busy":
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDataSource_Load(t *testing.T) {
	srv := projectServer(t)
	ds := remote.NewDataSource(srv.URL+"/", remote.WithToken("secret"))

	p, err := ds.LoadProjectWithWorkflow(context.Background(), "prj_1", "usr_1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "Launch Plan" || len(p.Workflow) == 0 {
		t.Errorf("project = %+v", p)
	}
}

func TestDataSource_Errors(t *testing.T) {
	srv := projectServer(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		token     string
		project   string
		user      string
		notFound  bool
		permanent bool
	}{
		{"missing project", "secret", "prj_x", "usr_1", true, true},
		{"other owner", "secret", "prj_1", "usr_2", true, true},
		{"unauthorized", "wrong", "prj_1", "usr_1", false, true},
		{"server busy", "secret", "prj_busy", "usr_1", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := remote.NewDataSource(srv.URL, remote.WithToken(tt.token))
			_, err := ds.LoadProjectWithWorkflow(ctx, tt.project, tt.user)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, spool.ErrProjectNotFound); got != tt.notFound {
				t.Errorf("ErrProjectNotFound = %v, want %v (%v)", got, tt.notFound, err)
			}
			if got := job.IsPermanent(err); got != tt.permanent {
				t.Errorf("permanent = %v, want %v (%v)", got, tt.permanent, err)
			}
		})
	}
}

func TestRenderer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		var p export.ProjectData
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/render/pdf":
			_, _ = w.Write([]byte("%PDF " + p.Name))
		case "/render/markdown":
			_, _ = w.Write([]byte("# " + p.Name))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := remote.NewRenderer(srv.URL)
	p := &export.ProjectData{ID: "prj_1", Name: "Plan"}
	ctx := context.Background()

	pdf, err := r.RenderPDF(ctx, p)
	if err != nil {
		t.Fatalf("RenderPDF: %v", err)
	}
	if string(pdf) != "%PDF Plan" {
		t.Errorf("pdf = %q", pdf)
	}
	md, err := r.RenderMarkdown(ctx, p)
	if err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	if md != "# Plan" {
		t.Errorf("markdown = %q", md)
	}
}

func TestRenderer_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := remote.NewRenderer(srv.URL).RenderPDF(context.Background(), &export.ProjectData{})
	var serr *remote.StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusBadGateway {
		t.Fatalf("error = %v, want StatusError 502", err)
	}
	if job.IsPermanent(err) {
		t.Error("5xx must stay retryable")
	}
}
