package export_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/export"
	"github.com/xraph/spool/job"
	"github.com/xraph/spool/notify"
)

func decodeEmail(t *testing.T, j *job.Job) notify.Payload {
	t.Helper()
	var p notify.Payload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		t.Fatalf("decode email payload: %v", err)
	}
	return p
}

func TestProcessor_CompletesFirstTry(t *testing.T) {
	p := newPipeline(t)
	e := p.request(t, "prj_1", export.FormatPDF)

	if e.Status != export.StatusPending || e.JobID.IsNil() {
		t.Fatalf("requested export = %+v, want pending with a job", e)
	}

	j := p.runNext(t)

	got := p.export(t, e)
	if got.Status != export.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.FileURL == "" || got.Filename == "" || got.FileSizeBytes == 0 {
		t.Fatalf("artifact fields not set: %+v", got)
	}
	if !strings.HasPrefix(got.Filename, "launch-plan-q3-2026-") || !strings.HasSuffix(got.Filename, ".pdf") {
		t.Errorf("filename = %q", got.Filename)
	}
	if got.CompletedAt == nil || got.ExpiresAt == nil {
		t.Fatal("completion timestamps not set")
	}
	if want := got.CompletedAt.Add(7 * 24 * time.Hour); !got.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", got.ExpiresAt, want)
	}
	if _, ok := p.storage.files[got.Filename]; !ok {
		t.Error("artifact not saved")
	}

	done, _ := p.store.GetJob(context.Background(), j.ID)
	if done.Status != job.StatusCompleted || done.Progress != 100 {
		t.Errorf("job = %s/%d, want completed/100", done.Status, done.Progress)
	}

	emails := p.emails(t)
	if len(emails) != 1 {
		t.Fatalf("expected 1 email job, got %d", len(emails))
	}
	if emails[0].Type != notify.JobType || emails[0].Priority != notify.DefaultCompletedPolicy.Priority {
		t.Errorf("email job = %s priority %d", emails[0].Type, emails[0].Priority)
	}
	msg := decodeEmail(t, emails[0])
	if msg.Template != notify.TemplateExportCompleted || msg.To != "ada@example.com" {
		t.Errorf("email = %+v", msg)
	}
	if msg.DownloadURL != got.FileURL || msg.ExpiresAt == nil || !msg.ExpiresAt.Equal(*got.ExpiresAt) {
		t.Errorf("email link/expiry = %q %v", msg.DownloadURL, msg.ExpiresAt)
	}
	if msg.ProjectName != "Launch Plan: Q3 / 2026" {
		t.Errorf("project name = %q", msg.ProjectName)
	}
}

func TestProcessor_MarkdownFormat(t *testing.T) {
	p := newPipeline(t)
	e := p.request(t, "prj_1", export.FormatMarkdown)
	p.runNext(t)

	got := p.export(t, e)
	if got.Status != export.StatusCompleted || !strings.HasSuffix(got.Filename, ".md") {
		t.Fatalf("export = %s %q", got.Status, got.Filename)
	}
	if string(p.storage.files[got.Filename]) != "# Launch Plan: Q3 / 2026\n" {
		t.Errorf("content = %q", p.storage.files[got.Filename])
	}
}

func TestProcessor_RetriesThenFailsOnce(t *testing.T) {
	p := newPipeline(t)
	p.renderer.fails = -1
	e := p.request(t, "prj_1", export.FormatPDF)

	var last *job.Job
	for attempt := 1; attempt <= 3; attempt++ {
		last = p.runNext(t)

		got := p.export(t, e)
		if attempt < 3 {
			// Intermediate failures leave the record processing and silent.
			if got.Status != export.StatusProcessing {
				t.Fatalf("attempt %d: status = %q, want processing", attempt, got.Status)
			}
			if n := len(p.emails(t)); n != 0 {
				t.Fatalf("attempt %d: %d emails enqueued before terminal failure", attempt, n)
			}
			p.clock.Advance(base << (attempt - 1))
		}
	}

	final, _ := p.store.GetJob(context.Background(), last.ID)
	if final.Status != job.StatusFailed || final.AttemptsMade != 3 {
		t.Fatalf("job = %s after %d attempts, want failed after 3", final.Status, final.AttemptsMade)
	}

	got := p.export(t, e)
	if got.Status != export.StatusFailed {
		t.Fatalf("export status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "renderer unavailable") {
		t.Errorf("errorMessage = %q", got.ErrorMessage)
	}
	if got.FileURL != "" || got.Filename != "" {
		t.Error("failed export must not carry artifact fields")
	}

	emails := p.emails(t)
	if len(emails) != 1 {
		t.Fatalf("expected 1 email job, got %d", len(emails))
	}
	if emails[0].Priority >= notify.DefaultCompletedPolicy.Priority {
		t.Errorf("failure email priority %d is not served before completed emails", emails[0].Priority)
	}
	if emails[0].MaxAttempts != 5 {
		t.Errorf("failure email maxAttempts = %d, want 5", emails[0].MaxAttempts)
	}
	if msg := decodeEmail(t, emails[0]); msg.Template != notify.TemplateExportFailed || msg.ErrorMessage == "" {
		t.Errorf("email = %+v", msg)
	}
	if p.renderer.calls != 3 {
		t.Errorf("renderer calls = %d, want 3", p.renderer.calls)
	}

	// A duplicate failure signal must not send a second email.
	if err := p.processor.OnJobFailed(context.Background(), final, errors.New("again")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if n := len(p.emails(t)); n != 1 {
		t.Fatalf("duplicate failure enqueued %d emails", n)
	}
}

func TestProcessor_TransientFailureThenSuccess(t *testing.T) {
	p := newPipeline(t)
	p.renderer.fails = 2
	e := p.request(t, "prj_1", export.FormatPDF)

	p.runNext(t)
	p.clock.Advance(base)
	p.runNext(t)
	p.clock.Advance(2 * base)
	j := p.runNext(t)

	final, _ := p.store.GetJob(context.Background(), j.ID)
	if final.Status != job.StatusCompleted || final.AttemptsMade != 3 {
		t.Fatalf("job = %s after %d attempts", final.Status, final.AttemptsMade)
	}
	if got := p.export(t, e); got.Status != export.StatusCompleted {
		t.Fatalf("export status = %q", got.Status)
	}
	if n := len(p.emails(t)); n != 1 {
		t.Fatalf("expected 1 email, got %d", n)
	}
}

func TestProcessor_NoWorkflowDataIsPermanent(t *testing.T) {
	p := newPipeline(t)
	e := p.request(t, "prj_empty", export.FormatPDF)

	j := p.runNext(t)

	final, _ := p.store.GetJob(context.Background(), j.ID)
	if final.Status != job.StatusFailed || final.AttemptsMade != 1 {
		t.Fatalf("job = %s after %d attempts, want failed after 1", final.Status, final.AttemptsMade)
	}
	got := p.export(t, e)
	if got.Status != export.StatusFailed || !strings.Contains(got.ErrorMessage, spool.ErrNoWorkflowData.Error()) {
		t.Fatalf("export = %s %q", got.Status, got.ErrorMessage)
	}
	if p.renderer.calls != 0 {
		t.Error("renderer must not run without workflow data")
	}
	if n := len(p.emails(t)); n != 1 {
		t.Fatalf("expected 1 failure email, got %d", n)
	}
}

func TestProcessor_OwnershipMismatch(t *testing.T) {
	p := newPipeline(t)
	e := p.request(t, "prj_1", export.FormatPDF)

	err := p.processor.Handle(context.Background(), export.Payload{
		ExportID:  e.ID,
		UserID:    "usr_mallory",
		ProjectID: "prj_1",
		Format:    export.FormatPDF,
	}, func(int) {})
	if !errors.Is(err, spool.ErrExportNotFound) || !job.IsPermanent(err) {
		t.Fatalf("expected permanent not-found, got %v", err)
	}
	if got := p.export(t, e); got.Status != export.StatusPending {
		t.Fatalf("foreign attempt changed status to %q", got.Status)
	}
	if len(p.storage.files) != 0 {
		t.Fatal("foreign attempt produced an artifact")
	}
}

func TestProcessor_RerunOfCompletedExportOnlyNotifies(t *testing.T) {
	p := newPipeline(t)
	e := p.request(t, "prj_1", export.FormatPDF)
	p.runNext(t)

	done := p.export(t, e)
	in := export.Payload{ExportID: e.ID, UserID: "usr_ada", ProjectID: "prj_1", Format: export.FormatPDF}
	if err := p.processor.Handle(context.Background(), in, func(int) {}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	again := p.export(t, e)
	if again.Filename != done.Filename || len(p.storage.files) != 1 {
		t.Fatal("re-run rendered a second artifact")
	}
	if n := len(p.emails(t)); n != 1 {
		t.Fatalf("re-run sent %d emails, want 1 total", n)
	}
}

func TestProcessor_IgnoresOtherJobTypes(t *testing.T) {
	p := newPipeline(t)
	err := p.processor.OnJobFailed(context.Background(), &job.Job{Type: notify.JobType, Payload: []byte("{")}, errors.New("x"))
	if err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
}

func TestProcessor_ReconcileSendsFailureEmailAfterEnqueueError(t *testing.T) {
	p := newPipeline(t)
	p.notifier.setFails(1)
	e := p.request(t, "prj_empty", export.FormatPDF)

	j := p.runNext(t)

	got := p.export(t, e)
	if got.Status != export.StatusFailed || got.NotifiedAt != nil {
		t.Fatalf("after hook error: status=%q notified=%v", got.Status, got.NotifiedAt)
	}
	if n := len(p.emails(t)); n != 0 {
		t.Fatalf("emails = %d, want 0 before reconciliation", n)
	}

	failed, _ := p.store.GetJob(context.Background(), j.ID)
	acted, err := p.processor.Reconcile(context.Background(), failed)
	if err != nil || !acted {
		t.Fatalf("Reconcile = %v, %v; want true, nil", acted, err)
	}
	emails := p.emails(t)
	if len(emails) != 1 || decodeEmail(t, emails[0]).Template != notify.TemplateExportFailed {
		t.Fatalf("emails = %v, want one failure email", emails)
	}
	if got := p.export(t, e); got.NotifiedAt == nil {
		t.Fatal("notifiedAt not stamped")
	}

	acted, err = p.processor.Reconcile(context.Background(), failed)
	if err != nil || acted {
		t.Fatalf("second Reconcile = %v, %v; want false, nil", acted, err)
	}
	if n := len(p.emails(t)); n != 1 {
		t.Fatalf("emails = %d after second reconcile, want 1", n)
	}
}

func TestProcessor_ReconcileFailsExportLeftProcessing(t *testing.T) {
	p := newPipeline(t)
	e := p.request(t, "prj_empty", export.FormatPDF)

	broken := &flakyStore{Store: p.store, failOn: func(e *export.Export) bool {
		return e.Status == export.StatusFailed
	}}
	processor := export.NewProcessor(broken, p.source, p.renderer, p.storage, p.notifier,
		export.WithProcessorClock(p.clock.Now), export.WithProcessorLogger(discard))

	j, _ := p.exports.ClaimNext(context.Background())
	handleErr := processor.Handle(context.Background(), export.Payload{
		ExportID: e.ID, UserID: "usr_ada", ProjectID: "prj_empty", Format: export.FormatPDF,
	}, func(int) {})
	if !job.IsPermanent(handleErr) {
		t.Fatalf("Handle = %v, want permanent", handleErr)
	}
	failed, err := p.store.FailJob(context.Background(), j.Claim(), handleErr.Error(), p.clock.Now())
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if err := processor.OnJobFailed(context.Background(), failed, handleErr); err == nil {
		t.Fatal("OnJobFailed succeeded against a failing store")
	}
	if got := p.export(t, e); got.Status != export.StatusProcessing {
		t.Fatalf("status = %q, want processing after the hook error", got.Status)
	}

	acted, err := p.processor.Reconcile(context.Background(), failed)
	if err != nil || !acted {
		t.Fatalf("Reconcile = %v, %v; want true, nil", acted, err)
	}
	got := p.export(t, e)
	if got.Status != export.StatusFailed || got.NotifiedAt == nil {
		t.Fatalf("export = %s notified=%v, want failed and notified", got.Status, got.NotifiedAt)
	}
	if !strings.Contains(got.ErrorMessage, spool.ErrNoWorkflowData.Error()) {
		t.Errorf("errorMessage = %q", got.ErrorMessage)
	}
	if n := len(p.emails(t)); n != 1 {
		t.Fatalf("emails = %d, want 1", n)
	}
}

func TestProcessor_ReconcileSendsCompletedEmailAfterRetriesExhausted(t *testing.T) {
	p := newPipeline(t)
	p.notifier.setFails(-1)
	e := p.request(t, "prj_1", export.FormatPDF)

	var last *job.Job
	for attempt := 1; attempt <= 3; attempt++ {
		last = p.runNext(t)
		p.clock.Advance(base << (attempt - 1))
	}
	failed, _ := p.store.GetJob(context.Background(), last.ID)
	if failed.Status != job.StatusFailed {
		t.Fatalf("job = %s, want failed", failed.Status)
	}
	if got := p.export(t, e); got.Status != export.StatusCompleted || got.NotifiedAt != nil {
		t.Fatalf("export = %s notified=%v", got.Status, got.NotifiedAt)
	}
	if len(p.storage.files) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(p.storage.files))
	}

	p.notifier.setFails(0)
	acted, err := p.processor.Reconcile(context.Background(), failed)
	if err != nil || !acted {
		t.Fatalf("Reconcile = %v, %v; want true, nil", acted, err)
	}
	emails := p.emails(t)
	if len(emails) != 1 || decodeEmail(t, emails[0]).Template != notify.TemplateExportCompleted {
		t.Fatalf("emails = %v, want one completed email", emails)
	}
}

func TestProcessor_ReconcileIgnoresUnfailedJobs(t *testing.T) {
	p := newPipeline(t)
	p.request(t, "prj_1", export.FormatPDF)
	waiting, _ := p.exports.List(context.Background(), job.StatusWaiting, 0, 0)
	if len(waiting) != 1 {
		t.Fatalf("waiting = %d, want 1", len(waiting))
	}
	if acted, err := p.processor.Reconcile(context.Background(), waiting[0]); err != nil || acted {
		t.Fatalf("Reconcile = %v, %v; want false, nil", acted, err)
	}
}

func TestProcessor_DiscardsArtifactWhenCompletionNotRecorded(t *testing.T) {
	p := newPipeline(t)
	e := p.request(t, "prj_1", export.FormatPDF)

	fails := 1
	broken := &flakyStore{Store: p.store, failOn: func(e *export.Export) bool {
		if e.Status == export.StatusCompleted && fails > 0 {
			fails--
			return true
		}
		return false
	}}
	processor := export.NewProcessor(broken, p.source, p.renderer, p.storage, p.notifier,
		export.WithProcessorClock(p.clock.Now), export.WithProcessorLogger(discard))
	in := export.Payload{ExportID: e.ID, UserID: "usr_ada", ProjectID: "prj_1", Format: export.FormatPDF}

	if err := processor.Handle(context.Background(), in, func(int) {}); err == nil {
		t.Fatal("Handle succeeded although the completion was not recorded")
	}
	if n := len(p.storage.files); n != 0 {
		t.Fatalf("artifacts = %d after failed completion, want 0", n)
	}

	p.clock.Advance(time.Second)
	if err := processor.Handle(context.Background(), in, func(int) {}); err != nil {
		t.Fatalf("retry Handle: %v", err)
	}
	got := p.export(t, e)
	if _, ok := p.storage.files[got.Filename]; !ok || len(p.storage.files) != 1 {
		t.Fatalf("artifacts = %v, want only %q", p.storage.files, got.Filename)
	}
}
