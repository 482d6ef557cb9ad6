package export_test

import (
	"strings"
	"testing"
	"time"

	"github.com/xraph/spool/export"
	"github.com/xraph/spool/id"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Launch Plan", "launch-plan"},
		{"  ../../etc/passwd ", "etc-passwd"},
		{"Café Menü 2026!", "caf-men-2026"},
		{"***", "project"},
		{"", "project"},
		{strings.Repeat("a", 80), strings.Repeat("a", 48)},
	}
	for _, tt := range tests {
		if got := export.SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFilename(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 15, 123_000_000, time.UTC)
	exportID := id.NewExportID()

	got := export.Filename("Launch Plan", export.FormatPDF, exportID, at)
	want := "launch-plan-20260301T093015.123-" + exportID.Suffix(8) + ".pdf"
	if got != want {
		t.Fatalf("Filename = %q, want %q", got, want)
	}
}

func TestFilename_ConcurrentExportsDiffer(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)
	a := export.Filename("Launch Plan", export.FormatMarkdown, id.NewExportID(), at)
	b := export.Filename("Launch Plan", export.FormatMarkdown, id.NewExportID(), at)
	if a == b {
		t.Fatalf("same timestamp produced identical filenames %q", a)
	}
}
