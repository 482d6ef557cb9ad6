package export

import (
	"strings"
	"time"
	"unicode"

	"github.com/xraph/spool/id"
)

const maxNameLen = 48

// SanitizeName reduces a project name to a lowercase, dash-separated token
// that is safe in any storage path.
func SanitizeName(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= maxNameLen {
			break
		}
	}

	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "project"
	}
	return s
}

// Filename builds the artifact filename of an export. The millisecond
// timestamp and the export ID suffix keep concurrent exports of the same
// project apart.
func Filename(projectName string, format Format, exportID id.ExportID, at time.Time) string {
	return SanitizeName(projectName) +
		"-" + at.UTC().Format("20060102T150405.000") +
		"-" + exportID.Suffix(8) +
		"." + format.Extension()
}
