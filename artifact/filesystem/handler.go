package filesystem

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/export"
)

// LiveChecker reports whether an artifact may be served. *export.Service
// implements it.
type LiveChecker interface {
	ArtifactLive(ctx context.Context, filename string, now time.Time) (*export.Export, error)
}

// Handler serves artifacts by the last path element of the request. Files
// of unknown, incomplete or expired exports answer 404 even while they are
// still on disk.
func (s *Storage) Handler(live LiveChecker, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filename := path.Base(r.URL.Path)

		e, err := live.ArtifactLive(r.Context(), filename, time.Now())
		if err != nil {
			if !errors.Is(err, spool.ErrArtifactNotFound) {
				logger.Error("artifact lookup failed",
					slog.String("filename", filename),
					slog.String("error", err.Error()),
				)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			http.NotFound(w, r)
			return
		}

		f, err := s.Open(filename)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", e.Format.ContentType())
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		http.ServeContent(w, r, filename, info.ModTime(), f)
	})
}
