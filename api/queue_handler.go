package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/spool/job"
)

// CleanRequest is the body of POST /v1/queues/{queue}/clean.
type CleanRequest struct {
	Status job.Status `json:"status" validate:"required,oneof=completed failed"`
	// Grace is a Go duration string such as "24h".
	Grace string `json:"grace" validate:"required"`
}

// CleanResponse reports how many jobs a clean removed.
type CleanResponse struct {
	Removed int64 `json:"removed"`
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	h := a.eng.Monitor().HealthCheck(r.Context())
	code := http.StatusOK
	if !h.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (a *API) listQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := a.eng.Monitor().ListQueueStats(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) getQueue(w http.ResponseWriter, r *http.Request) {
	stats, err := a.eng.Monitor().QueueStats(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) pauseQueue(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Monitor().PauseQueue(r.Context(), chi.URLParam(r, "queue")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) resumeQueue(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Monitor().ResumeQueue(r.Context(), chi.URLParam(r, "queue")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) cleanQueue(w http.ResponseWriter, r *http.Request) {
	var req CleanRequest
	if err := a.decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	grace, err := time.ParseDuration(req.Grace)
	if err != nil || grace < 0 {
		writeErr(w, http.StatusBadRequest, "invalid grace duration")
		return
	}

	n, err := a.eng.Monitor().CleanQueue(r.Context(), chi.URLParam(r, "queue"), grace, req.Status)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CleanResponse{Removed: n})
}
