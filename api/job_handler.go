package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/spool/id"
	"github.com/xraph/spool/job"
)

// EnqueueRequest is the body of POST /v1/queues/{queue}/jobs.
type EnqueueRequest struct {
	Type        string          `json:"type" validate:"required"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority" validate:"gte=0,lte=900"`
	Delay       string          `json:"delay,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty" validate:"gte=0"`
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := job.Status(q.Get("status"))
	if status == "" {
		status = job.StatusWaiting
	}
	if !status.Valid() {
		writeErr(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(status)))
		return
	}
	start, err := intParam(q.Get("start"), 0)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := intParam(q.Get("end"), -1)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid end")
		return
	}

	jobs, err := a.eng.Monitor().ListJobs(r.Context(), chi.URLParam(r, "queue"), status, start, end)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *API) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := a.decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := []job.Option{job.WithPriority(req.Priority)}
	if req.Delay != "" {
		d, err := time.ParseDuration(req.Delay)
		if err != nil || d < 0 {
			writeErr(w, http.StatusBadRequest, "invalid delay")
			return
		}
		opts = append(opts, job.WithDelay(d))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}
	payload := []byte(req.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}

	j, err := a.eng.EnqueueRaw(r.Context(), chi.URLParam(r, "queue"), req.Type, payload, opts...)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid job ID: "+err.Error())
		return
	}
	st, err := a.eng.Monitor().GetJobStatus(r.Context(), chi.URLParam(r, "queue"), jobID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid job ID: "+err.Error())
		return
	}
	j, err := a.eng.Monitor().RetryFailedJob(r.Context(), chi.URLParam(r, "queue"), jobID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
