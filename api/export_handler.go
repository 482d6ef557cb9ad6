package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/spool/export"
	"github.com/xraph/spool/id"
)

func (a *API) exports(w http.ResponseWriter) (*export.Service, bool) {
	svc := a.eng.Exports()
	if svc == nil {
		writeErr(w, http.StatusNotImplemented, "export pipeline not configured")
		return nil, false
	}
	return svc, true
}

func (a *API) createExport(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.exports(w)
	if !ok {
		return
	}
	var req export.Request
	if err := a.decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	e, err := svc.Request(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, e)
}

func (a *API) listExports(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.exports(w)
	if !ok {
		return
	}
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeErr(w, http.StatusBadRequest, "user_id is required")
		return
	}
	limit, err := intParam(q.Get("limit"), 50)
	if err != nil || limit < 0 {
		writeErr(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeErr(w, http.StatusBadRequest, "invalid offset")
		return
	}

	list, err := svc.List(r.Context(), userID, export.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		a.writeError(w, err)
		return
	}
	if list == nil {
		list = []*export.Export{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) getExport(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.exports(w)
	if !ok {
		return
	}
	exportID, err := id.ParseExportID(chi.URLParam(r, "exportID"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid export ID: "+err.Error())
		return
	}
	e, err := svc.Get(r.Context(), exportID, r.URL.Query().Get("user_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
