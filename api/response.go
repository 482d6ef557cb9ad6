package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/spool"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// decode reads a JSON body into v and validates it.
func (a *API) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid json: " + err.Error())
	}
	if err := a.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" failed "+fe.Tag())
			}
			return errors.New("invalid request: " + strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

// writeError maps Spool sentinel errors to HTTP statuses.
func (a *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, spool.ErrJobNotFound),
		errors.Is(err, spool.ErrExportNotFound),
		errors.Is(err, spool.ErrQueueNotFound),
		errors.Is(err, spool.ErrArtifactNotFound),
		errors.Is(err, spool.ErrProjectNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, spool.ErrInvalidRequest):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, spool.ErrInvalidTransition),
		errors.Is(err, spool.ErrJobAlreadyExists),
		errors.Is(err, spool.ErrExportAlreadyExists):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, spool.ErrQueueClosed),
		errors.Is(err, spool.ErrStoreClosed):
		writeErr(w, http.StatusServiceUnavailable, err.Error())
	default:
		a.logger.Error("api: internal error", slog.String("error", err.Error()))
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}
