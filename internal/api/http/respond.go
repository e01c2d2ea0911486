package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/scormetry/scormetry/internal/activity"
	"github.com/scormetry/scormetry/internal/grading"
	"github.com/scormetry/scormetry/internal/users"
)

// Handlers only; routes live in cmd/gateway.

var errBadJSON = errors.New("bad json")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeError maps domain errors onto status codes. Anything it does not
// recognise is logged and reported as a 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *grading.ValidationError
	var uerr *users.InvalidError
	switch {
	case errors.Is(err, errBadJSON):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  verr.Error(),
			"fields": verr.Fields,
		})
	case errors.As(err, &uerr):
		writeMessage(w, http.StatusUnprocessableEntity, uerr.Error())
	case errors.Is(err, grading.ErrMalformedRubric):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "cannot compute score",
			"detail": err.Error(),
		})
	case errors.Is(err, activity.ErrForbidden), errors.Is(err, users.ErrWrongPassword):
		writeMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, users.ErrLastAdmin):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, activity.ErrNotFound), errors.Is(err, users.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "not found")
	default:
		zap.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadJSON
	}
	return nil
}

func listOpts(r *http.Request) activity.ListOpts {
	q := r.URL.Query()
	opts := activity.ListOpts{ClassroomID: q.Get("classroom_id")}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		opts.Offset = v
	}
	return opts
}
