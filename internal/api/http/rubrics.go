package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/scormetry/scormetry/internal/activity"
	"github.com/scormetry/scormetry/internal/grading"
)

// POST /rubrics
func CreateRubricHandler(svc *activity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req grading.Rubric
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		out, err := svc.CreateRubric(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

// GET /rubrics
func ListRubricsHandler(svc *activity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.Store().ListRubrics(r.Context(), listOpts(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /rubrics/{rubricID}
func GetRubricHandler(svc *activity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.Store().GetRubric(r.Context(), chi.URLParam(r, "rubricID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /rubrics/{rubricID}/bands?criteria_id=&score=
//
// Responds with null when no band covers the score.
func RubricBandHandler(svc *activity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		criteriaID := strings.TrimSpace(q.Get("criteria_id"))
		score, err := strconv.ParseFloat(q.Get("score"), 64)
		if criteriaID == "" || err != nil {
			writeMessage(w, http.StatusBadRequest, "criteria_id and numeric score required")
			return
		}
		band, err := svc.Band(r.Context(), chi.URLParam(r, "rubricID"), criteriaID, score)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, band)
	}
}
