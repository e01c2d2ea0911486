package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/scormetry/scormetry/internal/activity"
	authmw "github.com/scormetry/scormetry/internal/auth/middleware"
	"github.com/scormetry/scormetry/internal/grading"
)

type previewReq struct {
	EntityType grading.EntityType   `json:"entity_type"`
	EntityID   string               `json:"entity_id"`
	Entries    []grading.ScoreEntry `json:"entries"`
}

type saveScoresReq struct {
	Entries []grading.ScoreEntry `json:"entries"`
	Comment string               `json:"comment,omitempty"`
}

// POST /activities/{activityID}/preview
//
// Scores a draft without storing it. The entity type may be omitted, in
// which case the activity decides it.
func PreviewHandler(svc *activity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req previewReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if strings.TrimSpace(req.EntityID) == "" {
			writeMessage(w, http.StatusBadRequest, "entity_id required")
			return
		}
		rep, err := svc.Preview(r.Context(), chi.URLParam(r, "activityID"),
			authmw.SubjectFromContext(r.Context()), req.EntityType, req.EntityID, req.Entries)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// PUT /activities/{activityID}/scores/{entityType}/{entityID}
func SaveScoresHandler(svc *activity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		typ, ok := entityTypeParam(w, r)
		if !ok {
			return
		}
		var req saveScoresReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		rep, err := svc.SaveScores(r.Context(), activity.SaveInput{
			ActivityID: chi.URLParam(r, "activityID"),
			JudgeID:    authmw.SubjectFromContext(r.Context()),
			EntityType: typ,
			EntityID:   chi.URLParam(r, "entityID"),
			Entries:    req.Entries,
			Comment:    req.Comment,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// GET /activities/{activityID}/scores/{entityType}/{entityID}?judge_id=
//
// Returns the caller's own submission unless judge_id names another judge.
func GetScoresHandler(svc *activity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		typ, ok := entityTypeParam(w, r)
		if !ok {
			return
		}
		judgeID := strings.TrimSpace(r.URL.Query().Get("judge_id"))
		if judgeID == "" {
			judgeID = authmw.SubjectFromContext(r.Context())
		}
		out, err := svc.Report(r.Context(), chi.URLParam(r, "activityID"), judgeID, typ, chi.URLParam(r, "entityID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /activities/{activityID}/my-grades
// GET /activities/{activityID}/students/{studentID}/grades
func StudentGradesHandler(svc *activity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		studentID := chi.URLParam(r, "studentID")
		if studentID == "" {
			studentID = authmw.SubjectFromContext(r.Context())
		}
		out, err := svc.StudentGrades(r.Context(), chi.URLParam(r, "activityID"), studentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// IsStudentSelf matches requests where the studentID path parameter is the
// caller. Used with rbac.RequireOwnerOr.
func IsStudentSelf(r *http.Request) bool {
	sub := authmw.SubjectFromContext(r.Context())
	return sub != "" && sub == chi.URLParam(r, "studentID")
}

func entityTypeParam(w http.ResponseWriter, r *http.Request) (grading.EntityType, bool) {
	typ := grading.EntityType(chi.URLParam(r, "entityType"))
	if !typ.Valid() {
		writeMessage(w, http.StatusBadRequest, "entity type must be individual or group")
		return "", false
	}
	return typ, true
}
