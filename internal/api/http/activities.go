package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scormetry/scormetry/internal/activity"
	authmw "github.com/scormetry/scormetry/internal/auth/middleware"
)

// POST /activities
func CreateActivityHandler(svc *activity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req activity.Activity
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		req.ID = ""
		req.CreatedBy = authmw.SubjectFromContext(r.Context())
		out, err := svc.CreateActivity(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

// GET /activities?classroom_id=&limit=&offset=
func ListActivitiesHandler(svc *activity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.Store().ListActivities(r.Context(), listOpts(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /activities/{activityID}
func GetActivityHandler(svc *activity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.Store().GetActivity(r.Context(), chi.URLParam(r, "activityID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// POST /activities/{activityID}/groups
func CreateGroupHandler(svc *activity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req activity.Group
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		req.ID = ""
		out, err := svc.CreateGroup(r.Context(), chi.URLParam(r, "activityID"), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

// GET /activities/{activityID}/groups
func ListGroupsHandler(svc *activity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "activityID")
		if _, err := svc.Store().GetActivity(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		out, err := svc.Store().ListGroups(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
