package http

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	authmw "github.com/scormetry/scormetry/internal/auth/middleware"
	"github.com/scormetry/scormetry/internal/rbac"
	"github.com/scormetry/scormetry/internal/users"
)

// POST /users/bulk
//
// Accepts a JSON array body, or a multipart file= holding CSV or JSON.
// Granting a staff role needs users:grant_staff on top of the route's permission.
func BulkUpsertUsersHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rows []users.User
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			f, _, err := r.FormFile("file")
			if err != nil {
				writeMessage(w, http.StatusBadRequest, "file required")
				return
			}
			defer f.Close()
			br := bufio.NewReader(f)
			first, err := peekNonSpace(br)
			if err != nil {
				writeMessage(w, http.StatusBadRequest, "empty file")
				return
			}
			if first == '[' {
				if err := json.NewDecoder(br).Decode(&rows); err != nil {
					writeMessage(w, http.StatusBadRequest, "bad json")
					return
				}
			} else if rows, err = users.ParseCSV(br); err != nil {
				writeMessage(w, http.StatusBadRequest, "bad csv: "+err.Error())
				return
			}
		} else if err := decode(r, &rows); err != nil {
			writeMessage(w, http.StatusBadRequest, "expected JSON array or multipart file")
			return
		}

		if !rbac.Can(r.Context(), "users:grant_staff") {
			for _, u := range rows {
				switch strings.ToLower(strings.TrimSpace(u.Role)) {
				case "", rbac.RoleStudent, rbac.RoleJudge:
				default:
					writeMessage(w, http.StatusForbidden, "cannot grant role "+u.Role)
					return
				}
			}
		}

		ins, upd, err := users.Upsert(r.Context(), db, rows)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"inserted": ins, "updated": upd})
	}
}

// GET /users?role=
func ListUsersHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := users.List(r.Context(), db, strings.TrimSpace(r.URL.Query().Get("role")))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// POST /users/change-password
func ChangePasswordHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		if userID == "" {
			writeMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req struct {
			OldPassword string `json:"old_password"`
			NewPassword string `json:"new_password"`
		}
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.NewPassword == "" {
			writeMessage(w, http.StatusBadRequest, "new password required")
			return
		}
		if err := users.ChangePassword(r.Context(), db, userID, req.OldPassword, req.NewPassword); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PATCH /users/{userID}/role
func UpdateUserRoleHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Role string `json:"role"`
		}
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		role := strings.ToLower(strings.TrimSpace(req.Role))
		if !rbac.ValidRole(role) {
			writeMessage(w, http.StatusBadRequest, "invalid role")
			return
		}
		if err := users.UpdateRole(r.Context(), db, chi.URLParam(r, "userID"), role); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for n := 1; ; n++ {
		b, err := br.Peek(n)
		if err != nil {
			return 0, err
		}
		switch c := b[n-1]; c {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return c, nil
		}
	}
}
