package users

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/scormetry/scormetry/internal/db"
	"github.com/scormetry/scormetry/internal/rbac"
)

const bcryptCost = 12

var (
	ErrNotFound      = errors.New("user not found")
	ErrWrongPassword = errors.New("incorrect old password")
	ErrLastAdmin     = errors.New("cannot demote the last admin")
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`               // usually "student"
	Password string `json:"password,omitempty"` // plaintext, only on import
}

// InvalidError describes a row that cannot be imported.
type InvalidError struct {
	Row    int
	Reason string
}

func (e *InvalidError) Error() string { return fmt.Sprintf("row %d: %s", e.Row, e.Reason) }

func HashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Upsert inserts or updates users by id or username in one transaction.
// New users need a password; existing users keep theirs unless one is given.
func Upsert(ctx context.Context, dbh *sql.DB, rows []User) (inserted, updated int, err error) {
	now := time.Now().Unix()
	err = db.WithTx(ctx, dbh, func(tx *sql.Tx) error {
		for i, r := range rows {
			r.Role = strings.ToLower(strings.TrimSpace(r.Role))
			if r.Role == "" {
				r.Role = rbac.RoleStudent
			}
			if !rbac.ValidRole(r.Role) {
				return &InvalidError{Row: i, Reason: "invalid role: " + r.Role}
			}
			if strings.TrimSpace(r.Username) == "" {
				return &InvalidError{Row: i, Reason: "username required"}
			}
			var phash string
			if r.Password != "" {
				h, err := HashPassword(r.Password)
				if err != nil {
					return err
				}
				phash = h
			}

			var existingID string
			err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id=$1 OR username=$2`, r.ID, r.Username).Scan(&existingID)
			switch {
			case err == nil:
				if phash != "" {
					_, err = tx.ExecContext(ctx, `UPDATE users SET username=$1, role=$2, password_hash=$3 WHERE id=$4`,
						r.Username, r.Role, phash, existingID)
				} else {
					_, err = tx.ExecContext(ctx, `UPDATE users SET username=$1, role=$2 WHERE id=$3`,
						r.Username, r.Role, existingID)
				}
				if err != nil {
					return err
				}
				updated++
			case errors.Is(err, sql.ErrNoRows):
				if phash == "" {
					return &InvalidError{Row: i, Reason: "password required for new user: " + r.Username}
				}
				if r.ID == "" {
					r.ID = uuid.NewString()
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO users (id, username, password_hash, role, created_at) VALUES ($1,$2,$3,$4,$5)`,
					r.ID, r.Username, phash, r.Role, now); err != nil {
					return err
				}
				inserted++
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}

func List(ctx context.Context, dbh *sql.DB, role string) ([]User, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if role == "" {
		rows, err = dbh.QueryContext(ctx, `SELECT id,username,role FROM users ORDER BY username`)
	} else {
		rows, err = dbh.QueryContext(ctx, `SELECT id,username,role FROM users WHERE role=$1 ORDER BY username`, role)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func ChangePassword(ctx context.Context, dbh *sql.DB, userID, oldPassword, newPassword string) error {
	var storedHash string
	err := dbh.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id=$1`, userID).Scan(&storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(oldPassword)) != nil {
		return ErrWrongPassword
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	_, err = dbh.ExecContext(ctx, `UPDATE users SET password_hash=$1 WHERE id=$2`, hash, userID)
	return err
}

// UpdateRole changes the role of the user matching target by id or username.
func UpdateRole(ctx context.Context, dbh *sql.DB, target, role string) error {
	return db.WithTx(ctx, dbh, func(tx *sql.Tx) error {
		var id, curRole string
		err := tx.QueryRowContext(ctx,
			`SELECT id, role FROM users WHERE id=$1 OR username=$1`, target).Scan(&id, &curRole)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if curRole == rbac.RoleAdmin && role != rbac.RoleAdmin {
			var adminCount int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE role='admin'`).Scan(&adminCount); err != nil {
				return err
			}
			if adminCount <= 1 {
				return ErrLastAdmin
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE users SET role=$1 WHERE id=$2`, role, id)
		return err
	})
}

// ParseCSV reads users from a CSV with a header row naming at least
// username and role; id and password columns are optional.
func ParseCSV(r io.Reader) ([]User, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	hdr, err := cr.Read()
	if err != nil {
		return nil, err
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, k := range []string{"username", "role"} {
		if _, ok := idx[k]; !ok {
			return nil, errors.New("missing column: " + k)
		}
	}
	col := func(rec []string, name string) string {
		if i, ok := idx[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	var rows []User
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, User{
			ID:       col(rec, "id"),
			Username: col(rec, "username"),
			Role:     strings.ToLower(col(rec, "role")),
			Password: col(rec, "password"),
		})
	}
	return rows, nil
}
