package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scormetry/scormetry/internal/db"
	"github.com/scormetry/scormetry/internal/grading"
)

var _ Store = (*SQLStore)(nil)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) PutRubric(ctx context.Context, r grading.Rubric) error {
	rj, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO rubrics (id,name,rubric_json,created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, rubric_json=EXCLUDED.rubric_json`,
		r.ID, r.Name, string(rj), time.Now().Unix())
	return err
}

func (s *SQLStore) GetRubric(ctx context.Context, id string) (grading.Rubric, error) {
	var rj string
	err := s.db.QueryRowContext(ctx, `SELECT rubric_json FROM rubrics WHERE id=$1`, id).Scan(&rj)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return grading.Rubric{}, ErrNotFound
		}
		return grading.Rubric{}, err
	}
	var r grading.Rubric
	if err := json.Unmarshal([]byte(rj), &r); err != nil {
		return grading.Rubric{}, fmt.Errorf("decode rubric %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLStore) ListRubrics(ctx context.Context, opts ListOpts) ([]RubricSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,name,created_at FROM rubrics ORDER BY name LIMIT $1 OFFSET $2`,
		clampLimit(opts.Limit), max(opts.Offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []RubricSummary{}
	for rows.Next() {
		var r RubricSummary
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const activityCols = `id,classroom_id,title,scoring_type,COALESCE(rubric_id,''),range_min,range_max,is_group,created_by,created_at`

func (s *SQLStore) PutActivity(ctx context.Context, a Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}
	var rubricID interface{}
	if a.RubricID != "" {
		rubricID = a.RubricID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO activities
		(id,classroom_id,title,scoring_type,rubric_id,range_min,range_max,is_group,created_by,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET classroom_id=EXCLUDED.classroom_id, title=EXCLUDED.title,
		  scoring_type=EXCLUDED.scoring_type, rubric_id=EXCLUDED.rubric_id, range_min=EXCLUDED.range_min,
		  range_max=EXCLUDED.range_max, is_group=EXCLUDED.is_group`,
		a.ID, a.ClassroomID, a.Title, string(a.ScoringType), rubricID, a.RangeMin, a.RangeMax,
		boolInt(a.IsGroup), a.CreatedBy, a.CreatedAt)
	return err
}

func (s *SQLStore) GetActivity(ctx context.Context, id string) (Activity, error) {
	a, err := scanActivity(s.db.QueryRowContext(ctx, `SELECT `+activityCols+` FROM activities WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Activity{}, ErrNotFound
	}
	return a, err
}

func (s *SQLStore) ListActivities(ctx context.Context, opts ListOpts) ([]Activity, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if opts.ClassroomID == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+activityCols+` FROM activities ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
			clampLimit(opts.Limit), max(opts.Offset, 0))
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+activityCols+` FROM activities WHERE classroom_id=$1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
			opts.ClassroomID, clampLimit(opts.Limit), max(opts.Offset, 0))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(row scanner) (Activity, error) {
	var (
		a       Activity
		typ     string
		isGroup int
	)
	if err := row.Scan(&a.ID, &a.ClassroomID, &a.Title, &typ, &a.RubricID, &a.RangeMin, &a.RangeMax,
		&isGroup, &a.CreatedBy, &a.CreatedAt); err != nil {
		return Activity{}, err
	}
	a.ScoringType = ScoringType(typ)
	a.IsGroup = isGroup != 0
	return a, nil
}

// PutGroup replaces the group's roster and judge list. A group id already
// owned by another activity yields ErrNotFound.
func (s *SQLStore) PutGroup(ctx context.Context, g Group) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM activities WHERE id=$1`, g.ActivityID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var owner string
		err = tx.QueryRowContext(ctx, `SELECT activity_id FROM activity_groups WHERE id=$1`, g.ID).Scan(&owner)
		switch {
		case err == nil && owner != g.ActivityID:
			return ErrNotFound
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO activity_groups (id,activity_id,name,created_at)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name
			WHERE activity_groups.activity_id=EXCLUDED.activity_id`,
			g.ID, g.ActivityID, g.Name, time.Now().Unix()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=$1`, g.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_judges WHERE group_id=$1`, g.ID); err != nil {
			return err
		}
		for i, m := range g.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO group_members (group_id,student_id,activity_assignment_id,position) VALUES ($1,$2,$3,$4)`,
				g.ID, m.StudentID, m.ActivityAssignmentID, i); err != nil {
				return err
			}
		}
		for _, j := range g.Judges {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO group_judges (group_id,judge_id) VALUES ($1,$2)`, g.ID, j); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) ListGroups(ctx context.Context, activityID string) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,activity_id,name FROM activity_groups WHERE activity_id=$1 ORDER BY created_at, id`, activityID)
	if err != nil {
		return nil, err
	}
	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.ActivityID, &g.Name); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// rosters are loaded after the cursor is closed; sqlite runs on one connection
	for i := range out {
		if err := s.loadRoster(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) GroupForStudent(ctx context.Context, activityID, studentID string) (Group, error) {
	var g Group
	err := s.db.QueryRowContext(ctx, `SELECT g.id,g.activity_id,g.name
		FROM activity_groups g JOIN group_members m ON m.group_id = g.id
		WHERE g.activity_id=$1 AND m.student_id=$2
		ORDER BY g.created_at LIMIT 1`, activityID, studentID).Scan(&g.ID, &g.ActivityID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, ErrNotFound
	}
	if err != nil {
		return Group{}, err
	}
	if err := s.loadRoster(ctx, &g); err != nil {
		return Group{}, err
	}
	return g, nil
}

func (s *SQLStore) loadRoster(ctx context.Context, g *Group) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id,activity_assignment_id FROM group_members WHERE group_id=$1 ORDER BY position`, g.ID)
	if err != nil {
		return err
	}
	g.Members = nil
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.StudentID, &m.ActivityAssignmentID); err != nil {
			rows.Close()
			return err
		}
		g.Members = append(g.Members, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT judge_id FROM group_judges WHERE group_id=$1 ORDER BY judge_id`, g.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	g.Judges = nil
	for rows.Next() {
		var j string
		if err := rows.Scan(&j); err != nil {
			return err
		}
		g.Judges = append(g.Judges, j)
	}
	return rows.Err()
}

func (s *SQLStore) SaveSubmission(ctx context.Context, sub Submission) error {
	if sub.UpdatedAt == 0 {
		sub.UpdatedAt = time.Now().Unix()
	}
	ej, err := json.Marshal(sub.Entries)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO score_submissions
		(activity_id,judge_id,entity_type,entity_id,entries_json,comment,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (activity_id,judge_id,entity_type,entity_id)
		DO UPDATE SET entries_json=EXCLUDED.entries_json, comment=EXCLUDED.comment, updated_at=EXCLUDED.updated_at`,
		sub.ActivityID, sub.JudgeID, string(sub.EntityType), sub.EntityID, string(ej), sub.Comment, sub.UpdatedAt)
	return err
}

const submissionCols = `activity_id,judge_id,entity_type,entity_id,entries_json,comment,updated_at`

func (s *SQLStore) GetSubmission(ctx context.Context, key SubmissionKey) (Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM score_submissions
		WHERE activity_id=$1 AND judge_id=$2 AND entity_type=$3 AND entity_id=$4`,
		key.ActivityID, key.JudgeID, string(key.EntityType), key.EntityID))
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	return sub, err
}

func (s *SQLStore) ListSubmissions(ctx context.Context, activityID string, typ grading.EntityType, entityID string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+submissionCols+` FROM score_submissions
		WHERE activity_id=$1 AND entity_type=$2 AND entity_id=$3 ORDER BY judge_id`,
		activityID, string(typ), entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanSubmission(row scanner) (Submission, error) {
	var (
		sub Submission
		typ string
		ej  string
	)
	if err := row.Scan(&sub.ActivityID, &sub.JudgeID, &typ, &sub.EntityID, &ej, &sub.Comment, &sub.UpdatedAt); err != nil {
		return Submission{}, err
	}
	sub.EntityType = grading.EntityType(typ)
	if err := json.Unmarshal([]byte(ej), &sub.Entries); err != nil {
		return Submission{}, fmt.Errorf("decode submission entries: %w", err)
	}
	return sub, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
