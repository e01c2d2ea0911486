package activity

import (
	"context"
	"errors"

	"github.com/scormetry/scormetry/internal/grading"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("judge is not permitted to grade this entity")
)

type ListOpts struct {
	ClassroomID string
	Limit       int
	Offset      int
}

type SubmissionKey struct {
	ActivityID string
	JudgeID    string
	EntityType grading.EntityType
	EntityID   string
}

type Store interface {
	PutRubric(ctx context.Context, r grading.Rubric) error
	GetRubric(ctx context.Context, id string) (grading.Rubric, error)
	ListRubrics(ctx context.Context, opts ListOpts) ([]RubricSummary, error)

	PutActivity(ctx context.Context, a Activity) error
	GetActivity(ctx context.Context, id string) (Activity, error)
	ListActivities(ctx context.Context, opts ListOpts) ([]Activity, error)

	PutGroup(ctx context.Context, g Group) error
	ListGroups(ctx context.Context, activityID string) ([]Group, error)
	// GroupForStudent returns the group of activityID that studentID belongs to.
	GroupForStudent(ctx context.Context, activityID, studentID string) (Group, error)

	// SaveSubmission replaces the entries and comment stored for the
	// submission's (activity, judge, entity).
	SaveSubmission(ctx context.Context, s Submission) error
	GetSubmission(ctx context.Context, key SubmissionKey) (Submission, error)
	// ListSubmissions returns every judge's submission for one entity.
	ListSubmissions(ctx context.Context, activityID string, typ grading.EntityType, entityID string) ([]Submission, error)
}

func clampLimit(n int) int {
	if n <= 0 || n > 200 {
		return 50
	}
	return n
}
