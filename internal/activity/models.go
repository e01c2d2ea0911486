package activity

import (
	"github.com/scormetry/scormetry/internal/grading"
)

type ScoringType string

const (
	ScoringRange  ScoringType = "range"
	ScoringRubric ScoringType = "rubric"
)

type Activity struct {
	ID          string      `json:"id"`
	ClassroomID string      `json:"classroom_id" validate:"required"`
	Title       string      `json:"title" validate:"required"`
	ScoringType ScoringType `json:"scoring_type" validate:"required,oneof=range rubric"`
	RubricID    string      `json:"rubric_id,omitempty" validate:"required_if=ScoringType rubric"`
	RangeMin    float64     `json:"range_min,omitempty"`
	RangeMax    float64     `json:"range_max,omitempty"`
	IsGroup     bool        `json:"is_group"`
	CreatedBy   string      `json:"created_by,omitempty"`
	CreatedAt   int64       `json:"created_at,omitempty"`
}

// EntityType is the entity kind graded on this activity.
func (a Activity) EntityType() grading.EntityType {
	if a.IsGroup {
		return grading.EntityGroup
	}
	return grading.EntityIndividual
}

type Member struct {
	StudentID            string `json:"student_id" validate:"required"`
	ActivityAssignmentID string `json:"activity_assignment_id,omitempty"`
}

// Group is a roster of students graded together. An empty Judges list lets
// any user with score:submit grade the group.
type Group struct {
	ID         string   `json:"id"`
	ActivityID string   `json:"activity_id"`
	Name       string   `json:"name" validate:"required"`
	Members    []Member `json:"members" validate:"required,min=1,dive"`
	Judges     []string `json:"judges,omitempty"`
}

func (g Group) HasMember(studentID string) bool {
	for _, m := range g.Members {
		if m.StudentID == studentID {
			return true
		}
	}
	return false
}

func (g Group) Permits(judgeID string) bool {
	if len(g.Judges) == 0 {
		return true
	}
	for _, j := range g.Judges {
		if j == judgeID {
			return true
		}
	}
	return false
}

// Entity converts the group into the scoring entity seen by judgeID.
func (g Group) Entity(judgeID string) grading.Entity {
	e := grading.Entity{
		Type:             grading.EntityGroup,
		ID:               g.ID,
		Name:             g.Name,
		PermittedToJudge: g.Permits(judgeID),
	}
	for _, m := range g.Members {
		e.Members = append(e.Members, grading.Member{ID: m.StudentID, ActivityAssignmentID: m.ActivityAssignmentID})
	}
	return e
}

// Submission is one judge's saved score entries for one entity.
type Submission struct {
	ActivityID string               `json:"activity_id"`
	JudgeID    string               `json:"judge_id"`
	EntityType grading.EntityType   `json:"entity_type"`
	EntityID   string               `json:"entity_id"`
	Entries    []grading.ScoreEntry `json:"entries"`
	Comment    string               `json:"comment,omitempty"`
	UpdatedAt  int64                `json:"updated_at"`
}

// GradedReport pairs a judge with the report computed from their submission.
type GradedReport struct {
	JudgeID   string               `json:"judge_id"`
	Entity    grading.Entity       `json:"entity"`
	Entries   []grading.ScoreEntry `json:"entries,omitempty"`
	Report    *grading.ScoreReport `json:"report"`
	Comment   string               `json:"comment,omitempty"`
	UpdatedAt int64                `json:"updated_at"`
}

type RubricSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}
