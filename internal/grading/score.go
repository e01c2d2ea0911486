package grading

// EntityType tags who a score entry (or a scoring pass) belongs to.
type EntityType string

const (
	EntityIndividual EntityType = "individual"
	EntityGroup      EntityType = "group"
)

func (t EntityType) Valid() bool {
	return t == EntityIndividual || t == EntityGroup
}

type CriterionScore struct {
	RubricCriteriaID string  `json:"rubric_criteria_id" validate:"required"`
	Score            float64 `json:"score"`
}

// ScoreEntry is the unit of storage: one per (assignee, type).
type ScoreEntry struct {
	AssigneeID string           `json:"assignee_id" validate:"required"`
	Type       EntityType       `json:"type" validate:"required,oneof=individual group"`
	Scores     []CriterionScore `json:"scores" validate:"dive"`
}

type Member struct {
	ID                   string `json:"id"`
	ActivityAssignmentID string `json:"activity_assignment_id,omitempty"`
}

// Entity is the student or group currently being graded. For an individual
// entity Members holds exactly the student; for a group it is the roster.
type Entity struct {
	Type             EntityType `json:"type"`
	ID               string     `json:"id"`
	Name             string     `json:"name,omitempty"`
	Members          []Member   `json:"members,omitempty"`
	PermittedToJudge bool       `json:"permitted_to_judge,omitempty"`
}

// Individual wraps one student as a scoring entity.
func Individual(studentID, assignmentID string) Entity {
	return Entity{
		Type:             EntityIndividual,
		ID:               studentID,
		Members:          []Member{{ID: studentID, ActivityAssignmentID: assignmentID}},
		PermittedToJudge: true,
	}
}

type MemberScore struct {
	StudentID string  `json:"student_id"`
	Score     float64 `json:"score"`
}

// ScoreReport holds full-precision 0–100 figures. A nil field means
// "ungraded", which is distinct from a score of 0.
type ScoreReport struct {
	IndividualScores []MemberScore `json:"individual_scores"`
	GroupScore       *float64      `json:"group_score"`
	OverallScore     *float64      `json:"overall_score"`

	// Ignored lists entries or criterion scores that did not apply.
	Ignored []Ignored `json:"-"`
}

// Graded reports whether any figure was computed.
func (r *ScoreReport) Graded() bool {
	return r != nil && (r.OverallScore != nil || r.GroupScore != nil || r.IndividualScores != nil)
}

type Ignored struct {
	AssigneeID       string
	Type             EntityType
	RubricCriteriaID string
	Reason           string
}
