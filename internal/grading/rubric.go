package grading

// Rubric is a hierarchical grading template: sections -> criteria -> score ranges.
type Rubric struct {
	ID           string    `json:"id"`
	Name         string    `json:"name" validate:"required"`
	HasWeightage bool      `json:"has_weightage"`
	Sections     []Section `json:"sections" validate:"required,min=1,dive"`
}

type Section struct {
	ID              string      `json:"id" validate:"required"`
	Name            string      `json:"name" validate:"required"`
	ScorePercentage float64     `json:"score_percentage" validate:"gte=0,lte=100"`
	IsGroupScore    bool        `json:"is_group_score"`
	Criteria        []Criterion `json:"criteria" validate:"dive"`
}

type Criterion struct {
	ID          string               `json:"id" validate:"required"`
	Name        string               `json:"name" validate:"required"`
	MinScore    float64              `json:"min_score"`
	MaxScore    float64              `json:"max_score"`
	ScoreRanges []CriteriaScoreRange `json:"score_ranges,omitempty" validate:"dive"`
}

// CriteriaScoreRange is a named band inside a criterion's span. Bands label
// scores for display; they never constrain which scores are legal.
type CriteriaScoreRange struct {
	ID          string  `json:"id"`
	Name        string  `json:"name" validate:"required"`
	MinScore    float64 `json:"min_score"`
	MaxScore    float64 `json:"max_score" validate:"gtefield=MinScore"`
	Description string  `json:"description,omitempty"`
}

// ScoreRangeFor returns the first band containing score (bounds inclusive),
// or nil when no band matches.
func (c Criterion) ScoreRangeFor(score float64) *CriteriaScoreRange {
	for i := range c.ScoreRanges {
		r := &c.ScoreRanges[i]
		if score >= r.MinScore && score <= r.MaxScore {
			return r
		}
	}
	return nil
}

// Criterion looks up a criterion by id across all sections.
func (r Rubric) Criterion(id string) (Criterion, bool) {
	for _, s := range r.Sections {
		for _, c := range s.Criteria {
			if c.ID == id {
				return c, true
			}
		}
	}
	return Criterion{}, false
}

// HasGroupSections reports whether any section is scored once per group.
func (r Rubric) HasGroupSections() bool {
	for _, s := range r.Sections {
		if s.IsGroupScore {
			return true
		}
	}
	return false
}

// HasIndividualSections reports whether any section is scored per member.
func (r Rubric) HasIndividualSections() bool {
	for _, s := range r.Sections {
		if !s.IsGroupScore {
			return true
		}
	}
	return false
}

// RangeRubric builds the single-criterion rubric used by range-scored
// activities, so both scoring modes share one aggregation path.
func RangeRubric(id string, min, max float64, isGroup bool) Rubric {
	return Rubric{
		ID:   id,
		Name: "range",
		Sections: []Section{{
			ID:              id,
			Name:            "score",
			ScorePercentage: 100,
			IsGroupScore:    isGroup,
			Criteria: []Criterion{{
				ID:       id,
				Name:     "score",
				MinScore: min,
				MaxScore: max,
			}},
		}},
	}
}
