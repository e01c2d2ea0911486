package grading

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator

	requiredTag  = "required"
	requiredText = "this field is required"
)

func init() {
	validate = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterTranslation(
		requiredTag, translator,
		func(t ut.Translator) error { return t.Add(requiredTag, requiredText, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(requiredTag, fe.Field())
			return s
		},
	)
}

// Struct validates any request DTO carrying `validate` tags and converts the
// failures into a *ValidationError keyed by JSON field path.
func Struct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fieldPath(fe.Namespace()), Error: fe.Translate(translator)})
	}
	return NewValidationError(errors.New("validation failed"), fields...)
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// ValidateRubric checks a rubric before it is stored. Structural problems
// come back as *ValidationError; rubrics the aggregator could not score come
// back as a *MalformedRubricError.
func ValidateRubric(r Rubric) error {
	if err := Struct(r); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Err = errInvalidRubric
		}
		return err
	}
	return checkScorable(r)
}

// ValidateEntries enforces the storage invariants of a score submission:
// every score lies inside its criterion's [min, max], entry types match the
// section they score, and each criterion appears at most once per entry.
// Unknown criteria are reported here even though the aggregator tolerates them.
func ValidateEntries(r Rubric, entries []ScoreEntry) error {
	sectionOf := map[string]Section{}
	criteria := map[string]Criterion{}
	for _, s := range r.Sections {
		for _, c := range s.Criteria {
			sectionOf[c.ID] = s
			criteria[c.ID] = c
		}
	}

	var fields []FieldError
	type key struct {
		assignee string
		typ      EntityType
	}
	seenEntry := map[key]bool{}
	for i, en := range entries {
		path := fmt.Sprintf("entries[%d]", i)
		if err := Struct(en); err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				return err
			}
			for _, f := range verr.Fields {
				fields = append(fields, FieldError{Field: path + "." + f.Field, Error: f.Error})
			}
			continue
		}
		k := key{en.AssigneeID, en.Type}
		if seenEntry[k] {
			fields = append(fields, FieldError{Field: path, Error: "duplicate entry for assignee"})
			continue
		}
		seenEntry[k] = true

		seen := map[string]bool{}
		for j, cs := range en.Scores {
			fpath := fmt.Sprintf("%s.scores[%d]", path, j)
			c, ok := criteria[cs.RubricCriteriaID]
			if !ok {
				fields = append(fields, FieldError{Field: fpath + ".rubric_criteria_id", Error: "unknown criterion"})
				continue
			}
			if seen[cs.RubricCriteriaID] {
				fields = append(fields, FieldError{Field: fpath + ".rubric_criteria_id", Error: "criterion scored twice"})
				continue
			}
			seen[cs.RubricCriteriaID] = true
			if sectionOf[cs.RubricCriteriaID].IsGroupScore != (en.Type == EntityGroup) {
				fields = append(fields, FieldError{Field: fpath + ".rubric_criteria_id", Error: "criterion belongs to a section of the other type"})
				continue
			}
			if math.IsNaN(cs.Score) || cs.Score < c.MinScore || cs.Score > c.MaxScore {
				fields = append(fields, FieldError{
					Field: fpath + ".score",
					Error: fmt.Sprintf("score must be between %v and %v", c.MinScore, c.MaxScore),
				})
			}
		}
	}
	if len(fields) > 0 {
		return NewValidationError(errInvalidEntries, fields...)
	}
	return nil
}
