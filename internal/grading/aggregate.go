package grading

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// MissingScorePolicy decides how an unscored criterion counts.
type MissingScorePolicy int

const (
	// MissingAsZero counts an unscored criterion as 0 in its section's mean.
	MissingAsZero MissingScorePolicy = iota
	// MissingExcluded drops unscored criteria from the mean and unscored
	// sections from the combination.
	MissingExcluded
)

// Option configures an Aggregator.
type Option func(*config)

type config struct {
	log     *zap.Logger
	missing MissingScorePolicy
}

// WithLogger sets the logger that records ignored entries at debug level.
func WithLogger(l *zap.Logger) Option { return func(c *config) { c.log = l } }

// WithMissingScorePolicy sets how unscored criteria count. The default is MissingAsZero.
func WithMissingScorePolicy(p MissingScorePolicy) Option {
	return func(c *config) { c.missing = p }
}

// Aggregator turns a rubric plus submitted score entries into a ScoreReport.
// It holds no state between calls.
type Aggregator struct {
	cfg config
}

// NewAggregator returns an Aggregator with the given options applied.
func NewAggregator(opts ...Option) *Aggregator {
	cfg := config{missing: MissingAsZero}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.log == nil {
		cfg.log = zap.NewNop()
	}
	return &Aggregator{cfg: cfg}
}

var defaultAggregator = NewAggregator()

// CalculateRubricScore scores entries against r with the default options,
// inferring the entity from the entries themselves.
func CalculateRubricScore(r Rubric, scores []ScoreEntry) (*ScoreReport, error) {
	return defaultAggregator.Calculate(r, scores)
}

func (a *Aggregator) Calculate(r Rubric, scores []ScoreEntry) (*ScoreReport, error) {
	return a.CalculateForEntity(r, InferEntity(r, scores), scores)
}

// InferEntity reconstructs the entity being graded from a score array. The
// first group entry names the group and individual assignees become members
// in order of first appearance.
func InferEntity(r Rubric, scores []ScoreEntry) Entity {
	var groupID string
	var members []Member
	seen := map[string]bool{}
	for _, e := range scores {
		switch e.Type {
		case EntityGroup:
			if groupID == "" {
				groupID = e.AssigneeID
			}
		case EntityIndividual:
			if !seen[e.AssigneeID] {
				seen[e.AssigneeID] = true
				members = append(members, Member{ID: e.AssigneeID})
			}
		}
	}
	if r.HasGroupSections() || groupID != "" || len(members) > 1 {
		return Entity{Type: EntityGroup, ID: groupID, Members: members, PermittedToJudge: true}
	}
	if len(members) == 1 {
		return Individual(members[0].ID, "")
	}
	return Entity{Type: EntityIndividual}
}

// CalculateForEntity scores the entries that belong to e. It returns an
// error only for rubrics that cannot be scored; anomalies in the entries are
// skipped and listed in ScoreReport.Ignored.
func (a *Aggregator) CalculateForEntity(r Rubric, e Entity, scores []ScoreEntry) (*ScoreReport, error) {
	if err := checkScorable(r); err != nil {
		return nil, err
	}

	rep := &ScoreReport{}
	idx := a.index(r, e, scores, rep)
	if idx.recorded == 0 {
		return rep, nil
	}

	if e.Type != EntityGroup {
		var own map[string]float64
		if len(e.Members) > 0 {
			own = idx.members[e.Members[0].ID]
		}
		var parts []part
		for _, s := range r.Sections {
			if s.IsGroupScore {
				continue
			}
			parts = append(parts, a.section(s, own))
		}
		rep.OverallScore = a.combine(r, parts)
		return rep, nil
	}

	var groupParts []part
	for _, s := range r.Sections {
		if s.IsGroupScore {
			groupParts = append(groupParts, a.section(s, idx.group))
		}
	}
	if r.HasGroupSections() {
		rep.GroupScore = a.subset(r, groupParts)
	}
	if !r.HasIndividualSections() {
		rep.OverallScore = a.combine(r, groupParts)
		return rep, nil
	}

	var overalls []float64
	for _, m := range e.Members {
		own, ok := idx.members[m.ID]
		if !ok {
			continue
		}
		var indParts []part
		for _, s := range r.Sections {
			if !s.IsGroupScore {
				indParts = append(indParts, a.section(s, own))
			}
		}
		if v := a.subset(r, indParts); v != nil {
			rep.IndividualScores = append(rep.IndividualScores, MemberScore{StudentID: m.ID, Score: *v})
		}
		if v := a.combine(r, merge(groupParts, indParts)); v != nil {
			overalls = append(overalls, *v)
		}
	}
	if len(overalls) == 0 {
		// no member has individual scores yet; their sections count as empty
		var indParts []part
		for _, s := range r.Sections {
			if !s.IsGroupScore {
				indParts = append(indParts, a.section(s, nil))
			}
		}
		rep.OverallScore = a.combine(r, merge(groupParts, indParts))
		return rep, nil
	}
	rep.OverallScore = ptr(mean(overalls))
	return rep, nil
}

type entryIndex struct {
	group    map[string]float64
	members  map[string]map[string]float64
	recorded int
}

// index keeps the criterion scores that apply to e. Scores for unknown
// criteria, for sections of the other type, or for assignees outside e are
// recorded as ignored.
func (a *Aggregator) index(r Rubric, e Entity, scores []ScoreEntry, rep *ScoreReport) entryIndex {
	sectionOf := map[string]Section{}
	for _, s := range r.Sections {
		for _, c := range s.Criteria {
			sectionOf[c.ID] = s
		}
	}
	inEntity := map[string]bool{}
	for _, m := range e.Members {
		inEntity[m.ID] = true
	}

	idx := entryIndex{members: map[string]map[string]float64{}}
	ignore := func(en ScoreEntry, criteriaID, reason string) {
		rep.Ignored = append(rep.Ignored, Ignored{AssigneeID: en.AssigneeID, Type: en.Type, RubricCriteriaID: criteriaID, Reason: reason})
		a.cfg.log.Debug("ignoring score",
			zap.String("rubric_id", r.ID),
			zap.String("assignee_id", en.AssigneeID),
			zap.String("type", string(en.Type)),
			zap.String("rubric_criteria_id", criteriaID),
			zap.String("reason", reason))
	}

	for _, en := range scores {
		var dst map[string]float64
		switch {
		case en.Type == EntityGroup && e.Type == EntityGroup && en.AssigneeID == e.ID:
			if idx.group == nil {
				idx.group = map[string]float64{}
			}
			dst = idx.group
		case en.Type == EntityIndividual && inEntity[en.AssigneeID]:
			dst = idx.members[en.AssigneeID]
		case !en.Type.Valid():
			ignore(en, "", "unknown entry type")
			continue
		default:
			ignore(en, "", "assignee is not part of the graded entity")
			continue
		}

		for _, cs := range en.Scores {
			s, ok := sectionOf[cs.RubricCriteriaID]
			switch {
			case !ok:
				ignore(en, cs.RubricCriteriaID, "unknown criterion")
				continue
			case s.IsGroupScore != (en.Type == EntityGroup):
				ignore(en, cs.RubricCriteriaID, "entry type does not match section")
				continue
			}
			if dst == nil {
				dst = map[string]float64{}
				idx.members[en.AssigneeID] = dst
			}
			if _, dup := dst[cs.RubricCriteriaID]; dup {
				ignore(en, cs.RubricCriteriaID, "duplicate criterion score")
				continue
			}
			dst[cs.RubricCriteriaID] = cs.Score
			idx.recorded++
		}
	}
	return idx
}

// part is one section's contribution for one assignee.
type part struct {
	raw       float64
	weight    float64
	scored    bool // false when nothing in the section counts
	hasWeight bool // false for sections without criteria
}

func (a *Aggregator) section(s Section, scored map[string]float64) part {
	p := part{weight: s.ScorePercentage, hasWeight: len(s.Criteria) > 0}
	sum, n := 0.0, 0
	for _, c := range s.Criteria {
		v, ok := scored[c.ID]
		if !ok {
			if a.cfg.missing == MissingAsZero {
				n++
			}
			continue
		}
		sum += normalize(c, v)
		n++
	}
	if n > 0 {
		p.raw = sum / float64(n)
		p.scored = true
	}
	return p
}

func merge(group, ind []part) []part {
	out := make([]part, 0, len(group)+len(ind))
	out = append(out, group...)
	return append(out, ind...)
}

// combine folds section parts into the 0–100 total over the full section set.
func (a *Aggregator) combine(r Rubric, parts []part) *float64 {
	if !r.HasWeightage {
		return a.unweighted(parts)
	}
	var total, applied, available float64
	scored := false
	for _, p := range parts {
		if p.hasWeight {
			available += p.weight
		}
		if !p.scored {
			continue
		}
		scored = true
		total += p.raw * p.weight / 100
		applied += p.weight
	}
	if !scored {
		return nil
	}
	if a.cfg.missing == MissingExcluded && applied > 0 && applied < available {
		total = total * available / applied
	}
	return ptr(total)
}

// subset scores a group-only or individual-only slice of the rubric on its
// own 0–100 scale, so weights are normalised by the slice's weight sum.
func (a *Aggregator) subset(r Rubric, parts []part) *float64 {
	if !r.HasWeightage {
		return a.unweighted(parts)
	}
	var total, weights float64
	scored := false
	for _, p := range parts {
		if !p.scored {
			continue
		}
		scored = true
		total += p.raw * p.weight
		weights += p.weight
	}
	if !scored {
		return nil
	}
	if weights == 0 {
		return a.unweighted(parts)
	}
	return ptr(total / weights)
}

func (a *Aggregator) unweighted(parts []part) *float64 {
	var raws []float64
	for _, p := range parts {
		if p.scored {
			raws = append(raws, p.raw)
		}
	}
	if len(raws) == 0 {
		return nil
	}
	return ptr(mean(raws))
}

// normalize maps a criterion score onto 0–100. checkScorable guarantees
// MaxScore > MinScore before this runs.
func normalize(c Criterion, score float64) float64 {
	v := (score - c.MinScore) / (c.MaxScore - c.MinScore) * 100
	return math.Max(0, math.Min(100, v))
}

// checkScorable rejects rubrics that would make the computation divide by
// zero or double count a criterion.
func checkScorable(r Rubric) error {
	seen := map[string]bool{}
	var weights float64
	for _, s := range r.Sections {
		if len(s.Criteria) > 0 {
			weights += s.ScorePercentage
		}
		if r.HasWeightage && (s.ScorePercentage < 0 || s.ScorePercentage > 100 || math.IsNaN(s.ScorePercentage)) {
			return &MalformedRubricError{SectionID: s.ID, Reason: fmt.Sprintf("score percentage %v outside [0,100]", s.ScorePercentage)}
		}
		for _, c := range s.Criteria {
			if seen[c.ID] {
				return &MalformedRubricError{SectionID: s.ID, CriteriaID: c.ID, Reason: "duplicate criterion id"}
			}
			seen[c.ID] = true
			if !(c.MaxScore > c.MinScore) {
				return &MalformedRubricError{
					SectionID:  s.ID,
					CriteriaID: c.ID,
					Reason:     fmt.Sprintf("max score %v must exceed min score %v", c.MaxScore, c.MinScore),
				}
			}
		}
	}
	if r.HasWeightage && weights <= 0 && len(seen) > 0 {
		return &MalformedRubricError{Reason: "weighted rubric has no section weight"}
	}
	return nil
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func ptr(v float64) *float64 { return &v }
