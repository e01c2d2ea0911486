package activity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/scormetry/scormetry/internal/grading"
	"github.com/scormetry/scormetry/internal/metrics"
	syncx "github.com/scormetry/scormetry/internal/sync"
)

// ReportCache stores preview reports by content hash. Get reports a miss as
// (nil, false, nil).
type ReportCache interface {
	Get(ctx context.Context, key string) (*grading.ScoreReport, bool, error)
	Set(ctx context.Context, key string, rep *grading.ScoreReport) error
}

type EventAppender interface {
	Append(ctx context.Context, e syncx.Event) error
}

type Option func(*Service)

func WithCache(c ReportCache) Option    { return func(s *Service) { s.cache = c } }
func WithEvents(e EventAppender) Option { return func(s *Service) { s.events = e } }
func WithLogger(l *zap.Logger) Option   { return func(s *Service) { s.log = l } }
func WithSiteID(id string) Option       { return func(s *Service) { s.siteID = id } }
func WithAggregator(a *grading.Aggregator) Option {
	return func(s *Service) { s.agg = a }
}

type Service struct {
	store  Store
	cache  ReportCache
	events EventAppender
	agg    *grading.Aggregator
	log    *zap.Logger
	tracer trace.Tracer
	siteID string
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, siteID: "local"}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.agg == nil {
		s.agg = grading.NewAggregator(grading.WithLogger(s.log))
	}
	s.tracer = otel.Tracer("github.com/scormetry/scormetry/internal/activity")
	return s
}

func (s *Service) Store() Store { return s.store }

// CreateRubric validates and stores r, assigning an id when it has none.
func (s *Service) CreateRubric(ctx context.Context, r grading.Rubric) (grading.Rubric, error) {
	if err := grading.ValidateRubric(r); err != nil {
		return grading.Rubric{}, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := s.store.PutRubric(ctx, r); err != nil {
		return grading.Rubric{}, fmt.Errorf("put rubric: %w", err)
	}
	return r, nil
}

func (s *Service) CreateActivity(ctx context.Context, a Activity) (Activity, error) {
	if err := grading.Struct(a); err != nil {
		return Activity{}, err
	}
	switch a.ScoringType {
	case ScoringRange:
		if !(a.RangeMax > a.RangeMin) {
			return Activity{}, grading.NewValidationError(errors.New("invalid activity"),
				grading.FieldError{Field: "range_max", Error: "range_max must exceed range_min"})
		}
		a.RubricID = ""
	case ScoringRubric:
		r, err := s.store.GetRubric(ctx, a.RubricID)
		if errors.Is(err, ErrNotFound) {
			return Activity{}, grading.NewValidationError(errors.New("invalid activity"),
				grading.FieldError{Field: "rubric_id", Error: "unknown rubric"})
		}
		if err != nil {
			return Activity{}, err
		}
		if r.HasGroupSections() && !a.IsGroup {
			return Activity{}, grading.NewValidationError(errors.New("invalid activity"),
				grading.FieldError{Field: "rubric_id", Error: "rubric has group sections but the activity is not graded in groups"})
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := s.store.PutActivity(ctx, a); err != nil {
		return Activity{}, fmt.Errorf("put activity: %w", err)
	}
	return s.store.GetActivity(ctx, a.ID)
}

// CreateGroup stores g under activityID. A student may belong to only one
// group per activity. A non-empty g.ID must name an existing group of the
// same activity.
func (s *Service) CreateGroup(ctx context.Context, activityID string, g Group) (Group, error) {
	a, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return Group{}, err
	}
	if !a.IsGroup {
		return Group{}, grading.NewValidationError(errors.New("invalid group"),
			grading.FieldError{Field: "activity_id", Error: "activity is not graded in groups"})
	}
	if err := grading.Struct(g); err != nil {
		return Group{}, err
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	} else if err := s.ownsGroup(ctx, activityID, g.ID); err != nil {
		return Group{}, err
	}
	g.ActivityID = activityID

	var fields []grading.FieldError
	seen := map[string]bool{}
	for i, m := range g.Members {
		path := fmt.Sprintf("members[%d].student_id", i)
		if seen[m.StudentID] {
			fields = append(fields, grading.FieldError{Field: path, Error: "student listed twice"})
			continue
		}
		seen[m.StudentID] = true
		other, err := s.store.GroupForStudent(ctx, activityID, m.StudentID)
		switch {
		case err == nil && other.ID != g.ID:
			fields = append(fields, grading.FieldError{Field: path, Error: "student already belongs to group " + other.Name})
		case err != nil && !errors.Is(err, ErrNotFound):
			return Group{}, err
		}
	}
	if len(fields) > 0 {
		return Group{}, grading.NewValidationError(errors.New("invalid group"), fields...)
	}
	if err := s.store.PutGroup(ctx, g); err != nil {
		return Group{}, fmt.Errorf("put group: %w", err)
	}
	return g, nil
}

// ownsGroup returns ErrNotFound unless groupID is a group of activityID.
func (s *Service) ownsGroup(ctx context.Context, activityID, groupID string) error {
	gs, err := s.store.ListGroups(ctx, activityID)
	if err != nil {
		return err
	}
	for _, g := range gs {
		if g.ID == groupID {
			return nil
		}
	}
	return ErrNotFound
}

// RubricFor returns the rubric an activity is scored with. Range activities
// get a synthesized single-criterion rubric keyed by the activity id.
func (s *Service) RubricFor(ctx context.Context, a Activity) (grading.Rubric, error) {
	if a.ScoringType == ScoringRange {
		return grading.RangeRubric(a.ID, a.RangeMin, a.RangeMax, a.IsGroup), nil
	}
	r, err := s.store.GetRubric(ctx, a.RubricID)
	if err != nil {
		return grading.Rubric{}, fmt.Errorf("rubric %s: %w", a.RubricID, err)
	}
	return r, nil
}

// ResolveEntity builds the scoring entity for (typ, id) on activity a as seen
// by judgeID. The entity type must match how the activity is graded; an
// empty type takes the activity's.
func (s *Service) ResolveEntity(ctx context.Context, a Activity, typ grading.EntityType, id, judgeID string) (grading.Entity, error) {
	if typ == "" {
		typ = a.EntityType()
	}
	if typ != a.EntityType() {
		return grading.Entity{}, grading.NewValidationError(errors.New("invalid entity"),
			grading.FieldError{Field: "entity_type", Error: fmt.Sprintf("activity is graded per %s", a.EntityType())})
	}
	if typ == grading.EntityIndividual {
		return grading.Individual(id, ""), nil
	}
	groups, err := s.store.ListGroups(ctx, a.ID)
	if err != nil {
		return grading.Entity{}, err
	}
	for _, g := range groups {
		if g.ID == id {
			return g.Entity(judgeID), nil
		}
	}
	return grading.Entity{}, fmt.Errorf("group %s: %w", id, ErrNotFound)
}

type target struct {
	activity Activity
	rubric   grading.Rubric
	entity   grading.Entity
}

func (s *Service) load(ctx context.Context, activityID string, typ grading.EntityType, entityID, judgeID string) (target, error) {
	a, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return target{}, fmt.Errorf("activity %s: %w", activityID, err)
	}
	r, err := s.RubricFor(ctx, a)
	if err != nil {
		return target{}, err
	}
	e, err := s.ResolveEntity(ctx, a, typ, entityID, judgeID)
	if err != nil {
		return target{}, err
	}
	return target{activity: a, rubric: r, entity: e}, nil
}

// Preview scores a draft without persisting it. Reports are cached by a hash
// of rubric, entity and draft; cache failures only cost a recomputation.
func (s *Service) Preview(ctx context.Context, activityID, judgeID string, typ grading.EntityType, entityID string, draft []grading.ScoreEntry) (_ *grading.ScoreReport, err error) {
	ctx, span := s.tracer.Start(ctx, "activity.Preview", trace.WithAttributes(
		attribute.String("activity.id", activityID),
		attribute.String("entity.type", string(typ)),
		attribute.String("entity.id", entityID),
	))
	defer func() { endSpan(span, err) }()

	t, err := s.load(ctx, activityID, typ, entityID, judgeID)
	if err != nil {
		return nil, err
	}

	key, err := previewKey(t.rubric, t.entity, draft)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		rep, ok, cerr := s.cache.Get(ctx, key)
		switch {
		case cerr != nil:
			metrics.ReportCache.WithLabelValues("error").Inc()
			s.log.Warn("report cache get failed", zap.String("key", key), zap.Error(cerr))
		case ok:
			metrics.ReportCache.WithLabelValues("hit").Inc()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return rep, nil
		default:
			metrics.ReportCache.WithLabelValues("miss").Inc()
		}
	}

	rep, err := s.compute(t.rubric, t.entity, draft)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if cerr := s.cache.Set(ctx, key, rep); cerr != nil {
			s.log.Warn("report cache set failed", zap.String("key", key), zap.Error(cerr))
		}
	}
	return rep, nil
}

type SaveInput struct {
	ActivityID string
	JudgeID    string
	EntityType grading.EntityType
	EntityID   string
	Entries    []grading.ScoreEntry
	Comment    string
}

// SaveScores validates and persists a judge's entries for one entity, then
// returns the report computed from them.
func (s *Service) SaveScores(ctx context.Context, in SaveInput) (_ *grading.ScoreReport, err error) {
	ctx, span := s.tracer.Start(ctx, "activity.SaveScores", trace.WithAttributes(
		attribute.String("activity.id", in.ActivityID),
		attribute.String("entity.type", string(in.EntityType)),
		attribute.String("entity.id", in.EntityID),
		attribute.String("judge.id", in.JudgeID),
	))
	defer func() { endSpan(span, err) }()

	t, err := s.load(ctx, in.ActivityID, in.EntityType, in.EntityID, in.JudgeID)
	if err != nil {
		return nil, err
	}
	in.EntityType = t.entity.Type
	if !t.entity.PermittedToJudge {
		return nil, ErrForbidden
	}
	if err := grading.ValidateEntries(t.rubric, in.Entries); err != nil {
		return nil, err
	}
	if err := checkAssignees(t.entity, in.Entries); err != nil {
		return nil, err
	}

	sub := Submission{
		ActivityID: in.ActivityID,
		JudgeID:    in.JudgeID,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Entries:    in.Entries,
		Comment:    in.Comment,
	}
	if err := s.store.SaveSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("save submission: %w", err)
	}

	rep, err := s.compute(t.rubric, t.entity, in.Entries)
	if err != nil {
		return nil, err
	}
	s.appendSaved(ctx, in, rep)
	return rep, nil
}

// appendSaved records the save in the event log. The submission is already
// committed, so a failure here is logged rather than returned.
func (s *Service) appendSaved(ctx context.Context, in SaveInput, rep *grading.ScoreReport) {
	if s.events == nil {
		return
	}
	ev, err := syncx.NewScoresSavedEvent(s.siteID, syncx.ScoresSaved{
		ActivityID:   in.ActivityID,
		JudgeID:      in.JudgeID,
		EntityType:   string(in.EntityType),
		EntityID:     in.EntityID,
		OverallScore: rep.OverallScore,
	})
	if err == nil {
		err = s.events.Append(ctx, ev)
	}
	if err != nil {
		s.log.Error("append ScoresSaved event failed",
			zap.String("activity_id", in.ActivityID),
			zap.String("entity_id", in.EntityID),
			zap.Error(err))
	}
}

// Report returns the judge's saved entries and their report. An entity with
// nothing saved yet comes back ungraded.
func (s *Service) Report(ctx context.Context, activityID, judgeID string, typ grading.EntityType, entityID string) (*GradedReport, error) {
	t, err := s.load(ctx, activityID, typ, entityID, judgeID)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.GetSubmission(ctx, SubmissionKey{activityID, judgeID, t.entity.Type, entityID})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	rep, err := s.compute(t.rubric, t.entity, sub.Entries)
	if err != nil {
		return nil, err
	}
	return &GradedReport{
		JudgeID:   judgeID,
		Entity:    t.entity,
		Entries:   sub.Entries,
		Report:    rep,
		Comment:   sub.Comment,
		UpdatedAt: sub.UpdatedAt,
	}, nil
}

// StudentGrades returns one report per judge for the student's own entity:
// their group on group activities, themselves otherwise. Other members'
// individual scores are left out.
func (s *Service) StudentGrades(ctx context.Context, activityID, studentID string) ([]GradedReport, error) {
	a, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", activityID, err)
	}
	r, err := s.RubricFor(ctx, a)
	if err != nil {
		return nil, err
	}
	ent := grading.Individual(studentID, "")
	if a.IsGroup {
		g, err := s.store.GroupForStudent(ctx, activityID, studentID)
		if errors.Is(err, ErrNotFound) {
			return []GradedReport{}, nil
		}
		if err != nil {
			return nil, err
		}
		ent = g.Entity("")
	}
	subs, err := s.store.ListSubmissions(ctx, activityID, ent.Type, ent.ID)
	if err != nil {
		return nil, err
	}
	out := make([]GradedReport, 0, len(subs))
	for _, sub := range subs {
		rep, err := s.compute(r, ent, sub.Entries)
		if err != nil {
			return nil, err
		}
		out = append(out, GradedReport{
			JudgeID:   sub.JudgeID,
			Entity:    ent,
			Report:    ownScoresOnly(rep, studentID),
			Comment:   sub.Comment,
			UpdatedAt: sub.UpdatedAt,
		})
	}
	return out, nil
}

// Band looks up the display band of a score on one criterion of a rubric.
func (s *Service) Band(ctx context.Context, rubricID, criteriaID string, score float64) (*grading.CriteriaScoreRange, error) {
	r, err := s.store.GetRubric(ctx, rubricID)
	if err != nil {
		return nil, err
	}
	c, ok := r.Criterion(criteriaID)
	if !ok {
		return nil, fmt.Errorf("criterion %s: %w", criteriaID, ErrNotFound)
	}
	return c.ScoreRangeFor(score), nil
}

func (s *Service) compute(r grading.Rubric, e grading.Entity, entries []grading.ScoreEntry) (*grading.ScoreReport, error) {
	rep, err := s.agg.CalculateForEntity(r, e, entries)
	switch {
	case err != nil:
		metrics.ReportsComputed.WithLabelValues("malformed").Inc()
		return nil, err
	case rep.Graded():
		metrics.ReportsComputed.WithLabelValues("graded").Inc()
	default:
		metrics.ReportsComputed.WithLabelValues("ungraded").Inc()
	}
	return rep, nil
}

// checkAssignees rejects entries for assignees outside the entity being saved.
func checkAssignees(e grading.Entity, entries []grading.ScoreEntry) error {
	members := map[string]bool{}
	for _, m := range e.Members {
		members[m.ID] = true
	}
	var fields []grading.FieldError
	for i, en := range entries {
		ok := members[en.AssigneeID]
		if en.Type == grading.EntityGroup {
			ok = e.Type == grading.EntityGroup && en.AssigneeID == e.ID
		}
		if !ok {
			fields = append(fields, grading.FieldError{
				Field: fmt.Sprintf("entries[%d].assignee_id", i),
				Error: "assignee is not part of the graded entity",
			})
		}
	}
	if len(fields) > 0 {
		return grading.NewValidationError(errors.New("invalid score entries"), fields...)
	}
	return nil
}

func ownScoresOnly(rep *grading.ScoreReport, studentID string) *grading.ScoreReport {
	if rep == nil || rep.IndividualScores == nil {
		return rep
	}
	out := *rep
	out.IndividualScores = nil
	for _, ms := range rep.IndividualScores {
		if ms.StudentID == studentID {
			out.IndividualScores = append(out.IndividualScores, ms)
		}
	}
	return &out
}

func previewKey(r grading.Rubric, e grading.Entity, draft []grading.ScoreEntry) (string, error) {
	b, err := json.Marshal(struct {
		Rubric grading.Rubric       `json:"r"`
		Entity grading.Entity       `json:"e"`
		Draft  []grading.ScoreEntry `json:"d"`
	}{r, e, draft})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
