package activity_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scormetry/scormetry/internal/activity"
	"github.com/scormetry/scormetry/internal/grading"
	syncx "github.com/scormetry/scormetry/internal/sync"
)

// ---- fakes ----

type fakeCache struct {
	mu   sync.Mutex
	data map[string]*grading.ScoreReport
	hits int
	err  error
}

func (c *fakeCache) Get(_ context.Context, k string) (*grading.ScoreReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	rep, ok := c.data[k]
	if ok {
		c.hits++
	}
	return rep, ok, nil
}

func (c *fakeCache) Set(_ context.Context, k string, rep *grading.ScoreReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.data == nil {
		c.data = map[string]*grading.ScoreReport{}
	}
	c.data[k] = rep
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []syncx.Event
	err    error
}

func (f *fakeEvents) Append(_ context.Context, e syncx.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

// ---- fixtures ----

func teamRubric() grading.Rubric {
	return grading.Rubric{
		ID:           "rb-team",
		Name:         "Team project",
		HasWeightage: true,
		Sections: []grading.Section{
			{ID: "s-team", Name: "Team", ScorePercentage: 30, IsGroupScore: true,
				Criteria: []grading.Criterion{{ID: "g1", Name: "Delivery", MinScore: 0, MaxScore: 10}}},
			{ID: "s-self", Name: "Individual", ScorePercentage: 70,
				Criteria: []grading.Criterion{{ID: "i1", Name: "Contribution", MinScore: 0, MaxScore: 10}}},
		},
	}
}

func teamEntries(groupID string) []grading.ScoreEntry {
	return []grading.ScoreEntry{
		{AssigneeID: groupID, Type: grading.EntityGroup, Scores: []grading.CriterionScore{{RubricCriteriaID: "g1", Score: 8}}},
		{AssigneeID: "x", Type: grading.EntityIndividual, Scores: []grading.CriterionScore{{RubricCriteriaID: "i1", Score: 10}}},
		{AssigneeID: "y", Type: grading.EntityIndividual, Scores: []grading.CriterionScore{{RubricCriteriaID: "i1", Score: 4}}},
	}
}

type env struct {
	svc    *activity.Service
	cache  *fakeCache
	events *fakeEvents
	act    activity.Activity
	group  activity.Group
}

func newEnv(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	cache := &fakeCache{}
	events := &fakeEvents{}
	svc := activity.NewService(activity.NewInMemoryStore(), activity.WithCache(cache), activity.WithEvents(events))

	r, err := svc.CreateRubric(ctx, teamRubric())
	require.NoError(t, err)
	act, err := svc.CreateActivity(ctx, activity.Activity{
		ClassroomID: "c1",
		Title:       "Robotics build",
		ScoringType: activity.ScoringRubric,
		RubricID:    r.ID,
		IsGroup:     true,
		CreatedBy:   "t1",
	})
	require.NoError(t, err)
	g, err := svc.CreateGroup(ctx, act.ID, activity.Group{
		Name:    "Falcons",
		Members: []activity.Member{{StudentID: "x"}, {StudentID: "y"}},
		Judges:  []string{"j1"},
	})
	require.NoError(t, err)
	return env{svc: svc, cache: cache, events: events, act: act, group: g}
}

func assertValidation(t *testing.T, err error, field string) {
	t.Helper()
	var verr *grading.ValidationError
	require.True(t, errors.As(err, &verr), "want *ValidationError, got %v", err)
	var got []string
	for _, f := range verr.Fields {
		got = append(got, f.Field)
	}
	assert.Contains(t, got, field)
}

// ---- tests ----

func TestSaveScores_GroupReport(t *testing.T) {
	e := newEnv(t)

	rep, err := e.svc.SaveScores(context.Background(), activity.SaveInput{
		ActivityID: e.act.ID,
		JudgeID:    "j1",
		EntityType: grading.EntityGroup,
		EntityID:   e.group.ID,
		Entries:    teamEntries(e.group.ID),
		Comment:    "solid work",
	})
	require.NoError(t, err)

	require.NotNil(t, rep.GroupScore)
	assert.InDelta(t, 80, *rep.GroupScore, 1e-9)
	require.NotNil(t, rep.OverallScore)
	assert.InDelta(t, 73, *rep.OverallScore, 1e-9)

	require.Len(t, e.events.events, 1)
	ev := e.events.events[0]
	assert.Equal(t, syncx.TypeScoresSaved, ev.Type)
	assert.Equal(t, e.act.ID+"/group/"+e.group.ID, ev.Key)
	assert.Contains(t, ev.DataJSON, `"judge_id":"j1"`)
}

func TestSaveScores_EventFailureDoesNotFailSave(t *testing.T) {
	e := newEnv(t)
	e.events.err = errors.New("disk full")

	_, err := e.svc.SaveScores(context.Background(), activity.SaveInput{
		ActivityID: e.act.ID, JudgeID: "j1", EntityType: grading.EntityGroup, EntityID: e.group.ID,
		Entries: teamEntries(e.group.ID),
	})
	require.NoError(t, err)

	got, err := e.svc.Report(context.Background(), e.act.ID, "j1", grading.EntityGroup, e.group.ID)
	require.NoError(t, err)
	assert.Len(t, got.Entries, 3)
}

func TestSaveScores_JudgeNotPermitted(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.SaveScores(context.Background(), activity.SaveInput{
		ActivityID: e.act.ID, JudgeID: "j2", EntityType: grading.EntityGroup, EntityID: e.group.ID,
		Entries: teamEntries(e.group.ID),
	})
	assert.ErrorIs(t, err, activity.ErrForbidden)
	assert.Empty(t, e.events.events)
}

func TestSaveScores_Rejects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		entries []grading.ScoreEntry
		field   string
	}{
		{
			name: "out of range",
			entries: []grading.ScoreEntry{{AssigneeID: "x", Type: grading.EntityIndividual,
				Scores: []grading.CriterionScore{{RubricCriteriaID: "i1", Score: 12}}}},
			field: "entries[0].scores[0].score",
		},
		{
			name: "stranger",
			entries: []grading.ScoreEntry{{AssigneeID: "z", Type: grading.EntityIndividual,
				Scores: []grading.CriterionScore{{RubricCriteriaID: "i1", Score: 2}}}},
			field: "entries[0].assignee_id",
		},
		{
			name: "other group",
			entries: []grading.ScoreEntry{{AssigneeID: "grp-other", Type: grading.EntityGroup,
				Scores: []grading.CriterionScore{{RubricCriteriaID: "g1", Score: 2}}}},
			field: "entries[0].assignee_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.SaveScores(ctx, activity.SaveInput{
				ActivityID: e.act.ID, JudgeID: "j1", EntityType: grading.EntityGroup, EntityID: e.group.ID,
				Entries: tt.entries,
			})
			assertValidation(t, err, tt.field)
		})
	}

	_, err := e.svc.SaveScores(ctx, activity.SaveInput{
		ActivityID: e.act.ID, JudgeID: "j1", EntityType: grading.EntityIndividual, EntityID: "x",
	})
	assertValidation(t, err, "entity_type")

	_, err = e.svc.SaveScores(ctx, activity.SaveInput{
		ActivityID: e.act.ID, JudgeID: "j1", EntityType: grading.EntityGroup, EntityID: "missing",
	})
	assert.ErrorIs(t, err, activity.ErrNotFound)

	_, err = e.svc.SaveScores(ctx, activity.SaveInput{ActivityID: "nope", JudgeID: "j1", EntityType: grading.EntityGroup})
	assert.ErrorIs(t, err, activity.ErrNotFound)
}

func TestPreview_UsesCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.svc.Preview(ctx, e.act.ID, "j1", grading.EntityGroup, e.group.ID, teamEntries(e.group.ID))
	require.NoError(t, err)
	second, err := e.svc.Preview(ctx, e.act.ID, "j1", grading.EntityGroup, e.group.ID, teamEntries(e.group.ID))
	require.NoError(t, err)

	assert.Equal(t, 1, e.cache.hits)
	assert.Equal(t, first.OverallScore, second.OverallScore)
	assert.Empty(t, e.events.events, "preview must not write")

	got, err := e.svc.Report(ctx, e.act.ID, "j1", grading.EntityGroup, e.group.ID)
	require.NoError(t, err)
	assert.False(t, got.Report.Graded())
}

func TestPreview_CacheErrorFallsBack(t *testing.T) {
	e := newEnv(t)
	e.cache.err = errors.New("redis down")

	rep, err := e.svc.Preview(context.Background(), e.act.ID, "j1", grading.EntityGroup, e.group.ID, teamEntries(e.group.ID))
	require.NoError(t, err)
	require.NotNil(t, rep.OverallScore)
	assert.InDelta(t, 73, *rep.OverallScore, 1e-9)
}

func TestReport_PerJudge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.SaveScores(ctx, activity.SaveInput{
		ActivityID: e.act.ID, JudgeID: "j1", EntityType: grading.EntityGroup, EntityID: e.group.ID,
		Entries: teamEntries(e.group.ID), Comment: "ok",
	})
	require.NoError(t, err)

	got, err := e.svc.Report(ctx, e.act.ID, "j1", grading.EntityGroup, e.group.ID)
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Comment)
	assert.True(t, got.Entity.PermittedToJudge)
	require.NotNil(t, got.Report.OverallScore)
	assert.InDelta(t, 73, *got.Report.OverallScore, 1e-9)

	other, err := e.svc.Report(ctx, e.act.ID, "j9", grading.EntityGroup, e.group.ID)
	require.NoError(t, err)
	assert.False(t, other.Entity.PermittedToJudge)
	assert.False(t, other.Report.Graded())
}

func TestStudentGrades_OwnScoresOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.SaveScores(ctx, activity.SaveInput{
		ActivityID: e.act.ID, JudgeID: "j1", EntityType: grading.EntityGroup, EntityID: e.group.ID,
		Entries: teamEntries(e.group.ID),
	})
	require.NoError(t, err)

	grades, err := e.svc.StudentGrades(ctx, e.act.ID, "y")
	require.NoError(t, err)
	require.Len(t, grades, 1)
	rep := grades[0].Report
	require.Len(t, rep.IndividualScores, 1)
	assert.Equal(t, "y", rep.IndividualScores[0].StudentID)
	assert.InDelta(t, 40, rep.IndividualScores[0].Score, 1e-9)
	require.NotNil(t, rep.GroupScore)
	assert.InDelta(t, 80, *rep.GroupScore, 1e-9)

	none, err := e.svc.StudentGrades(ctx, e.act.ID, "outsider")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRangeActivity(t *testing.T) {
	ctx := context.Background()
	svc := activity.NewService(activity.NewInMemoryStore())
	act, err := svc.CreateActivity(ctx, activity.Activity{
		ClassroomID: "c1", Title: "Quiz", ScoringType: activity.ScoringRange, RangeMin: 0, RangeMax: 20,
	})
	require.NoError(t, err)

	rep, err := svc.SaveScores(ctx, activity.SaveInput{
		ActivityID: act.ID, JudgeID: "t1", EntityType: grading.EntityIndividual, EntityID: "s1",
		Entries: []grading.ScoreEntry{{AssigneeID: "s1", Type: grading.EntityIndividual,
			Scores: []grading.CriterionScore{{RubricCriteriaID: act.ID, Score: 15}}}},
	})
	require.NoError(t, err)
	require.NotNil(t, rep.OverallScore)
	assert.InDelta(t, 75, *rep.OverallScore, 1e-9)
	assert.Nil(t, rep.GroupScore)

	grades, err := svc.StudentGrades(ctx, act.ID, "s1")
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.InDelta(t, 75, *grades[0].Report.OverallScore, 1e-9)
}

func TestCreateActivity_Validation(t *testing.T) {
	ctx := context.Background()
	svc := activity.NewService(activity.NewInMemoryStore())
	r, err := svc.CreateRubric(ctx, teamRubric())
	require.NoError(t, err)

	_, err = svc.CreateActivity(ctx, activity.Activity{ClassroomID: "c1", Title: "A", ScoringType: activity.ScoringRubric, RubricID: "nope", IsGroup: true})
	assertValidation(t, err, "rubric_id")

	_, err = svc.CreateActivity(ctx, activity.Activity{ClassroomID: "c1", Title: "A", ScoringType: activity.ScoringRubric, RubricID: r.ID})
	assertValidation(t, err, "rubric_id")

	_, err = svc.CreateActivity(ctx, activity.Activity{ClassroomID: "c1", Title: "A", ScoringType: activity.ScoringRange, RangeMin: 5, RangeMax: 5})
	assertValidation(t, err, "range_max")

	_, err = svc.CreateActivity(ctx, activity.Activity{ClassroomID: "c1", ScoringType: "points"})
	assertValidation(t, err, "title")
}

func TestCreateRubric_Malformed(t *testing.T) {
	svc := activity.NewService(activity.NewInMemoryStore())
	r := teamRubric()
	r.Sections[0].Criteria[0].MaxScore = 0

	_, err := svc.CreateRubric(context.Background(), r)
	assert.ErrorIs(t, err, grading.ErrMalformedRubric)
}

func TestCreateGroup_StudentInTwoGroups(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.CreateGroup(context.Background(), e.act.ID, activity.Group{
		Name:    "Owls",
		Members: []activity.Member{{StudentID: "w"}, {StudentID: "x"}},
	})
	assertValidation(t, err, "members[1].student_id")
}

func TestCreateGroup_ForeignGroupID(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	other, err := e.svc.CreateActivity(ctx, activity.Activity{
		ClassroomID: "c1",
		Title:       "Second build",
		ScoringType: activity.ScoringRange,
		RangeMax:    10,
		IsGroup:     true,
	})
	require.NoError(t, err)

	_, err = e.svc.CreateGroup(ctx, other.ID, activity.Group{
		ID:      e.group.ID,
		Name:    "Owls",
		Members: []activity.Member{{StudentID: "q"}},
	})
	assert.ErrorIs(t, err, activity.ErrNotFound)

	groups, err := e.svc.Store().ListGroups(ctx, e.act.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, e.group, groups[0])
	groups, err = e.svc.Store().ListGroups(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestCreateGroup_UpdateOwnGroup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.group.Name = "Falcons II"
	e.group.Members = []activity.Member{{StudentID: "x"}}

	g, err := e.svc.CreateGroup(ctx, e.act.ID, e.group)
	require.NoError(t, err)
	assert.Equal(t, e.group.ID, g.ID)

	groups, err := e.svc.Store().ListGroups(ctx, e.act.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Falcons II", groups[0].Name)
}

func TestBand(t *testing.T) {
	ctx := context.Background()
	svc := activity.NewService(activity.NewInMemoryStore())
	r := teamRubric()
	r.Sections[1].Criteria[0].ScoreRanges = []grading.CriteriaScoreRange{
		{ID: "low", Name: "Developing", MinScore: 0, MaxScore: 5},
		{ID: "high", Name: "Proficient", MinScore: 6, MaxScore: 10},
	}
	_, err := svc.CreateRubric(ctx, r)
	require.NoError(t, err)

	band, err := svc.Band(ctx, r.ID, "i1", 7)
	require.NoError(t, err)
	require.NotNil(t, band)
	assert.Equal(t, "Proficient", band.Name)

	band, err = svc.Band(ctx, r.ID, "i1", 5.5)
	require.NoError(t, err)
	assert.Nil(t, band)

	_, err = svc.Band(ctx, r.ID, "zz", 1)
	assert.ErrorIs(t, err, activity.ErrNotFound)
}
