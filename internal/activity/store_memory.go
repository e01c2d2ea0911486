package activity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scormetry/scormetry/internal/grading"
)

type memoryStore struct {
	mu          sync.RWMutex
	rubrics     map[string]grading.Rubric
	rubricTimes map[string]int64
	activities  map[string]Activity
	groups      map[string][]Group // by activity
	submissions map[SubmissionKey]Submission
}

func NewInMemoryStore() Store {
	return &memoryStore{
		rubrics:     map[string]grading.Rubric{},
		rubricTimes: map[string]int64{},
		activities:  map[string]Activity{},
		groups:      map[string][]Group{},
		submissions: map[SubmissionKey]Submission{},
	}
}

func (m *memoryStore) PutRubric(_ context.Context, r grading.Rubric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rubrics[r.ID] = r
	if _, ok := m.rubricTimes[r.ID]; !ok {
		m.rubricTimes[r.ID] = time.Now().Unix()
	}
	return nil
}

func (m *memoryStore) GetRubric(_ context.Context, id string) (grading.Rubric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rubrics[id]
	if !ok {
		return grading.Rubric{}, ErrNotFound
	}
	return r, nil
}

func (m *memoryStore) ListRubrics(_ context.Context, opts ListOpts) ([]RubricSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RubricSummary, 0, len(m.rubrics))
	for id, r := range m.rubrics {
		out = append(out, RubricSummary{ID: id, Name: r.Name, CreatedAt: m.rubricTimes[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, opts), nil
}

func (m *memoryStore) PutActivity(_ context.Context, a Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}
	m.activities[a.ID] = a
	return nil
}

func (m *memoryStore) GetActivity(_ context.Context, id string) (Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.activities[id]
	if !ok {
		return Activity{}, ErrNotFound
	}
	return a, nil
}

func (m *memoryStore) ListActivities(_ context.Context, opts ListOpts) ([]Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Activity{}
	for _, a := range m.activities {
		if opts.ClassroomID != "" && a.ClassroomID != opts.ClassroomID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return page(out, opts), nil
}

func (m *memoryStore) PutGroup(_ context.Context, g Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.activities[g.ActivityID]; !ok {
		return ErrNotFound
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	for aid, gs := range m.groups {
		if aid == g.ActivityID {
			continue
		}
		for _, other := range gs {
			if other.ID == g.ID {
				return ErrNotFound
			}
		}
	}
	gs := m.groups[g.ActivityID]
	for i := range gs {
		if gs[i].ID == g.ID {
			gs[i] = g
			return nil
		}
	}
	m.groups[g.ActivityID] = append(gs, g)
	return nil
}

func (m *memoryStore) ListGroups(_ context.Context, activityID string) ([]Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Group{}, m.groups[activityID]...), nil
}

func (m *memoryStore) GroupForStudent(_ context.Context, activityID, studentID string) (Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.groups[activityID] {
		if g.HasMember(studentID) {
			return g, nil
		}
	}
	return Group{}, ErrNotFound
}

func (m *memoryStore) SaveSubmission(_ context.Context, s Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.UpdatedAt == 0 {
		s.UpdatedAt = time.Now().Unix()
	}
	m.submissions[SubmissionKey{s.ActivityID, s.JudgeID, s.EntityType, s.EntityID}] = s
	return nil
}

func (m *memoryStore) GetSubmission(_ context.Context, key SubmissionKey) (Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[key]
	if !ok {
		return Submission{}, ErrNotFound
	}
	return s, nil
}

func (m *memoryStore) ListSubmissions(_ context.Context, activityID string, typ grading.EntityType, entityID string) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Submission
	for k, s := range m.submissions {
		if k.ActivityID == activityID && k.EntityType == typ && k.EntityID == entityID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JudgeID < out[j].JudgeID })
	return out, nil
}

func page[T any](xs []T, opts ListOpts) []T {
	limit := clampLimit(opts.Limit)
	if opts.Offset >= len(xs) {
		return []T{}
	}
	xs = xs[max(opts.Offset, 0):]
	if len(xs) > limit {
		xs = xs[:limit]
	}
	return xs
}
