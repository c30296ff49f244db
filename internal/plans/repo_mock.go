package plans

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Repository = (*repoMock)(nil)

// repoMock is an in-memory Repository used by handler and projection
// tests. It follows the same stamping and ordering rules as the real
// repos so tests can assert on the returned aggregates.
type repoMock struct {
	Plans map[string]Plan
	Err   error // when set, every operation fails with it
	mutex sync.Mutex
	now   func() time.Time
}

func NewRepoMock() *repoMock {
	return &repoMock{
		Plans: map[string]Plan{},
		now:   time.Now,
	}
}

func (r *repoMock) Get(_ context.Context, planID string) (*Plan, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}

	plan, ok := r.Plans[planID]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return &plan, nil
}

func (r *repoMock) List(_ context.Context) ([]Plan, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}

	plans := make([]Plan, 0, len(r.Plans))
	for _, plan := range r.Plans {
		plans = append(plans, plan)
	}
	sort.Slice(plans, func(i, j int) bool {
		if !plans[i].UpdatedAt.Equal(plans[j].UpdatedAt) {
			return plans[i].UpdatedAt.After(plans[j].UpdatedAt)
		}
		return plans[i].ID < plans[j].ID
	})
	return plans, nil
}

func (r *repoMock) Upsert(_ context.Context, plan Plan) (*Plan, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}

	var storedCreatedAt time.Time
	if stored, ok := r.Plans[plan.ID]; ok {
		storedCreatedAt = stored.CreatedAt
	}
	stampForWrite(&plan, storedCreatedAt, r.now().UTC())

	r.Plans[plan.ID] = plan
	return &plan, nil
}

func (r *repoMock) Delete(_ context.Context, planID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.Err != nil {
		return r.Err
	}

	delete(r.Plans, planID)
	return nil
}
