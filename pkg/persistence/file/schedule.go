package file

import (
	"context"
	"time"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
)

const kindSchedules = "schedules"

// ScheduleRepository stores schedule trigger records. AdvanceNextRun is the
// fencing primitive: the store lock makes the compare-and-set atomic.
type ScheduleRepository struct {
	store *Persistence
}

func (r *ScheduleRepository) Save(_ context.Context, schedule *models.Schedule) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeEntity(kindSchedules, schedule.ID, schedule)
}

func (r *ScheduleRepository) GetByID(_ context.Context, id string) (*models.Schedule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getLocked(id)
}

func (r *ScheduleRepository) getLocked(id string) (*models.Schedule, error) {
	schedule := &models.Schedule{}

	err := r.store.readEntity(kindSchedules, id, schedule)
	if err != nil {
		if notExist(err) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, err
	}

	return schedule, nil
}

func (r *ScheduleRepository) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, err := r.getLocked(id); err != nil {
		return err
	}

	return r.store.deleteEntity(kindSchedules, id)
}

func (r *ScheduleRepository) ActiveSchedules(_ context.Context) ([]*models.Schedule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids, err := r.store.listIDs(kindSchedules)
	if err != nil {
		return nil, err
	}

	active := make([]*models.Schedule, 0, len(ids))

	for _, id := range ids {
		schedule, err := r.getLocked(id)
		if err != nil {
			return nil, err
		}

		if schedule.IsActive {
			active = append(active, schedule)
		}
	}

	return active, nil
}

func (r *ScheduleRepository) ForWorkflow(_ context.Context, workflowID string) ([]*models.Schedule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids, err := r.store.listIDs(kindSchedules)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Schedule, 0)

	for _, id := range ids {
		schedule, err := r.getLocked(id)
		if err != nil {
			return nil, err
		}

		if schedule.WorkflowID == workflowID {
			matched = append(matched, schedule)
		}
	}

	return matched, nil
}

func (r *ScheduleRepository) AdvanceNextRun(_ context.Context, id string, from, to time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	schedule, err := r.getLocked(id)
	if err != nil {
		return false, err
	}

	if !schedule.NextRunAt.Equal(from) {
		return false, nil
	}

	schedule.NextRunAt = to
	schedule.UpdatedAt = time.Now().UTC()

	return true, r.store.writeEntity(kindSchedules, id, schedule)
}
