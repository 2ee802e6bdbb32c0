package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// Schedule is the trigger side record for a schedule-triggered workflow. It
// stores the cron expression together with a precomputed NextRunAt so the
// dispatcher can keep a single time-ordered queue instead of one timer per
// schedule. At most one active Schedule exists per workflow.
type Schedule struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflow_id"     validate:"required"`
	CronExpression string     `json:"cron_expression" validate:"required"`
	Timezone       string     `json:"timezone"`
	NextRunAt      time.Time  `json:"next_run_at"`
	StartsAt       *time.Time `json:"starts_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewSchedule creates an active schedule with the first run time computed
// from now in the schedule's timezone.
func NewSchedule(id, workflowID, cronExpression, timezone string) (*Schedule, error) {
	now := time.Now().UTC()
	schedule := &Schedule{
		ID:             id,
		WorkflowID:     workflowID,
		CronExpression: cronExpression,
		Timezone:       timezone,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	next, err := schedule.NextAfter(now)
	if err != nil {
		return nil, err
	}

	schedule.NextRunAt = next

	return schedule, nil
}

// NextAfter computes the next cron occurrence strictly after the reference
// time, evaluated in the schedule's timezone. A schedule with a StartsAt in
// the future advances from the window start instead.
func (s *Schedule) NextAfter(reference time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	cronSchedule, err := parser.Parse(s.CronExpression)
	if err != nil {
		return time.Time{}, err
	}

	loc := time.UTC

	if s.Timezone != "" {
		loc, err = time.LoadLocation(s.Timezone)
		if err != nil {
			return time.Time{}, err
		}
	}

	if s.StartsAt != nil && s.StartsAt.After(reference) {
		reference = *s.StartsAt
	}

	return cronSchedule.Next(reference.In(loc)).UTC(), nil
}

// Advance moves NextRunAt to the occurrence following the reference time.
// The dispatcher persists the advance before enqueuing the execution, so a
// repeated tick for the same occurrence finds NextRunAt already in the
// future.
func (s *Schedule) Advance(reference time.Time) error {
	next, err := s.NextAfter(reference)
	if err != nil {
		return err
	}

	s.NextRunAt = next
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// IsDue reports whether the schedule should fire at the given instant.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.IsActive || s.NextRunAt.After(now) {
		return false
	}

	return s.InWindow(now)
}

// InWindow reports whether now falls inside the optional starts/ends window.
func (s *Schedule) InWindow(now time.Time) bool {
	if s.StartsAt != nil && now.Before(*s.StartsAt) {
		return false
	}

	if s.EndsAt != nil && now.After(*s.EndsAt) {
		return false
	}

	return true
}

// Expired reports whether the schedule's window has closed for good.
func (s *Schedule) Expired(now time.Time) bool {
	return s.EndsAt != nil && now.After(*s.EndsAt)
}

// Validate checks the schedule fields, including the cron expression and
// timezone.
func (s *Schedule) Validate() error {
	if s.ID == "" || s.WorkflowID == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(s.CronExpression); err != nil {
		return err
	}

	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return err
		}
	}

	return nil
}
