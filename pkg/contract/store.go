package contract

import (
	"context"
	"time"

	"contract-mesh/pkg/model"
)

// Store persists contracts. Implementations return *errs.NotFoundError for
// unknown ids and *errs.ValidationError for rejected writes.
type Store interface {
	Create(ctx context.Context, c model.Contract) (model.Contract, error)
	FindByID(ctx context.Context, id string) (model.Contract, error)
	Find(ctx context.Context, f Filter) ([]model.Contract, error)
	UpdateByID(ctx context.Context, id string, p Patch) (model.Contract, error)
	DeleteByID(ctx context.Context, id string) error
}

// Filter narrows Find. Zero fields match everything. Results are sorted by id.
type Filter struct {
	State           model.State
	ScheduledBefore *time.Time // scheduledAt set and not after this time
	Condition       *ConditionMatch
}

// ConditionMatch selects contracts having a condition whose field and value
// both equal these.
type ConditionMatch struct {
	Field any
	Value any
}

// Patch lists the mutable fields of a stored contract. Nil fields are kept.
type Patch struct {
	State       *model.State
	ExecutedAt  *time.Time
	ScheduledAt *time.Time
}

// Matches reports whether c passes f.
func (f Filter) Matches(c model.Contract) bool {
	if f.State != "" && c.State != f.State {
		return false
	}
	if f.ScheduledBefore != nil {
		at := c.Timestamps.ScheduledAt
		if at == nil || at.After(*f.ScheduledBefore) {
			return false
		}
	}
	if f.Condition != nil && !hasCondition(c, *f.Condition) {
		return false
	}
	return true
}

func hasCondition(c model.Contract, m ConditionMatch) bool {
	for _, cond := range c.Conditions {
		if Equal(cond.Field, m.Field) && Equal(cond.Value, m.Value) {
			return true
		}
	}
	return false
}

func (p Patch) apply(c *model.Contract, now time.Time) {
	if p.State != nil {
		c.State = *p.State
	}
	if p.ExecutedAt != nil {
		t := *p.ExecutedAt
		c.Timestamps.ExecutedAt = &t
	}
	if p.ScheduledAt != nil {
		t := *p.ScheduledAt
		c.Timestamps.ScheduledAt = &t
	}
	c.Timestamps.UpdatedAt = now
}

// prepare fills defaults for a new contract and validates it.
func prepare(c model.Contract, id string, now time.Time) (model.Contract, error) {
	if c.ID == "" {
		c.ID = id
	}
	if c.State == "" {
		c.State = model.StateInactive
	}
	if err := Validate(c); err != nil {
		return model.Contract{}, err
	}
	if c.Timestamps.CreatedAt.IsZero() {
		c.Timestamps.CreatedAt = now
	}
	c.Timestamps.UpdatedAt = now
	return c, nil
}
