package contract

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/model"
)

func sample() model.Contract {
	return model.Contract{
		Name:       "pay out",
		Conditions: []model.Condition{{Field: 100.0, Operator: model.OpGe, Value: 50.0}},
		Actions:    []model.Action{{Type: "updateBalance", Parameters: map[string]any{"amount": 10.0}}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *model.Contract)
		ok     bool
	}{
		{"valid", func(*model.Contract) {}, true},
		{"string field", func(c *model.Contract) { c.Conditions[0].Field = "balance" }, true},
		{"empty name", func(c *model.Contract) { c.Name = " " }, false},
		{"no conditions", func(c *model.Contract) { c.Conditions = nil }, false},
		{"no actions", func(c *model.Contract) { c.Actions = nil }, false},
		{"bad operator", func(c *model.Contract) { c.Conditions[0].Operator = "=~" }, false},
		{"missing value", func(c *model.Contract) { c.Conditions[0].Value = nil }, false},
		{"missing field", func(c *model.Contract) { c.Conditions[0].Field = nil }, false},
		{"object value", func(c *model.Contract) { c.Conditions[0].Value = map[string]any{} }, false},
		{"empty action type", func(c *model.Contract) { c.Actions[0].Type = "" }, false},
		{"unknown state", func(c *model.Contract) { c.State = "paused" }, false},
		{"explicit state", func(c *model.Contract) { c.State = model.StateActive }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sample()
			tt.mutate(&c)
			err := Validate(c)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errs.IsValidation(err))
		})
	}
}

func TestValidateTransition(t *testing.T) {
	allowed := map[[2]model.State]bool{
		{model.StateInactive, model.StateActive}:  true,
		{model.StateActive, model.StateCompleted}: true,
		{model.StateActive, model.StateFailed}:    true,
	}
	for _, from := range model.States {
		for _, to := range model.States {
			err := ValidateTransition(from, to)
			if allowed[[2]model.State{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.True(t, errs.IsValidation(err), "%s -> %s", from, to)
			}
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		op   model.Operator
		l, r any
		want bool
	}{
		{model.OpEq, 1.0, 1, true},
		{model.OpEq, "5", 5.0, true},
		{model.OpEq, "a", "a", true},
		{model.OpEq, true, true, true},
		{model.OpEq, true, 1.0, false},
		{model.OpEq, "abc", 1.0, false},
		{model.OpNe, "abc", 1.0, true},
		{model.OpNe, 2.0, 2.0, false},
		{model.OpGt, 10.0, 9.5, true},
		{model.OpGt, "10", 9.0, true},
		{model.OpGe, 3.0, 3.0, true},
		{model.OpLt, "apple", "banana", true},
		{model.OpLe, 4.0, 3.0, false},
		{model.OpGt, true, false, false},
		{model.OpLt, "x", 1.0, false},
		{model.OpGt, json.Number("7"), 6.0, true},
		{"~", 1.0, 1.0, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Compare(tt.op, tt.l, tt.r), "%v %s %v", tt.l, tt.op, tt.r)
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	c, err := st.Create(ctx, sample())
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, model.StateInactive, c.State)
	assert.False(t, c.Timestamps.CreatedAt.IsZero())

	_, err = st.Create(ctx, model.Contract{ID: c.ID, Name: "dup", Conditions: c.Conditions, Actions: c.Actions})
	assert.True(t, errs.IsValidation(err))

	got, err := st.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	active := model.StateActive
	now := time.Now()
	updated, err := st.UpdateByID(ctx, c.ID, Patch{State: &active, ExecutedAt: &now})
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, updated.State)
	require.NotNil(t, updated.Timestamps.ExecutedAt)

	require.NoError(t, st.DeleteByID(ctx, c.ID))
	_, err = st.FindByID(ctx, c.ID)
	assert.True(t, errs.IsNotFound(err))
	assert.True(t, errs.IsNotFound(st.DeleteByID(ctx, c.ID)))
	_, err = st.UpdateByID(ctx, c.ID, Patch{})
	assert.True(t, errs.IsNotFound(err))
}

func TestMemoryStoreFind(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	early, late := base.Add(-time.Hour), base.Add(time.Hour)

	mk := func(id string, state model.State, at *time.Time, field, value any) {
		c := sample()
		c.ID, c.State = id, state
		c.Timestamps.ScheduledAt = at
		c.Conditions = []model.Condition{{Field: field, Operator: model.OpEq, Value: value}}
		_, err := st.Create(ctx, c)
		require.NoError(t, err)
	}
	mk("c1", model.StateActive, &early, "temp", 30.0)
	mk("c2", model.StateActive, &late, "temp", 31.0)
	mk("c3", model.StateInactive, &early, "temp", 30.0)
	mk("c4", model.StateActive, nil, "temp", "30")

	ids := func(cs []model.Contract) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.ID)
		}
		return out
	}

	due, err := st.Find(ctx, Filter{State: model.StateActive, ScheduledBefore: &base})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(due))

	matching, err := st.Find(ctx, Filter{State: model.StateActive, Condition: &ConditionMatch{Field: "temp", Value: 30}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c4"}, ids(matching))

	all, err := st.Find(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, ids(all))
}

func TestRowRoundTrip(t *testing.T) {
	c := sample()
	c.ID = "c-1"
	c.State = model.StateActive
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Timestamps = model.Timestamps{CreatedAt: at, UpdatedAt: at, ScheduledAt: &at}

	row, err := toRow(c)
	require.NoError(t, err)
	assert.Equal(t, "active", row.State)
	assert.JSONEq(t, `[{"field":100,"operator":">=","value":50}]`, row.Conditions)

	back, err := row.toModel()
	require.NoError(t, err)
	assert.Equal(t, c, back)
}
