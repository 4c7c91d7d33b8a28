package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contract-mesh/pkg/contract"
	"contract-mesh/pkg/model"
	"contract-mesh/pkg/nodeclient"
	"contract-mesh/pkg/nodeclient/fakenode"
	"contract-mesh/pkg/replica"
	"contract-mesh/pkg/store"
)

type recorder struct {
	mu       sync.Mutex
	payloads map[string][]model.Payload
}

func (r *recorder) Record(_ context.Context, id string, p model.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.payloads == nil {
		r.payloads = map[string][]model.Payload{}
	}
	r.payloads[id] = append(r.payloads[id], p)
	return nil
}

type calls struct {
	mu    sync.Mutex
	types []string
}

func (c *calls) handler(fail bool) Handler {
	return HandlerFunc(func(_ context.Context, _ model.Contract, a model.Action) error {
		c.mu.Lock()
		c.types = append(c.types, a.Type)
		c.mu.Unlock()
		if fail {
			return errors.New("boom")
		}
		return nil
	})
}

var clock = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, state model.State, conds []model.Condition, actions ...model.Action) (*Engine, *contract.MemoryStore, *recorder, *calls, string) {
	t.Helper()
	st := contract.NewMemoryStore()
	c, err := st.Create(context.Background(), model.Contract{
		Name:       "test",
		Conditions: conds,
		Actions:    actions,
		State:      state,
	})
	require.NoError(t, err)

	rec := &recorder{}
	seen := &calls{}
	h := NewHandlers()
	h.Register("ok", seen.handler(false))
	h.Register("fail", seen.handler(true))
	e := New(st, rec, WithHandlers(h), WithLogger(zerolog.Nop()), WithClock(func() time.Time { return clock }))
	return e, st, rec, seen, c.ID
}

func ge(field, value any) []model.Condition {
	return []model.Condition{{Field: field, Operator: model.OpGe, Value: value}}
}

func TestExecuteCompletesWhenConditionsHold(t *testing.T) {
	e, st, rec, seen, id := setup(t, model.StateActive, ge(5.0, 3.0), model.Action{Type: "ok"})

	res := e.Execute(context.Background(), id)

	assert.True(t, res.Success)
	assert.Equal(t, MsgExecuted, res.Message)
	assert.Equal(t, []string{"ok"}, seen.types)
	c, _ := st.FindByID(context.Background(), id)
	assert.Equal(t, model.StateCompleted, c.State)
	require.NotNil(t, c.Timestamps.ExecutedAt)
	assert.Equal(t, clock, *c.Timestamps.ExecutedAt)
	require.Len(t, rec.payloads[id], 1)
	assert.Equal(t, model.StateCompleted, rec.payloads[id][0].StateName())
}

func TestExecuteConditionsNotMet(t *testing.T) {
	conds := []model.Condition{{Field: 5.0, Operator: model.OpLt, Value: 3.0}}
	e, st, rec, seen, id := setup(t, model.StateActive, conds, model.Action{Type: "ok"})

	res := e.Execute(context.Background(), id)

	assert.False(t, res.Success)
	assert.Equal(t, MsgConditions, res.Message)
	assert.Empty(t, seen.types)
	assert.Empty(t, rec.payloads)
	c, _ := st.FindByID(context.Background(), id)
	assert.Equal(t, model.StateActive, c.State)
}

func TestExecuteShortCircuitsConditions(t *testing.T) {
	conds := []model.Condition{
		{Field: 1.0, Operator: model.OpEq, Value: 2.0},
		{Field: 1.0, Operator: model.OpEq, Value: 1.0},
	}
	e, _, _, _, id := setup(t, model.StateActive, conds, model.Action{Type: "ok"})
	assert.Equal(t, MsgConditions, e.Execute(context.Background(), id).Message)
}

func TestExecuteRequiresActive(t *testing.T) {
	for _, s := range []model.State{model.StateInactive, model.StateCompleted, model.StateFailed} {
		t.Run(string(s), func(t *testing.T) {
			e, st, _, seen, id := setup(t, s, ge(5.0, 3.0), model.Action{Type: "ok"})

			res := e.Execute(context.Background(), id)

			assert.False(t, res.Success)
			assert.Equal(t, MsgNotActive, res.Message)
			assert.Empty(t, seen.types)
			c, _ := st.FindByID(context.Background(), id)
			assert.Equal(t, s, c.State)
		})
	}
}

func TestExecuteUnknownContract(t *testing.T) {
	e, _, _, _, _ := setup(t, model.StateActive, ge(1.0, 1.0), model.Action{Type: "ok"})
	res := e.Execute(context.Background(), "missing")
	assert.False(t, res.Success)
	assert.Equal(t, MsgNotFound, res.Message)
}

func TestExecuteActionFailuresDoNotAbort(t *testing.T) {
	e, st, _, seen, id := setup(t, model.StateActive, ge(5.0, 3.0),
		model.Action{Type: "fail"},
		model.Action{Type: "mystery"},
		model.Action{Type: "ok"},
	)

	res := e.Execute(context.Background(), id)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"fail", "ok"}, seen.types)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "fail")
	c, _ := st.FindByID(context.Background(), id)
	assert.Equal(t, model.StateCompleted, c.State)
}

func TestActivateAndFail(t *testing.T) {
	e, _, rec, _, id := setup(t, model.StateInactive, ge(1.0, 1.0), model.Action{Type: "ok"})
	ctx := context.Background()

	c, err := e.Activate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, c.State)

	_, err = e.Activate(ctx, id)
	assert.Error(t, err)

	c, err = e.Fail(ctx, id, "operator abort")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, c.State)

	_, err = e.Activate(ctx, id)
	assert.Error(t, err)

	require.Len(t, rec.payloads[id], 2)
	assert.Equal(t, "operator abort", rec.payloads[id][1]["reason"])
}

func TestConcurrentExecuteRunsOnce(t *testing.T) {
	e, _, _, seen, id := setup(t, model.StateActive, ge(1.0, 1.0), model.Action{Type: "ok"})
	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.Execute(context.Background(), id)
		}()
	}
	wg.Wait()

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, seen.types, 1)
	assert.Zero(t, e.locks.Len())
}

type staticNodes []model.Node

func (s staticNodes) GetActiveNodes(context.Context) []model.Node { return s }

func TestExecuteReplicatesToFleet(t *testing.T) {
	a := fakenode.New(t, "a")
	b := fakenode.New(t, "b")
	rep := replica.New(nodeclient.New(nil, time.Second), staticNodes{a.Model(), b.Model()}, replica.WithLogger(zerolog.Nop()))
	mgr := store.NewManager(store.NewMemoryStore(), rep, zerolog.Nop())

	st := contract.NewMemoryStore()
	c, err := st.Create(context.Background(), model.Contract{
		Name:       "pay",
		Conditions: ge(5.0, 3.0),
		Actions:    []model.Action{{Type: ActionUpdateBalance, Parameters: map[string]any{"amount": 25.0}}},
	})
	require.NoError(t, err)
	e := New(st, mgr, WithLogger(zerolog.Nop()))

	_, err = e.Activate(context.Background(), c.ID)
	require.NoError(t, err)
	res := e.Execute(context.Background(), c.ID)
	require.True(t, res.Success, res.Errors)
	assert.Empty(t, res.Errors)

	for _, n := range []*fakenode.Node{a, b} {
		got, ok := n.State(c.ID)
		require.True(t, ok)
		assert.Equal(t, "completed", got[model.PayloadStateName])
	}
	local, err := mgr.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, local.StateName())
}
