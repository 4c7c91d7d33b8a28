package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contract-mesh/pkg/contract"
	"contract-mesh/pkg/engine"
	"contract-mesh/pkg/model"
)

type fakeExecutor struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeExecutor) Execute(_ context.Context, id string) engine.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return engine.Result{Success: true}
}

func seed(t *testing.T) (*contract.MemoryStore, time.Time) {
	t.Helper()
	st := contract.NewMemoryStore()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	early, late := base.Add(-time.Minute), base.Add(time.Minute)
	add := func(id string, state model.State, at *time.Time, field, value any) {
		_, err := st.Create(context.Background(), model.Contract{
			ID:         id,
			Name:       id,
			State:      state,
			Conditions: []model.Condition{{Field: field, Operator: model.OpEq, Value: value}},
			Actions:    []model.Action{{Type: "noop"}},
			Timestamps: model.Timestamps{ScheduledAt: at},
		})
		require.NoError(t, err)
	}
	add("due-1", model.StateActive, &early, "temp", 30.0)
	add("due-2", model.StateActive, &base, "humidity", 80.0)
	add("later", model.StateActive, &late, "temp", 30.0)
	add("inactive", model.StateInactive, &early, "temp", 30.0)
	return st, base
}

func TestProcessorContractTrigger(t *testing.T) {
	st, _ := seed(t)
	exec := &fakeExecutor{}
	p := NewProcessor(exec, st, zerolog.Nop())

	require.NoError(t, p.Handle(context.Background(), ContractTrigger{ContractID: "anything"}))
	assert.Equal(t, []string{"anything"}, exec.ids)
}

func TestProcessorTimeTrigger(t *testing.T) {
	st, base := seed(t)
	exec := &fakeExecutor{}
	p := NewProcessor(exec, st, zerolog.Nop())

	require.NoError(t, p.Handle(context.Background(), TimeTrigger{Timestamp: base}))
	assert.Equal(t, []string{"due-1", "due-2"}, exec.ids)
}

func TestProcessorStateChangeTrigger(t *testing.T) {
	st, _ := seed(t)
	exec := &fakeExecutor{}
	p := NewProcessor(exec, st, zerolog.Nop())

	require.NoError(t, p.Handle(context.Background(), StateChangeTrigger{Field: "temp", Value: 30}))
	assert.Equal(t, []string{"due-1", "later"}, exec.ids)
}

func TestProcessorThroughBus(t *testing.T) {
	st, base := seed(t)
	exec := &fakeExecutor{}
	p := NewProcessor(exec, st, zerolog.Nop())
	bus := NewBus(4, zerolog.Nop())
	require.NoError(t, p.Register(bus))
	require.NoError(t, bus.Start(context.Background()))

	require.NoError(t, bus.Publish(context.Background(), TimeTrigger{Timestamp: base}))
	require.NoError(t, bus.Publish(context.Background(), ContractTrigger{ContractID: "x"}))
	bus.Close()

	assert.Equal(t, []string{"due-1", "due-2", "x"}, exec.ids)
}

type capturePublisher struct {
	events []Event
}

func (c *capturePublisher) Publish(_ context.Context, ev Event) error {
	c.events = append(c.events, ev)
	return nil
}

func TestSchedulerTick(t *testing.T) {
	pub := &capturePublisher{}
	s := NewScheduler(pub, time.Minute, zerolog.Nop())
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, []Event{TimeTrigger{Timestamp: at}}, pub.events)
}
