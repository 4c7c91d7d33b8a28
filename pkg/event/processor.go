package event

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"contract-mesh/pkg/contract"
	"contract-mesh/pkg/engine"
	"contract-mesh/pkg/model"
)

// Executor runs one contract.
type Executor interface {
	Execute(ctx context.Context, id string) engine.Result
}

// Processor turns events into contract executions.
type Processor struct {
	exec      Executor
	contracts contract.Store
	log       zerolog.Logger
}

func NewProcessor(exec Executor, contracts contract.Store, log zerolog.Logger) *Processor {
	return &Processor{
		exec:      exec,
		contracts: contracts,
		log:       log.With().Str("component", "processor").Logger(),
	}
}

// Register subscribes the processor to every event kind.
func (p *Processor) Register(bus *Bus) error {
	for kind, h := range map[Kind]Handler{
		KindContract:    p.Handle,
		KindTime:        p.Handle,
		KindStateChange: p.Handle,
	} {
		if err := bus.Subscribe(kind, h); err != nil {
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}
	}
	return nil
}

func (p *Processor) Handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case ContractTrigger:
		p.run(ctx, e.ContractID)
		return nil
	case TimeTrigger:
		return p.runAll(ctx, contract.Filter{State: model.StateActive, ScheduledBefore: &e.Timestamp}, ev)
	case StateChangeTrigger:
		return p.runAll(ctx, contract.Filter{
			State:     model.StateActive,
			Condition: &contract.ConditionMatch{Field: e.Field, Value: e.Value},
		}, ev)
	}
	return fmt.Errorf("unhandled event %T", ev)
}

// runAll executes matching contracts one after another.
func (p *Processor) runAll(ctx context.Context, f contract.Filter, ev Event) error {
	matches, err := p.contracts.Find(ctx, f)
	if err != nil {
		return fmt.Errorf("find contracts for %s: %w", ev.Kind(), err)
	}
	p.log.Info().Str("kind", string(ev.Kind())).Int("matches", len(matches)).Msg("processing event")
	for _, c := range matches {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.run(ctx, c.ID)
	}
	return nil
}

func (p *Processor) run(ctx context.Context, id string) engine.Result {
	res := p.exec.Execute(ctx, id)
	if res.Success {
		p.log.Info().Str("contract_id", id).Msg("contract executed")
	} else {
		p.log.Warn().Str("contract_id", id).Str("reason", res.Message).Msg("contract execution failed")
	}
	return res
}
