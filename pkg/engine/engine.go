// Package engine evaluates contract conditions, runs their actions and
// drives the contract lifecycle.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"contract-mesh/pkg/contract"
	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/keylock"
	"contract-mesh/pkg/metrics"
	"contract-mesh/pkg/model"
)

// StateRecorder stores and replicates the payload produced by a transition.
type StateRecorder interface {
	Record(ctx context.Context, contractID string, p model.Payload) error
}

// Result is the outcome of one execution.
type Result struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

const (
	MsgExecuted      = "contract executed successfully"
	MsgNotFound      = "contract not found"
	MsgNotActive     = "contract must be active"
	MsgConditions    = "conditions not met"
	MsgPersistFailed = "error executing contract"
)

type Engine struct {
	contracts contract.Store
	state     StateRecorder
	handlers  *Handlers
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time

	locks keylock.Locker
}

type Option func(*Engine)

func WithHandlers(h *Handlers) Option {
	return func(e *Engine) { e.handlers = h }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine. Without WithHandlers it gets the built-in
// updateBalance and sendNotification handlers.
func New(contracts contract.Store, state StateRecorder, opts ...Option) *Engine {
	e := &Engine{
		contracts: contracts,
		state:     state,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("component", "engine").Logger()
	if e.handlers == nil {
		e.handlers = NewHandlers()
		e.handlers.Register(ActionUpdateBalance, UpdateBalance(NewLedger(), e.log))
		e.handlers.Register(ActionSendNotification, SendNotification(LogMessenger{Log: e.log}))
	}
	return e
}

func (e *Engine) Handlers() *Handlers { return e.handlers }

func (e *Engine) lock(id string) func() {
	return e.locks.Lock(id)
}

// Execute runs an active contract: conditions first, then every action in
// order, then the transition to completed. Action failures are reported in
// Result.Errors without failing the run.
func (e *Engine) Execute(ctx context.Context, id string) Result {
	unlock := e.lock(id)
	defer unlock()
	log := e.log.With().Str("contract_id", id).Logger()

	c, err := e.contracts.FindByID(ctx, id)
	if err != nil {
		e.metrics.Execution("rejected")
		if errs.IsNotFound(err) {
			log.Warn().Msg("execute of unknown contract")
			return Result{Message: MsgNotFound, Errors: []string{err.Error()}}
		}
		log.Error().Err(err).Msg("load contract")
		return Result{Message: MsgPersistFailed, Errors: []string{err.Error()}}
	}
	if c.State != model.StateActive {
		e.metrics.Execution("rejected")
		verr := errs.Validation(MsgNotActive, "state is "+string(c.State))
		log.Warn().Str("state", string(c.State)).Msg("contract not active")
		return Result{Message: MsgNotActive, Errors: []string{verr.Error()}}
	}

	for i, cond := range c.Conditions {
		if !contract.Compare(cond.Operator, cond.Field, cond.Value) {
			e.metrics.Execution("conditions_not_met")
			log.Info().Int("condition", i).Msg("conditions not met")
			return Result{Message: MsgConditions}
		}
	}

	var failures []string
	for i, a := range c.Actions {
		h, ok := e.handlers.Lookup(a.Type)
		if !ok {
			log.Warn().Str("action", a.Type).Int("index", i).Msg("unknown action type; skipped")
			continue
		}
		if err := h.Handle(ctx, c, a); err != nil {
			xerr := &errs.ExecutionError{ContractID: id, Action: a.Type, Err: err}
			log.Error().Err(xerr).Int("index", i).Msg("action failed")
			failures = append(failures, xerr.Error())
			continue
		}
		log.Debug().Str("action", a.Type).Int("index", i).Msg("action executed")
	}

	now := e.now()
	completed := model.StateCompleted
	if _, err := e.contracts.UpdateByID(ctx, id, contract.Patch{State: &completed, ExecutedAt: &now}); err != nil {
		e.metrics.Execution("failed")
		log.Error().Err(err).Msg("persist completed state")
		return Result{Message: MsgPersistFailed, Errors: append(failures, err.Error())}
	}
	if err := e.record(ctx, id, completed, now, nil); err != nil {
		failures = append(failures, err.Error())
	}

	e.metrics.Execution("completed")
	log.Info().Int("actions", len(c.Actions)).Int("action_errors", len(failures)).Msg("contract executed")
	return Result{Success: true, Message: MsgExecuted, Errors: failures}
}

// Activate moves an inactive contract to active.
func (e *Engine) Activate(ctx context.Context, id string) (model.Contract, error) {
	return e.transition(ctx, id, model.StateActive, nil)
}

// Fail moves an active contract to failed, recording reason in its payload.
func (e *Engine) Fail(ctx context.Context, id, reason string) (model.Contract, error) {
	return e.transition(ctx, id, model.StateFailed, map[string]any{"reason": reason})
}

func (e *Engine) transition(ctx context.Context, id string, to model.State, extra map[string]any) (model.Contract, error) {
	unlock := e.lock(id)
	defer unlock()

	c, err := e.contracts.FindByID(ctx, id)
	if err != nil {
		return model.Contract{}, err
	}
	if err := contract.ValidateTransition(c.State, to); err != nil {
		return model.Contract{}, err
	}
	updated, err := e.contracts.UpdateByID(ctx, id, contract.Patch{State: &to})
	if err != nil {
		return model.Contract{}, err
	}
	if err := e.record(ctx, id, to, updated.Timestamps.UpdatedAt, extra); err != nil {
		e.log.Warn().Err(err).Str("contract_id", id).Msg("state record failed after transition")
	}
	e.log.Info().Str("contract_id", id).Str("from", string(c.State)).Str("to", string(to)).Msg("contract transitioned")
	return updated, nil
}

func (e *Engine) record(ctx context.Context, id string, s model.State, at time.Time, extra map[string]any) error {
	if e.state == nil {
		return nil
	}
	p := model.NewPayload(id, s, at)
	for k, v := range extra {
		p[k] = v
	}
	if err := e.state.Record(ctx, id, p); err != nil {
		e.log.Error().Err(err).Str("contract_id", id).Msg("record replica state")
		return err
	}
	return nil
}
