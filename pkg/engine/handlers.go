package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"contract-mesh/pkg/model"
)

const (
	ActionUpdateBalance    = "updateBalance"
	ActionSendNotification = "sendNotification"
)

// Handler runs one action of a contract.
type Handler interface {
	Handle(ctx context.Context, c model.Contract, a model.Action) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c model.Contract, a model.Action) error

func (f HandlerFunc) Handle(ctx context.Context, c model.Contract, a model.Action) error {
	return f(ctx, c, a)
}

// Handlers maps action types to handlers. Safe for concurrent use.
type Handlers struct {
	mu sync.RWMutex
	m  map[string]Handler
}

func NewHandlers() *Handlers {
	return &Handlers{m: make(map[string]Handler)}
}

// Register adds or replaces the handler for an action type.
func (h *Handlers) Register(actionType string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m[actionType] = handler
}

func (h *Handlers) Lookup(actionType string) (Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.m[actionType]
	return handler, ok
}

// Types lists registered action types, sorted.
func (h *Handlers) Types() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.m))
	for t := range h.m {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Ledger keeps a running balance per contract for updateBalance.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]float64
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]float64)}
}

// Add applies delta and returns the new balance.
func (l *Ledger) Add(contractID string, delta float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[contractID] += delta
	return l.balances[contractID]
}

func (l *Ledger) Balance(contractID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[contractID]
}

// UpdateBalance handles {"type":"updateBalance","amount":n}.
func UpdateBalance(ledger *Ledger, log zerolog.Logger) Handler {
	return HandlerFunc(func(_ context.Context, c model.Contract, a model.Action) error {
		amount, err := numberParam(a.Parameters, "amount")
		if err != nil {
			return err
		}
		balance := ledger.Add(c.ID, amount)
		log.Info().Str("contract_id", c.ID).Float64("amount", amount).Float64("balance", balance).Msg("balance updated")
		return nil
	})
}

// Messenger delivers notifications produced by sendNotification.
type Messenger interface {
	Send(ctx context.Context, recipient, message string) error
}

// LogMessenger writes notifications to the log.
type LogMessenger struct {
	Log zerolog.Logger
}

func (m LogMessenger) Send(_ context.Context, recipient, message string) error {
	m.Log.Info().Str("recipient", recipient).Str("message", message).Msg("notification sent")
	return nil
}

// SendNotification handles {"type":"sendNotification","message":..,"recipient":..}.
func SendNotification(m Messenger) Handler {
	return HandlerFunc(func(ctx context.Context, c model.Contract, a model.Action) error {
		recipient, _ := a.Parameters["recipient"].(string)
		message, _ := a.Parameters["message"].(string)
		if recipient == "" {
			return fmt.Errorf("recipient is required")
		}
		if err := m.Send(ctx, recipient, message); err != nil {
			return fmt.Errorf("notify %s: %w", recipient, err)
		}
		return nil
	})
}

func numberParam(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be numeric, got %q", key, n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%s must be numeric, got %T", key, v)
}
