package contract

import (
	"encoding/json"
	"strconv"
	"strings"

	"contract-mesh/pkg/model"
)

// Compare evaluates l <op> r over JSON scalars. Two numbers, or a number
// and a numeric string, compare numerically; two strings compare
// lexically; bools support only equality. Anything else is false except !=.
func Compare(op model.Operator, l, r any) bool {
	switch op {
	case model.OpEq:
		return Equal(l, r)
	case model.OpNe:
		return !Equal(l, r)
	}
	c, ok := order(l, r)
	if !ok {
		return false
	}
	switch op {
	case model.OpGt:
		return c > 0
	case model.OpGe:
		return c >= 0
	case model.OpLt:
		return c < 0
	case model.OpLe:
		return c <= 0
	}
	return false
}

// Equal reports loose scalar equality with numeric coercion.
func Equal(l, r any) bool {
	if lb, ok := l.(bool); ok {
		rb, ok := r.(bool)
		return ok && lb == rb
	}
	if _, ok := r.(bool); ok {
		return false
	}
	if c, ok := order(l, r); ok {
		return c == 0
	}
	return l == nil && r == nil
}

func order(l, r any) (int, bool) {
	ls, lStr := l.(string)
	rs, rStr := r.(string)
	if lStr && rStr {
		return strings.Compare(ls, rs), true
	}
	lf, lok := number(l)
	rf, rok := number(r)
	if !lok && lStr {
		lf, lok = parseNumber(ls)
	}
	if !rok && rStr {
		rf, rok = parseNumber(rs)
	}
	if !lok || !rok {
		return 0, false
	}
	switch {
	case lf < rf:
		return -1, true
	case lf > rf:
		return 1, true
	}
	return 0, true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}
