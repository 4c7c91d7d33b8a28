package replica

import (
	"fmt"

	"github.com/google/go-cmp/cmp"
)

// Resolver chooses the primary replica among divergent ones. replicas is
// never empty and is in active-node order.
type Resolver interface {
	Name() string
	Resolve(replicas []Replica) Replica
}

type resolverFunc struct {
	name string
	fn   func([]Replica) Replica
}

func (r resolverFunc) Name() string                   { return r.name }
func (r resolverFunc) Resolve(reps []Replica) Replica { return r.fn(reps) }

var (
	// First takes the earliest replica in node order.
	First Resolver = resolverFunc{name: "first", fn: func(reps []Replica) Replica { return reps[0] }}

	// Latest takes the replica with the greatest timestamp. Unparseable
	// timestamps never win; ties keep the earlier replica.
	Latest Resolver = resolverFunc{name: "latest", fn: resolveLatest}

	// Majority takes the largest group of equal replicas; ties go to the
	// group whose first member comes earliest.
	Majority Resolver = resolverFunc{name: "majority", fn: resolveMajority}
)

// ResolverByName maps a configuration value to a resolver. Empty means First.
func ResolverByName(name string) (Resolver, error) {
	switch name {
	case "", "first":
		return First, nil
	case "latest":
		return Latest, nil
	case "majority":
		return Majority, nil
	}
	return nil, fmt.Errorf("unknown resolver %q", name)
}

func resolveLatest(reps []Replica) Replica {
	best := -1
	for i, rep := range reps {
		ts, ok := rep.State.Timestamp()
		if !ok {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		if bt, _ := reps[best].State.Timestamp(); ts.After(bt) {
			best = i
		}
	}
	if best < 0 {
		return reps[0]
	}
	return reps[best]
}

func resolveMajority(reps []Replica) Replica {
	counts := make([]int, len(reps))
	for i := range reps {
		for j := range reps {
			if cmp.Equal(reps[i].State, reps[j].State) {
				counts[i]++
			}
		}
	}
	best := 0
	for i := range reps {
		if counts[i] > counts[best] {
			best = i
		}
	}
	return reps[best]
}
