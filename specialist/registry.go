package specialist

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// gate is the bounded-concurrency admission gate for one specialist.
// slots is a semaphore channel sized to MaxConcurrent.
type gate struct {
	spec   Specialist
	slots  chan struct{}
	leased atomic.Int64
}

// Registry resolves tiers to specialists and hands out leases under
// admission control. Lookup is pure; only lease acquisition may block or
// fail.
type Registry struct {
	byTier map[Tier]*gate
}

// NewRegistry creates a Registry from static specialist definitions.
// One specialist per tier; duplicates are a configuration error.
func NewRegistry(specs []Specialist) (*Registry, error) {
	r := &Registry{byTier: make(map[Tier]*gate, len(specs))}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.byTier[s.Tier]; exists {
			return nil, fmt.Errorf("%w: duplicate tier %s", ErrBadDefinition, s.Tier)
		}
		r.byTier[s.Tier] = &gate{
			spec:  s,
			slots: make(chan struct{}, s.MaxConcurrent),
		}
	}
	return r, nil
}

// Resolve returns the specialist serving a tier without acquiring capacity.
func (r *Registry) Resolve(tier Tier) (Specialist, bool) {
	g, ok := r.byTier[tier]
	if !ok {
		return Specialist{}, false
	}
	return g.spec, true
}

// Acquire obtains a lease on the tier's specialist, waiting for capacity
// bounded by ctx. Interactive (blocking-criticality) callers use this path.
func (r *Registry) Acquire(ctx context.Context, tier Tier) (*Lease, error) {
	g, ok := r.byTier[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}

	select {
	case g.slots <- struct{}{}:
		g.leased.Add(1)
		return newLease(g), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s capacity: %w", g.spec.Name, ctx.Err())
	}
}

// AcquireNoWait obtains a lease only if capacity is immediately available,
// failing fast with ErrOverloaded otherwise. Best-effort callers use this
// path so background work never starves interactive tasks on the same tier.
func (r *Registry) AcquireNoWait(tier Tier) (*Lease, error) {
	g, ok := r.byTier[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}

	select {
	case g.slots <- struct{}{}:
		g.leased.Add(1)
		return newLease(g), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrOverloaded, g.spec.Name)
	}
}

// Leased returns the number of currently leased calls for a tier.
func (r *Registry) Leased(tier Tier) int64 {
	g, ok := r.byTier[tier]
	if !ok {
		return 0
	}
	return g.leased.Load()
}

// Lease is a held slot of a specialist's call capacity. Release it on every
// exit path; releasing more than once is a no-op.
type Lease struct {
	Specialist Specialist
	release    func()
	once       sync.Once
}

func newLease(g *gate) *Lease {
	return &Lease{
		Specialist: g.spec,
		release: func() {
			g.leased.Add(-1)
			<-g.slots
		},
	}
}

// Release returns the lease's capacity to the specialist's admission gate.
func (l *Lease) Release() {
	l.once.Do(l.release)
}
