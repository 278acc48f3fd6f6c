package request

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// HostState is a point-in-time view of one provider's penalty.
type HostState struct {
	Strikes int
	Until   time.Time
}

// ProviderBackoff delays requests to a provider that has recently failed.
// Each failure adds a strike; each success removes one, so a flaky provider
// recovers over several good responses instead of at once.
type ProviderBackoff struct {
	base, max time.Duration
	jitter    func(time.Duration) time.Duration
	now       func() time.Time

	mu    sync.Mutex
	hosts map[string]*HostState
}

// NewProviderBackoff returns a backoff whose penalty starts at base and
// doubles per strike up to max.
func NewProviderBackoff(base, max time.Duration) *ProviderBackoff {
	return &ProviderBackoff{
		base:   base,
		max:    max,
		jitter: tenPercent,
		now:    time.Now,
		hosts:  make(map[string]*HostState),
	}
}

func tenPercent(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)/10 + 1))
}

// Wait blocks until the provider's penalty has elapsed or ctx is done.
func (b *ProviderBackoff) Wait(ctx context.Context, provider string) error {
	b.mu.Lock()
	h, ok := b.hosts[provider]
	var until time.Time
	if ok {
		until = h.Until
	}
	b.mu.Unlock()

	d := until.Sub(b.now())
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordFailure adds a strike and pushes the provider's next slot out.
func (b *ProviderBackoff) RecordFailure(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.host(provider)
	h.Strikes++
	h.Until = b.now().Add(b.penalty(h.Strikes))
}

// RecordRetryAfter honours a server-supplied delay when it is longer than
// the current penalty. It does not add a strike.
func (b *ProviderBackoff) RecordRetryAfter(provider string, d time.Duration) {
	if d <= 0 {
		return
	}
	if d > b.max {
		d = b.max
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.host(provider)
	if until := b.now().Add(d); until.After(h.Until) {
		h.Until = until
	}
}

// RecordSuccess removes one strike. The entry is dropped once clean.
func (b *ProviderBackoff) RecordSuccess(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hosts[provider]
	if !ok {
		return
	}
	h.Strikes--
	if h.Strikes <= 0 {
		delete(b.hosts, provider)
		return
	}
	h.Until = b.now().Add(b.penalty(h.Strikes))
}

// State reports the provider's current strikes and release time.
func (b *ProviderBackoff) State(provider string) HostState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.hosts[provider]; ok {
		return *h
	}
	return HostState{}
}

func (b *ProviderBackoff) host(provider string) *HostState {
	h, ok := b.hosts[provider]
	if !ok {
		h = &HostState{}
		b.hosts[provider] = h
	}
	return h
}

func (b *ProviderBackoff) penalty(strikes int) time.Duration {
	if strikes <= 0 {
		return 0
	}
	d := b.base
	for i := 1; i < strikes && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}
	return d + b.jitter(d)
}
