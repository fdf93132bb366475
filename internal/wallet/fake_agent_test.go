package wallet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/walletload/internal/agent"
	"github.com/torosent/walletload/internal/metrics"
)

// fakeAgent lets each test script every operation. Nil hooks succeed at once.
type fakeAgent struct {
	connect   func(ctx context.Context) error
	wait      func(ctx context.Context, timeout time.Duration) error
	mediation func(ctx context.Context) error
	pickup    func(ctx context.Context) error
	shutdown  func(ctx context.Context) error

	connectCalls   atomic.Int32
	mediationCalls atomic.Int32
	pickupCalls    atomic.Int32
	shutdownCalls  atomic.Int32
}

func (f *fakeAgent) Connect(ctx context.Context, _ string, _ agent.ConnectOptions) (agent.ConnectionHandle, error) {
	f.connectCalls.Add(1)
	if f.connect != nil {
		if err := f.connect(ctx); err != nil {
			return agent.ConnectionHandle{}, err
		}
	}
	return agent.ConnectionHandle{ID: "conn"}, nil
}

func (f *fakeAgent) WaitForConnectionCompleted(ctx context.Context, h agent.ConnectionHandle, timeout time.Duration) (agent.Connection, error) {
	if f.wait != nil {
		if err := f.wait(ctx, timeout); err != nil {
			return agent.Connection{}, err
		}
	}
	return agent.Connection{ID: h.ID}, nil
}

func (f *fakeAgent) RequestMediation(ctx context.Context, conn agent.Connection) (agent.MediationGrant, error) {
	f.mediationCalls.Add(1)
	if f.mediation != nil {
		if err := f.mediation(ctx); err != nil {
			return agent.MediationGrant{}, err
		}
	}
	return agent.MediationGrant{ConnectionID: conn.ID}, nil
}

func (f *fakeAgent) InitiatePickup(ctx context.Context, _ agent.MediationGrant) (agent.PickupResult, error) {
	f.pickupCalls.Add(1)
	if f.pickup != nil {
		if err := f.pickup(ctx); err != nil {
			return agent.PickupResult{}, err
		}
	}
	return agent.PickupResult{}, nil
}

func (f *fakeAgent) Shutdown(ctx context.Context) error {
	f.shutdownCalls.Add(1)
	if f.shutdown != nil {
		return f.shutdown(ctx)
	}
	return nil
}

func fail(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// recordingSink keeps every event in emission order.
type recordingSink struct {
	mu     sync.Mutex
	events []metrics.Event
}

func (r *recordingSink) Emit(e metrics.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

func (r *recordingSink) count(name string) int {
	n := 0
	for _, got := range r.names() {
		if got == name {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")
