package agent

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"
)

// SimulatedConfig shapes the behaviour of a Simulated agent.
type SimulatedConfig struct {
	ConnectLatency   time.Duration
	MediationLatency time.Duration
	PickupLatency    time.Duration
	ShutdownLatency  time.Duration
	Jitter           float64 // fraction of each latency added or removed at random (0..1)

	ConnectFailureRate   float64 // probability (0..1) that an attempt fails
	MediationFailureRate float64
	PickupFailureRate    float64
	ShutdownFailureRate  float64

	Seed int64
}

// Simulated is an in-process Agent that sleeps and fails according to its
// configuration. It lets a run be rehearsed without a mediator.
type Simulated struct {
	cfg      SimulatedConfig
	walletID string

	mu   sync.Mutex
	rnd  *rand.Rand
	next int
}

// NewSimulated returns a Simulated agent for walletID. The random stream is
// derived from cfg.Seed and the wallet ID so runs are reproducible.
func NewSimulated(cfg SimulatedConfig, walletID string) *Simulated {
	h := fnv.New64a()
	_, _ = h.Write([]byte(walletID))
	seed := cfg.Seed ^ int64(h.Sum64())
	return &Simulated{
		cfg:      cfg,
		walletID: walletID,
		rnd:      rand.New(rand.NewSource(seed)),
	}
}

// NewSimulatedFactory returns a Factory producing Simulated agents.
func NewSimulatedFactory(cfg SimulatedConfig) Factory {
	return func(_ context.Context, walletID string) (Agent, error) {
		return NewSimulated(cfg, walletID), nil
	}
}

func (s *Simulated) Connect(ctx context.Context, invitation string, opts ConnectOptions) (ConnectionHandle, error) {
	if invitation == "" {
		return ConnectionHandle{}, &Failure{Op: OpConnect, Err: fmt.Errorf("%w: empty invitation", ErrConnectionFailed)}
	}
	if err := s.pause(ctx, s.cfg.ConnectLatency/2); err != nil {
		return ConnectionHandle{}, err
	}
	if s.roll(s.cfg.ConnectFailureRate) {
		return ConnectionHandle{}, &Failure{Op: OpConnect, Err: ErrConnectionFailed}
	}
	s.mu.Lock()
	s.next++
	id := fmt.Sprintf("%s/conn-%d", s.walletID, s.next)
	s.mu.Unlock()
	return ConnectionHandle{ID: id}, nil
}

func (s *Simulated) WaitForConnectionCompleted(ctx context.Context, handle ConnectionHandle, timeout time.Duration) (Connection, error) {
	remaining := s.cfg.ConnectLatency - s.cfg.ConnectLatency/2
	delay := s.jittered(remaining)
	if timeout > 0 && delay > timeout {
		if err := sleep(ctx, timeout); err != nil {
			return Connection{}, err
		}
		return Connection{}, &Failure{Op: OpWaitConnected, Err: ErrTimeout}
	}
	if err := sleep(ctx, delay); err != nil {
		return Connection{}, err
	}
	return Connection{ID: handle.ID, TheirLabel: "mediator"}, nil
}

func (s *Simulated) RequestMediation(ctx context.Context, conn Connection) (MediationGrant, error) {
	if err := s.pause(ctx, s.cfg.MediationLatency); err != nil {
		return MediationGrant{}, err
	}
	if s.roll(s.cfg.MediationFailureRate) {
		return MediationGrant{}, &Failure{Op: OpMediation, Err: ErrMediationFailed}
	}
	return MediationGrant{
		ConnectionID: conn.ID,
		Endpoint:     "sim://mediator",
		RoutingKeys:  []string{conn.ID + "#routing"},
	}, nil
}

func (s *Simulated) InitiatePickup(ctx context.Context, grant MediationGrant) (PickupResult, error) {
	if err := s.pause(ctx, s.cfg.PickupLatency); err != nil {
		return PickupResult{}, err
	}
	if s.roll(s.cfg.PickupFailureRate) {
		return PickupResult{}, &Failure{Op: OpPickup, Err: ErrPickupFailed}
	}
	return PickupResult{Messages: 0}, nil
}

func (s *Simulated) Shutdown(ctx context.Context) error {
	if err := s.pause(ctx, s.cfg.ShutdownLatency); err != nil {
		return err
	}
	if s.roll(s.cfg.ShutdownFailureRate) {
		return &Failure{Op: OpShutdown, Err: fmt.Errorf("simulated shutdown failure")}
	}
	return nil
}

func (s *Simulated) pause(ctx context.Context, base time.Duration) error {
	return sleep(ctx, s.jittered(base))
}

func (s *Simulated) jittered(base time.Duration) time.Duration {
	if base <= 0 || s.cfg.Jitter <= 0 {
		return base
	}
	s.mu.Lock()
	f := (s.rnd.Float64()*2 - 1) * s.cfg.Jitter
	s.mu.Unlock()
	d := time.Duration(float64(base) * (1 + f))
	if d < 0 {
		return 0
	}
	return d
}

func (s *Simulated) roll(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64() < p
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
