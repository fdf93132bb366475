// Package agent defines the messaging-agent capability each virtual user drives.
//
// The wire protocol and identity scheme live behind [Agent]; the load engine
// only sequences its operations and measures them. One Agent instance belongs
// to exactly one wallet run and is never shared.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when an operation gave up waiting on the mediator.
var ErrTimeout = errors.New("agent: operation timed out")

var (
	ErrConnectionFailed = errors.New("agent: connection failed")
	ErrMediationFailed  = errors.New("agent: mediation failed")
	ErrPickupFailed     = errors.New("agent: pickup failed")
)

// Op names an agent operation for error reporting.
type Op string

const (
	OpConnect       Op = "connect"
	OpWaitConnected Op = "wait_connected"
	OpMediation     Op = "request_mediation"
	OpPickup        Op = "pickup"
	OpShutdown      Op = "shutdown"
)

// Failure wraps an error raised by an agent operation.
type Failure struct {
	Op  Op
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Op, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ConnectOptions tune how a connection is requested from an invitation.
type ConnectOptions struct {
	Label      string // label presented to the mediator
	Alias      string // local alias of the resulting connection
	AutoAccept bool
}

// ConnectionHandle identifies a connection that may still be in progress.
type ConnectionHandle struct {
	ID string
}

// Connection is a completed connection to the mediator.
type Connection struct {
	ID         string
	TheirLabel string
}

// MediationGrant is the mediator's answer to a mediation request.
type MediationGrant struct {
	ConnectionID string
	Endpoint     string
	RoutingKeys  []string
}

// PickupResult reports the outcome of a message pickup.
type PickupResult struct {
	Messages int
}

// Agent is the per-wallet messaging capability. Implementations must return
// promptly once ctx is done; the engine abandons calls that do not.
type Agent interface {
	Connect(ctx context.Context, invitation string, opts ConnectOptions) (ConnectionHandle, error)
	WaitForConnectionCompleted(ctx context.Context, handle ConnectionHandle, timeout time.Duration) (Connection, error)
	RequestMediation(ctx context.Context, conn Connection) (MediationGrant, error)
	InitiatePickup(ctx context.Context, grant MediationGrant) (PickupResult, error)
	Shutdown(ctx context.Context) error
}

// Factory builds a fresh Agent for one wallet run.
type Factory func(ctx context.Context, walletID string) (Agent, error)
