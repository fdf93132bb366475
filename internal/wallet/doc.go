// Package wallet runs one simulated wallet through the mediator handshake.
//
// A [Machine] walks the states
//
//	Created -> Connecting -> Connected -> RequestingMediation -> Mediated -> PickingUp -> Completed
//
// with Failed reachable from any non-terminal state. Each stage runs under
// its own timeout and the shared [retry.Policy]. Connection and mediation
// failures end the run as Failed; a pickup failure is counted but the run
// still completes successfully.
//
// Metric events are emitted in stage order on the configured sink:
//
//	<stage>.duration, <stage>.success     on success
//	<stage>.retry                         before every retry
//	<stage>.failed, error.<ErrorKind>     when attempts are exhausted
//	test.success | test.failed, test.duration
//	test.aborted                          when the run context was cancelled
//	teardown.failed                       when Shutdown fails
package wallet
