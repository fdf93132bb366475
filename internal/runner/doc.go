// Package runner executes a walletload test run.
//
// A [Runner] compiles the phase schedule, hands every scheduled start to a
// [Coordinator] and waits until all wallets have finished or the run is cut
// short:
//
//	r := runner.New(runner.Options{
//		Phases:      []schedule.Phase{{Duration: time.Minute, StartRate: 1, EndRate: schedule.Ramp(10)}},
//		Concurrency: 200,
//		MaxDuration: 5 * time.Minute,
//		Wallet:      wallet.Config{Invitation: invitation},
//		Agents:      agent.NewSimulatedFactory(agent.SimulatedConfig{}),
//	})
//	res, err := r.Run(ctx)
//
// # Admission
//
// The Coordinator never starts a wallet before its scheduled offset and
// never runs more wallets at once than the concurrency ceiling. Starts that
// find the ceiling reached are delayed, counted as scheduler.delayed, and
// their wait is recorded as scheduler.queue_wait instead of stage latency.
//
// # Termination
//
// Cancellation of the caller's context, [Runner.Stop] or the MaxDuration
// guard stop admissions and cancel every in-flight wallet. Wallets then get
// the grace period to tear down. Only invalid [Options] make Run return an
// error ([ErrConfiguration]); everything else is reported in the [Result].
package runner
