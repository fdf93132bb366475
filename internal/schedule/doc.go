// Package schedule turns a declarative list of arrival phases into an ordered
// stream of virtual-user starts.
//
// Each [Phase] has a duration, a start rate and an optional end rate. When
// the end rate differs from the start rate the arrival rate ramps linearly
// across the phase and start times are placed where the integrated rate
// crosses each whole number, so gaps shrink or grow smoothly.
//
//	plan, err := schedule.Compile([]schedule.Phase{
//		{Name: "warm", Duration: 10 * time.Second, StartRate: 1, EndRate: schedule.Ramp(5)},
//		{Name: "hold", Duration: time.Minute, StartRate: 5},
//	})
//	it := plan.Starts()
//	for start, ok := it.Next(); ok; start, ok = it.Next() {
//		// start.Seq, start.Offset
//	}
//
// Plans are immutable; every call to [Plan.Starts] begins a new walk.
package schedule
