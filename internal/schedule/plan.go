package schedule

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Phase is one time-boxed segment of the arrival schedule.
// A nil EndRate (or one equal to StartRate) keeps the rate constant.
type Phase struct {
	Name      string
	Duration  time.Duration
	StartRate float64  // virtual users started per second at the phase start
	EndRate   *float64 // optional rate reached at the phase end (linear ramp)
}

// Ramp returns a pointer suitable for Phase.EndRate.
func Ramp(rate float64) *float64 {
	return &rate
}

// IsRamp reports whether the arrival rate changes across the phase.
func (p Phase) IsRamp() bool {
	return p.EndRate != nil && *p.EndRate != p.StartRate
}

func (p Phase) endRate() float64 {
	if p.EndRate == nil {
		return p.StartRate
	}
	return *p.EndRate
}

// ScheduledStart is a single virtual-user start produced by a Plan.
type ScheduledStart struct {
	Seq    uint64        // strictly increasing across the whole schedule
	Offset time.Duration // time after run start at which to admit the start
	Phase  int           // index of the phase that produced the start
}

// OffsetMillis returns the scheduled offset in milliseconds.
func (s ScheduledStart) OffsetMillis() float64 {
	return float64(s.Offset) / float64(time.Millisecond)
}

// ValidationError lists every problem found in a phase list.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "invalid phases"
	}
	return fmt.Sprintf("invalid phases: %s", strings.Join(e.issues, "; "))
}

// Issues returns a copy of the individual validation failures.
func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks that phases form a usable schedule.
func Validate(phases []Phase) error {
	var issues []string
	if len(phases) == 0 {
		issues = append(issues, "at least one phase is required")
	}
	for idx, p := range phases {
		if p.Duration <= 0 {
			issues = append(issues, fmt.Sprintf("phases[%d]: duration must be > 0", idx))
		}
		if p.StartRate < 0 || math.IsNaN(p.StartRate) || math.IsInf(p.StartRate, 0) {
			issues = append(issues, fmt.Sprintf("phases[%d]: start rate must be a finite value >= 0", idx))
		}
		if p.EndRate != nil && (*p.EndRate < 0 || math.IsNaN(*p.EndRate) || math.IsInf(*p.EndRate, 0)) {
			issues = append(issues, fmt.Sprintf("phases[%d]: end rate must be a finite value >= 0", idx))
		}
	}
	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Plan is a compiled, immutable phase list.
type Plan struct {
	segments []segment
	duration time.Duration
	maxRate  float64
}

type segment struct {
	name     string
	start    time.Duration
	duration time.Duration
	fromRate float64
	toRate   float64
}

// Compile validates phases and computes their cumulative offsets.
func Compile(phases []Phase) (*Plan, error) {
	if err := Validate(phases); err != nil {
		return nil, err
	}
	plan := &Plan{}
	var offset time.Duration
	for _, p := range phases {
		seg := segment{
			name:     p.Name,
			start:    offset,
			duration: p.Duration,
			fromRate: p.StartRate,
			toRate:   p.endRate(),
		}
		plan.segments = append(plan.segments, seg)
		plan.maxRate = math.Max(plan.maxRate, math.Max(seg.fromRate, seg.toRate))
		offset += p.Duration
	}
	plan.duration = offset
	return plan, nil
}

// Duration is the summed duration of all phases.
func (p *Plan) Duration() time.Duration {
	if p == nil {
		return 0
	}
	return p.duration
}

// MaxRate is the highest arrival rate reached anywhere in the plan.
func (p *Plan) MaxRate() float64 {
	if p == nil {
		return 0
	}
	return p.maxRate
}

// Phases returns the number of compiled phases.
func (p *Plan) Phases() int {
	if p == nil {
		return 0
	}
	return len(p.segments)
}

// PhaseAt returns the index and name of the phase active at elapsed.
func (p *Plan) PhaseAt(elapsed time.Duration) (int, string, bool) {
	if p == nil {
		return -1, "", false
	}
	for i, seg := range p.segments {
		if elapsed >= seg.start && elapsed < seg.start+seg.duration {
			return i, seg.name, true
		}
	}
	return -1, "", false
}

// RateAt returns the instantaneous arrival rate at elapsed, or false once
// the schedule has ended.
func (p *Plan) RateAt(elapsed time.Duration) (float64, bool) {
	if p == nil || len(p.segments) == 0 {
		return 0, false
	}
	if elapsed < 0 {
		elapsed = 0
	}
	for _, seg := range p.segments {
		end := seg.start + seg.duration
		if elapsed < seg.start || elapsed >= end {
			continue
		}
		if seg.fromRate == seg.toRate {
			return seg.fromRate, true
		}
		progress := float64(elapsed-seg.start) / float64(seg.duration)
		return seg.fromRate + (seg.toRate-seg.fromRate)*progress, true
	}
	return 0, false
}

// Count returns how many starts the full schedule emits.
func (p *Plan) Count() int64 {
	var n int64
	it := p.Starts()
	for {
		if _, ok := it.Next(); !ok {
			return n
		}
		n++
	}
}

// Starts returns a new iterator positioned at the beginning of the schedule.
func (p *Plan) Starts() *Iterator {
	return &Iterator{plan: p}
}

// Iterator lazily walks the starts of a Plan in emission order.
// It is not safe for concurrent use.
type Iterator struct {
	plan *Plan
	seg  int
	k    uint64 // arrival index inside the current segment
	seq  uint64
	done bool
}

// Next returns the next scheduled start, or false when the schedule is exhausted.
func (it *Iterator) Next() (ScheduledStart, bool) {
	if it == nil || it.plan == nil || it.done {
		return ScheduledStart{}, false
	}
	for it.seg < len(it.plan.segments) {
		seg := it.plan.segments[it.seg]
		at, ok := seg.arrival(it.k)
		if !ok {
			it.seg++
			it.k = 0
			continue
		}
		it.k++
		start := ScheduledStart{
			Seq:    it.seq,
			Offset: seg.start + at,
			Phase:  it.seg,
		}
		it.seq++
		return start, true
	}
	it.done = true
	return ScheduledStart{}, false
}

// arrival returns the offset within the segment of the k-th arrival, found by
// solving N(t) = k for the integrated rate N(t) = r0*t + a*t^2/2 with
// a = (r1-r0)/d. The form 2k/(r0+sqrt(r0^2+2ak)) is stable for a of either
// sign and reduces to k/r0 for constant rates.
func (s segment) arrival(k uint64) (time.Duration, bool) {
	r0, r1 := s.fromRate, s.toRate
	if r0 == 0 && r1 == 0 {
		return 0, false
	}
	d := s.duration.Seconds()
	if k == 0 {
		return 0, true
	}
	a := (r1 - r0) / d
	kf := float64(k)
	disc := r0*r0 + 2*a*kf
	if disc < 0 {
		return 0, false
	}
	denom := r0 + math.Sqrt(disc)
	if denom <= 0 {
		return 0, false
	}
	t := 2 * kf / denom
	if t >= d {
		return 0, false
	}
	at := time.Duration(t * float64(time.Second))
	if at >= s.duration {
		return 0, false
	}
	return at, true
}
