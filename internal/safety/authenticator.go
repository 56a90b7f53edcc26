package safety

import "can-safety-gateway/internal/models"

// Authenticator validates checksum, rolling counter and timing for the
// configured inbound messages.
type Authenticator struct {
	checks []RxCheck
	states []RxCheckState
	proto  Protocol
}

// NewAuthenticator creates an authenticator for the given rule table. The
// table is copied; at most one rule per (Addr, Bus) is honoured.
func NewAuthenticator(checks []RxCheck, proto Protocol) *Authenticator {
	c := make([]RxCheck, len(checks))
	copy(c, checks)
	return &Authenticator{
		checks: c,
		states: make([]RxCheckState, len(c)),
		proto:  proto,
	}
}

// Reset forgets all observed counters and timestamps.
func (a *Authenticator) Reset() {
	for i := range a.states {
		a.states[i] = RxCheckState{}
	}
}

func (a *Authenticator) index(addr uint32, bus int) int {
	for i := range a.checks {
		if a.checks[i].Addr == addr && a.checks[i].Bus == bus {
			return i
		}
	}
	return -1
}

// Authenticate reports whether the frame passes every enabled check. Frames
// without a rule are authentic by default.
func (a *Authenticator) Authenticate(f models.CANFrame, now uint32) bool {
	_, fail := a.Check(f, now)
	return fail == 0
}

// Check validates the frame against its rule. matched is false when no rule
// applies, in which case fail is always zero.
//
// The rolling counter and the arrival time are recorded on every
// observation, so a skipped value or a late frame fails only that frame.
// Liveness is measured from the last valid frame instead.
func (a *Authenticator) Check(f models.CANFrame, now uint32) (matched bool, fail AuthFailure) {
	i := a.index(f.ID, f.Bus)
	if i < 0 {
		return false, 0
	}
	rule := &a.checks[i]
	st := &a.states[i]

	if f.DLC != rule.Len {
		st.Valid = false
		return true, AuthLength
	}

	if rule.CheckChecksum && a.proto.GetChecksum != nil && a.proto.ComputeChecksum != nil {
		if a.proto.GetChecksum(f) != a.proto.ComputeChecksum(f) {
			fail |= AuthChecksum
		}
	}

	if rule.MaxCounter > 0 && a.proto.GetCounter != nil {
		counter := a.proto.GetCounter(f) & rule.MaxCounter
		if st.Seen && counter != (st.LastCounter+1)&rule.MaxCounter {
			fail |= AuthCounter
		}
		st.LastCounter = counter
	}

	var dt uint32
	if st.Seen {
		dt = Elapsed(now, st.LastTimestamp)
		if rule.ExpectedTimestep > 0 && dt > rule.ExpectedTimestep*MaxMissedFrames {
			fail |= AuthTiming
		}
	}

	st.Valid = fail == 0
	if st.Valid && st.Seen {
		st.TimestepEstimate = estimateTimestep(st.TimestepEstimate, dt)
	}
	if st.Valid || !st.Seen {
		// the first sighting opens the liveness window even when invalid
		st.LastValidTimestamp = now
	}
	if st.Valid {
		st.Lagging = false
	}
	st.Seen = true
	st.LastTimestamp = now
	return true, fail
}

// estimateTimestep is a 1/8 exponential moving average of observed intervals.
func estimateTimestep(est, dt uint32) uint32 {
	if est == 0 {
		return dt
	}
	return uint32(int64(est) + (int64(dt)-int64(est))/8)
}

// CheckLiveness marks every rule whose last valid frame is older than the
// allowed window as lagging. Invalid frames do not keep a rule alive. It returns the rules that became lagging on this call
// and whether any rule is lagging. A rule stays lagging until its next valid
// frame.
func (a *Authenticator) CheckLiveness(now uint32) (newly []RxCheck, lagging bool) {
	for i := range a.checks {
		rule, st := a.checks[i], &a.states[i]
		if rule.ExpectedTimestep == 0 || !st.Seen {
			continue
		}
		if !st.Lagging && Elapsed(now, st.LastValidTimestamp) > rule.ExpectedTimestep*MaxMissedFrames {
			st.Lagging = true
			st.Valid = false
			newly = append(newly, rule)
		}
		lagging = lagging || st.Lagging
	}
	return newly, lagging
}

// CheckStatus pairs a rule with its current state.
type CheckStatus struct {
	RxCheck
	RxCheckState
}

// Status returns a copy of every rule and its state, in table order.
func (a *Authenticator) Status() []CheckStatus {
	out := make([]CheckStatus, len(a.checks))
	for i := range a.checks {
		out[i] = CheckStatus{RxCheck: a.checks[i], RxCheckState: a.states[i]}
	}
	return out
}
