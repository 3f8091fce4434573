package auth

import "sync/atomic"

// Metrics counts flow outcomes. Counters are process-local atomics; a
// snapshot is cheap enough to log or poll.
type Metrics struct {
	loginSuccess   atomic.Uint64
	loginFailure   atomic.Uint64
	refreshSuccess atomic.Uint64
	refreshFailure atomic.Uint64
	refreshReplay  atomic.Uint64
	revocations    atomic.Uint64
	resetRequests  atomic.Uint64
	resetConsumed  atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	LoginSuccess   uint64 `json:"loginSuccess"`
	LoginFailure   uint64 `json:"loginFailure"`
	RefreshSuccess uint64 `json:"refreshSuccess"`
	RefreshFailure uint64 `json:"refreshFailure"`
	RefreshReplay  uint64 `json:"refreshReplay"`
	Revocations    uint64 `json:"revocations"`
	ResetRequests  uint64 `json:"resetRequests"`
	ResetConsumed  uint64 `json:"resetConsumed"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		LoginSuccess:   m.loginSuccess.Load(),
		LoginFailure:   m.loginFailure.Load(),
		RefreshSuccess: m.refreshSuccess.Load(),
		RefreshFailure: m.refreshFailure.Load(),
		RefreshReplay:  m.refreshReplay.Load(),
		Revocations:    m.revocations.Load(),
		ResetRequests:  m.resetRequests.Load(),
		ResetConsumed:  m.resetConsumed.Load(),
	}
}
