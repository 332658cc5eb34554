package petkit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// RelayDecision is the outcome of resolving relay availability for an
// appliance.
type RelayDecision int

const (
	// RelayNoneReported means the account reports no relay candidates.
	RelayNoneReported RelayDecision = iota
	// RelayMainOffline means candidates exist but none is online as main.
	RelayMainOffline
	// RelayAvailable means a usable online relay exists.
	RelayAvailable
)

func (d RelayDecision) String() string {
	switch d {
	case RelayNoneReported:
		return "no relay reported"
	case RelayMainOffline:
		return "main relay offline"
	case RelayAvailable:
		return "available"
	default:
		return "unknown"
	}
}

// relayRecord is per-appliance, process-lifetime relay state.
type relayRecord struct {
	lastSuccessfulPoll time.Time
	warned             bool
}

// relayTracker owns relay availability records. It warns exactly once per
// unavailable stretch, not on every refresh cycle.
type relayTracker struct {
	mu      sync.Mutex
	records map[int64]*relayRecord
	now     func() time.Time
}

func newRelayTracker(now func() time.Time) *relayTracker {
	return &relayTracker{records: make(map[int64]*relayRecord), now: now}
}

func (t *relayTracker) record(id int64) *relayRecord {
	rec, ok := t.records[id]
	if !ok {
		rec = &relayRecord{}
		t.records[id] = rec
	}
	return rec
}

// decide is the pure availability rule: no candidates reported means no
// relay; otherwise a candidate with pim == 1 must be online as main.
func decideRelay(hasRelay bool, candidates []RelayCandidate) RelayDecision {
	if !hasRelay || len(candidates) == 0 {
		return RelayNoneReported
	}
	for _, candidate := range candidates {
		if candidate.PIM == 1 {
			return RelayAvailable
		}
	}
	return RelayMainOffline
}

// Resolve decides availability for the appliance and maintains the
// warn-once flag.
func (t *relayTracker) Resolve(log *zap.SugaredLogger, name string, id int64, hasRelay bool, candidates []RelayCandidate) RelayDecision {
	decision := decideRelay(hasRelay, candidates)

	t.mu.Lock()
	rec := t.record(id)
	warn := false
	switch decision {
	case RelayAvailable:
		rec.warned = false
	case RelayMainOffline:
		if !rec.warned {
			rec.warned = true
			warn = true
		}
	}
	t.mu.Unlock()

	if warn {
		log.Warnw("unable to use BLE relay: main relay device is offline, fetching latest available data",
			"device", name)
	}
	return decision
}

// NotePollSuccess records a successful BLE poll for cooldown tracking.
func (t *relayTracker) NotePollSuccess(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(id).lastSuccessfulPoll = t.now()
}

// CooledDown reports whether enough time has passed since the last
// successful poll for another relay activation. Polling too often locks up
// the fountain firmware.
func (t *relayTracker) CooledDown(id int64, cooldown time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.record(id)
	if rec.lastSuccessfulPoll.IsZero() {
		return true
	}
	return t.now().Sub(rec.lastSuccessfulPoll) >= cooldown
}
