package store

// PersistOutcome classifies the result of an internal persistence call
type PersistOutcome int

const (
	// PersistOK means every target accepted the write
	PersistOK PersistOutcome = iota
	// PersistDegraded means the write succeeded in memory or on some tiers only
	PersistDegraded
	// PersistFailed means nothing was written
	PersistFailed
)

// String returns the outcome name
func (o PersistOutcome) String() string {
	switch o {
	case PersistOK:
		return "ok"
	case PersistDegraded:
		return "degraded"
	default:
		return "failed"
	}
}

// PersistResult lets callers tell "succeeded but not durably" apart from "failed"
type PersistResult struct {
	Outcome PersistOutcome
	Err     error
}

// Persisted is the successful result
func Persisted() PersistResult {
	return PersistResult{Outcome: PersistOK}
}

// Degraded wraps the warning that made a write non-durable
func Degraded(err error) PersistResult {
	return PersistResult{Outcome: PersistDegraded, Err: err}
}

// Failed wraps the error that stopped a write
func Failed(err error) PersistResult {
	return PersistResult{Outcome: PersistFailed, Err: err}
}

// OK reports full success
func (r PersistResult) OK() bool { return r.Outcome == PersistOK }

// IsDegraded reports a best-effort write that did not fully land
func (r PersistResult) IsDegraded() bool { return r.Outcome == PersistDegraded }

// IsFailed reports a failed write
func (r PersistResult) IsFailed() bool { return r.Outcome == PersistFailed }
