// Package consensus decides when a loan vote resolves and which way.
package consensus

// Tally is a loan's current vote counts against its frozen voter total.
type Tally struct {
	For     int
	Against int
	Total   int
}

// Outcome of evaluating a tally.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Policy evaluates a tally. Implementations must be deterministic and
// side-effect free; the loan engine calls them inside the vote transaction.
type Policy interface {
	Evaluate(t Tally) Outcome
	Name() string
}

// EarlyMajority resolves as soon as either side alone passes half the frozen
// voter total, or when everyone has voted. A full-quorum tie rejects: moving
// money needs a clear mandate.
type EarlyMajority struct{}

func (EarlyMajority) Name() string { return "early_majority" }

func (EarlyMajority) Evaluate(t Tally) Outcome {
	half := t.Total / 2
	switch {
	case t.For > half:
		return OutcomeApproved
	case t.Against > half:
		return OutcomeRejected
	case t.For+t.Against >= t.Total:
		// Everyone voted and neither side holds a majority.
		return OutcomeRejected
	default:
		return OutcomePending
	}
}

// FullQuorum waits for every eligible voter before resolving by simple
// majority, ties rejecting.
type FullQuorum struct{}

func (FullQuorum) Name() string { return "full_quorum" }

func (FullQuorum) Evaluate(t Tally) Outcome {
	if t.For+t.Against < t.Total {
		return OutcomePending
	}
	if t.For > t.Against {
		return OutcomeApproved
	}
	return OutcomeRejected
}

// ByName returns the named policy, defaulting to EarlyMajority.
func ByName(name string) Policy {
	if name == (FullQuorum{}).Name() {
		return FullQuorum{}
	}
	return EarlyMajority{}
}
