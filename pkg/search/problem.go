package search

import "fmt"

// ProblemInstance is one query: an external start id and an optional
// external target id. The engine fills in the internal ids and the episode
// number when the search begins.
type ProblemInstance struct {
	Start     int64
	Target    int64
	hasTarget bool

	StartID  uint32
	TargetID uint32
	SearchID uint64
}

// NewProblem creates a point-to-point query.
func NewProblem(start, target int64) *ProblemInstance {
	return &ProblemInstance{Start: start, Target: target, hasTarget: true, StartID: NoParent, TargetID: NoParent}
}

// NewExhaustiveProblem creates a query without a target; the search runs
// until the frontier is empty or a cutoff fires.
func NewExhaustiveProblem(start int64) *ProblemInstance {
	return &ProblemInstance{Start: start, StartID: NoParent, TargetID: NoParent}
}

// HasTarget reports whether the query has a destination.
func (pi *ProblemInstance) HasTarget() bool { return pi.hasTarget }

func (pi *ProblemInstance) String() string {
	if !pi.hasTarget {
		return fmt.Sprintf("search %d: %d -> *", pi.SearchID, pi.Start)
	}
	return fmt.Sprintf("search %d: %d -> %d", pi.SearchID, pi.Start, pi.Target)
}
