package model

import "fmt"

// PhaseName identifies one of the six ordered workflow phases.
type PhaseName string

const (
	PhaseResearch       PhaseName = "research"
	PhasePlanning       PhaseName = "planning"
	PhaseDesign         PhaseName = "design"
	PhaseImplementation PhaseName = "implementation"
	PhaseTesting        PhaseName = "testing"
	PhaseReview         PhaseName = "review"
)

// PhaseSequence is the canonical phase order. The last entry is terminal:
// handing off from it completes the workflow instead of advancing it.
var PhaseSequence = []PhaseName{
	PhaseResearch,
	PhasePlanning,
	PhaseDesign,
	PhaseImplementation,
	PhaseTesting,
	PhaseReview,
}

var phaseIndex = func() map[PhaseName]int {
	m := make(map[PhaseName]int, len(PhaseSequence))
	for i, p := range PhaseSequence {
		m[p] = i
	}
	return m
}()

func ValidPhase(p PhaseName) bool {
	_, ok := phaseIndex[p]
	return ok
}

// Successor returns the phase following p, or "" if p is terminal.
func Successor(p PhaseName) (PhaseName, error) {
	i, ok := phaseIndex[p]
	if !ok {
		return "", fmt.Errorf("unknown phase %q", p)
	}
	if i == len(PhaseSequence)-1 {
		return "", nil
	}
	return PhaseSequence[i+1], nil
}

// IsLater reports whether b comes after a in the phase sequence.
func IsLater(a, b PhaseName) bool {
	ia, oka := phaseIndex[a]
	ib, okb := phaseIndex[b]
	return oka && okb && ib > ia
}

func TerminalPhase() PhaseName {
	return PhaseSequence[len(PhaseSequence)-1]
}

type PhaseStatus string

const (
	PhaseStatusPending    PhaseStatus = "pending"
	PhaseStatusInProgress PhaseStatus = "in_progress"
	PhaseStatusCompleted  PhaseStatus = "completed"
	PhaseStatusBlocked    PhaseStatus = "blocked"
	PhaseStatusSkipped    PhaseStatus = "skipped"
)

var validPhaseStatusTransitions = map[PhaseStatus]map[PhaseStatus]bool{
	PhaseStatusPending: {
		PhaseStatusInProgress: true,
		PhaseStatusSkipped:    true,
	},
	PhaseStatusInProgress: {
		PhaseStatusCompleted: true,
		PhaseStatusBlocked:   true,
	},
	PhaseStatusBlocked: {
		PhaseStatusInProgress: true,
	},
}

func IsPhaseTerminalStatus(s PhaseStatus) bool {
	return s == PhaseStatusCompleted || s == PhaseStatusSkipped
}

func ValidatePhaseStatusTransition(from, to PhaseStatus) error {
	if IsPhaseTerminalStatus(from) {
		return fmt.Errorf("cannot transition from terminal phase status %q", from)
	}
	allowed, ok := validPhaseStatusTransitions[from]
	if !ok {
		return fmt.Errorf("unknown phase status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid phase status transition: %q -> %q", from, to)
	}
	return nil
}
