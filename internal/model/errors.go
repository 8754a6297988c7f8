package model

import (
	"errors"
	"fmt"
)

// Store and protocol errors surface to the caller; audit errors never do.
var (
	ErrNotInitialized = errors.New("no workflow initialized")
	ErrAlreadyActive  = errors.New("a non-terminal workflow is already active")
	ErrNoActiveFlow   = errors.New("no active workflow")
	ErrDuplicateID    = errors.New("record id already indexed")
)

// InvalidTransitionError reports an advance between phases that the
// configured sequence does not allow.
type InvalidTransitionError struct {
	From PhaseName
	To   PhaseName
	Why  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Why)
}

// NotCurrentPhaseError reports a caller whose view of the current phase
// disagrees with the state document.
type NotCurrentPhaseError struct {
	Claimed PhaseName
	Actual  PhaseName
}

func (e *NotCurrentPhaseError) Error() string {
	return fmt.Sprintf("phase %q is not current (current is %q)", e.Claimed, e.Actual)
}

// ExitCriteriaError lists exactly which required criteria were not met.
type ExitCriteriaError struct {
	From  PhaseName
	Unmet []string
}

func (e *ExitCriteriaError) Error() string {
	return fmt.Sprintf("exit criteria not met for %s: %v", e.From, e.Unmet)
}

// StaleWriteError reports that the state document changed between the
// caller's read and its write. The caller must re-read and retry.
type StaleWriteError struct {
	ReadRevision int
	DiskRevision int
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("stale write: read revision %d but document is at %d", e.ReadRevision, e.DiskRevision)
}

// InsufficientEvidenceError explains why a decision fails its declared
// tier and what would satisfy it.
type InsufficientEvidenceError struct {
	Tier DecisionTier
	Why  string
}

func (e *InsufficientEvidenceError) Error() string {
	return fmt.Sprintf("insufficient evidence for %s decision: %s", e.Tier, e.Why)
}

// CapabilityViolationError reports an actor acting outside its fixed
// capability set.
type CapabilityViolationError struct {
	Actor      Role
	Capability Capability
	Severity   ViolationSeverity
}

func (e *CapabilityViolationError) Error() string {
	return fmt.Sprintf("%s capability violation: %s lacks %s", e.Severity, e.Actor, e.Capability)
}

// WorkflowBlockedError refuses an advance while the sticky blocked flag
// is set. Only an explicit human clear lifts it.
type WorkflowBlockedError struct {
	Reason string
}

func (e *WorkflowBlockedError) Error() string {
	return fmt.Sprintf("workflow is blocked: %s", e.Reason)
}

// ConflictBlocksError refuses an advance whose from-phase an open
// conflict's stakes name.
type ConflictBlocksError struct {
	ConflictID string
	Phase      PhaseName
}

func (e *ConflictBlocksError) Error() string {
	return fmt.Sprintf("open conflict %s blocks transitions out of %s", e.ConflictID, e.Phase)
}
