package model

import (
	"fmt"
	"time"
)

const (
	CurrentSchemaVersion  = 1
	FileTypeWorkflowState = "workflow_state"
)

// WorkflowState is the single source of truth for one workflow instance.
// It is persisted as a whole JSON document; Revision increments on every
// successful write and backs the stale-write check.
type WorkflowState struct {
	SchemaVersion int    `json:"schema_version"`
	FileType      string `json:"file_type"`
	ID            string `json:"id"`
	Problem       string `json:"problem"`
	Revision      int    `json:"revision"`

	Phases       map[PhaseName]*PhaseState `json:"phases"`
	CurrentPhase PhaseName                 `json:"current_phase"`
	CurrentActor Role                      `json:"current_actor"`

	Blocked       bool   `json:"blocked"`
	BlockedReason string `json:"blocked_reason,omitempty"`
	Completed     bool   `json:"completed"`

	Decisions []RecordRef `json:"decisions"`
	Conflicts []RecordRef `json:"conflicts"`
	Handoffs  []RecordRef `json:"handoffs"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type PhaseState struct {
	Status      PhaseStatus `json:"status"`
	StartedAt   *string     `json:"started_at"`
	CompletedAt *string     `json:"completed_at"`
}

// RecordRef is the lightweight index entry for a decision, conflict, or
// handoff record. The full record lives in its own document.
type RecordRef struct {
	ID        string    `json:"id"`
	Phase     PhaseName `json:"phase"`
	Timestamp string    `json:"timestamp"`
}

// RecordKind selects one of the three reference indexes.
type RecordKind string

const (
	KindDecision RecordKind = "decision"
	KindConflict RecordKind = "conflict"
	KindHandoff  RecordKind = "handoff"
)

// NewWorkflowState builds the initial state for a problem: every phase
// pending except the first, which is in progress.
func NewWorkflowState(id, problem string) *WorkflowState {
	now := Timestamp()
	phases := make(map[PhaseName]*PhaseState, len(PhaseSequence))
	for _, p := range PhaseSequence {
		phases[p] = &PhaseState{Status: PhaseStatusPending}
	}
	first := PhaseSequence[0]
	phases[first].Status = PhaseStatusInProgress
	phases[first].StartedAt = &now
	actor, _ := ActorForPhase(first)
	return &WorkflowState{
		SchemaVersion: CurrentSchemaVersion,
		FileType:      FileTypeWorkflowState,
		ID:            id,
		Problem:       problem,
		Revision:      1,
		Phases:        phases,
		CurrentPhase:  first,
		CurrentActor:  actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// InProgressPhase returns the single phase currently in progress, or ""
// when none is (before start or after completion).
func (s *WorkflowState) InProgressPhase() PhaseName {
	for _, p := range PhaseSequence {
		if ps, ok := s.Phases[p]; ok && ps.Status == PhaseStatusInProgress {
			return p
		}
	}
	return ""
}

// Terminal reports whether the workflow has finished its last phase.
func (s *WorkflowState) Terminal() bool {
	return s.Completed
}

// Refs returns the index slice for kind.
func (s *WorkflowState) Refs(kind RecordKind) []RecordRef {
	switch kind {
	case KindDecision:
		return s.Decisions
	case KindConflict:
		return s.Conflicts
	case KindHandoff:
		return s.Handoffs
	}
	return nil
}

// Validate checks the structural invariants of the document: known
// phases, at most one in progress, cached pointers agreeing with it.
func (s *WorkflowState) Validate() error {
	if s.FileType != FileTypeWorkflowState {
		return fmt.Errorf("unexpected file_type %q (expected %s)", s.FileType, FileTypeWorkflowState)
	}
	if s.SchemaVersion != CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema_version %d (expected %d)", s.SchemaVersion, CurrentSchemaVersion)
	}
	inProgress := 0
	for name, ps := range s.Phases {
		if !ValidPhase(name) {
			return fmt.Errorf("unknown phase %q in state", name)
		}
		if ps.Status == PhaseStatusInProgress {
			inProgress++
		}
	}
	if inProgress > 1 {
		return fmt.Errorf("%d phases in_progress, at most one allowed", inProgress)
	}
	if inProgress == 1 && s.CurrentPhase != s.InProgressPhase() {
		return fmt.Errorf("current_phase %q disagrees with in_progress phase %q", s.CurrentPhase, s.InProgressPhase())
	}
	return nil
}

// Timestamp returns the canonical timestamp string used in all documents.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
