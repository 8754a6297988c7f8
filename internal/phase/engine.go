// Package phase implements the phase transition engine: exit criteria
// verification, handoff record creation, completion, and capability
// enforcement. It never starts agents; it only tells the invoker which
// actor owns the next phase.
package phase

import (
	"errors"
	"fmt"
	"time"

	"github.com/picflow/picflow/internal/audit"
	"github.com/picflow/picflow/internal/model"
	"github.com/picflow/picflow/internal/store"
)

type Engine struct {
	store    *store.Store
	log      *audit.Logger
	criteria *CriteriaConfig
	cfg      *model.Config
}

func NewEngine(st *store.Store, log *audit.Logger, criteria *CriteriaConfig, cfg *model.Config) *Engine {
	return &Engine{store: st, log: log, criteria: criteria, cfg: cfg}
}

// HandoffRequest carries the caller's side of a phase handoff.
type HandoffRequest struct {
	CurrentPhase model.PhaseName
	Checklist    Checklist
	Deliverables []string
	Notes        string
	// Supersede permits a second handoff record for the same phase
	// pair; without it a repeat attempt is refused.
	Supersede bool
}

// Outcome is what a successful handoff returns. Either Handoff and the
// Next* fields are set, or Completed is true and Summary is set.
type Outcome struct {
	Completed bool
	Handoff   *model.HandoffRecord
	Summary   *model.CompletionSummary

	NextPhase    model.PhaseName
	NextActor    model.Role
	Capabilities []model.Capability
}

// Handoff validates exit criteria for the current phase, writes the
// handoff record, advances the state store, and reports the next actor.
// On the terminal phase it executes completion instead. Any failure
// leaves the workflow state untouched.
func (e *Engine) Handoff(req HandoffRequest) (*Outcome, error) {
	state, err := e.store.Read()
	if err != nil {
		if errors.Is(err, model.ErrNotInitialized) {
			return nil, model.ErrNoActiveFlow
		}
		return nil, err
	}
	if state.Terminal() {
		return nil, model.ErrNoActiveFlow
	}
	if state.CurrentPhase != req.CurrentPhase {
		return nil, &model.NotCurrentPhaseError{Claimed: req.CurrentPhase, Actual: state.CurrentPhase}
	}
	if state.Blocked {
		return nil, &model.WorkflowBlockedError{Reason: state.BlockedReason}
	}

	// Open conflicts block only the transitions their stakes name.
	open, err := e.store.OpenConflicts()
	if err != nil {
		return nil, err
	}
	for _, c := range open {
		for _, staked := range c.Stakes {
			if staked == req.CurrentPhase {
				return nil, &model.ConflictBlocksError{ConflictID: c.ID, Phase: req.CurrentPhase}
			}
		}
	}

	next, err := model.Successor(req.CurrentPhase)
	if err != nil {
		return nil, err
	}
	if next == "" {
		return e.complete(state, req)
	}

	if unmet := req.Checklist.Unmet(e.criteria.Required(req.CurrentPhase)); len(unmet) > 0 {
		return nil, &model.ExitCriteriaError{From: req.CurrentPhase, Unmet: unmet}
	}

	now := model.Timestamp()
	rec, err := e.store.CreateHandoff(req.CurrentPhase, next, func(id string, revision int) (*model.HandoffRecord, error) {
		if revision > 1 && !req.Supersede {
			return nil, fmt.Errorf("handoff %s -> %s already recorded; supersede explicitly to redo it", req.CurrentPhase, next)
		}
		return &model.HandoffRecord{
			SchemaVersion: model.CurrentSchemaVersion,
			FileType:      model.FileTypeHandoff,
			ID:            id,
			Workflow:      state.ID,
			FromPhase:     req.CurrentPhase,
			ToPhase:       next,
			Revision:      revision,
			Timestamp:     now,
			Deliverables:  req.Deliverables,
			ExitCriteria:  map[string]model.CriterionResult(req.Checklist),
			Notes:         req.Notes,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := e.store.Advance(req.CurrentPhase, next, e.cfg); err != nil {
		// An untaken handoff must not consume the pair's revision.
		if rmErr := e.store.DiscardHandoff(rec.ID); rmErr != nil {
			return nil, fmt.Errorf("%w (and discard handoff record: %v)", err, rmErr)
		}
		return nil, err
	}
	if _, err := e.store.RecordReference(model.KindHandoff, model.RecordRef{
		ID: rec.ID, Phase: req.CurrentPhase, Timestamp: now,
	}); err != nil {
		return nil, err
	}

	actor, err := model.ActorForPhase(next)
	if err != nil {
		return nil, err
	}

	e.log.Try(&audit.Entry{
		Workflow:  state.ID,
		Phase:     req.CurrentPhase,
		EventType: audit.EventPhaseHandoff,
		Actor:     string(state.CurrentActor),
		Details: map[string]any{
			"handoff_id": rec.ID,
			"to_phase":   string(next),
			"next_actor": string(actor),
		},
	})

	return &Outcome{
		Handoff:      rec,
		NextPhase:    next,
		NextActor:    actor,
		Capabilities: model.CapabilitiesFor(actor),
	}, nil
}

// complete finishes the terminal phase: marks the workflow done and
// writes the completion summary.
func (e *Engine) complete(state *model.WorkflowState, req HandoffRequest) (*Outcome, error) {
	updated, err := e.store.MarkCompleted()
	if err != nil {
		return nil, err
	}

	summary := &model.CompletionSummary{
		SchemaVersion:  model.CurrentSchemaVersion,
		FileType:       model.FileTypeCompletion,
		Workflow:       updated.ID,
		Problem:        updated.Problem,
		CompletedAt:    model.Timestamp(),
		PhaseDurations: phaseDurations(updated),
		DecisionCounts: decisionCounts(updated),
		Deliverables:   e.allDeliverables(updated, req.Deliverables),
	}
	if err := e.store.SaveCompletion(summary); err != nil {
		return nil, fmt.Errorf("write completion summary: %w", err)
	}

	e.log.Try(&audit.Entry{
		Workflow:  updated.ID,
		Phase:     req.CurrentPhase,
		EventType: audit.EventPhaseHandoff,
		Actor:     string(model.RoleReviewer),
		Details:   map[string]any{"completed": true},
	})

	return &Outcome{Completed: true, Summary: summary}, nil
}

func phaseDurations(state *model.WorkflowState) map[model.PhaseName]string {
	durations := make(map[model.PhaseName]string)
	for _, p := range model.PhaseSequence {
		ps := state.Phases[p]
		if ps == nil || ps.StartedAt == nil || ps.CompletedAt == nil {
			continue
		}
		start, err1 := time.Parse(time.RFC3339, *ps.StartedAt)
		end, err2 := time.Parse(time.RFC3339, *ps.CompletedAt)
		if err1 != nil || err2 != nil {
			continue
		}
		durations[p] = end.Sub(start).String()
	}
	return durations
}

func decisionCounts(state *model.WorkflowState) map[model.PhaseName]int {
	counts := make(map[model.PhaseName]int)
	for _, ref := range state.Decisions {
		counts[ref.Phase]++
	}
	return counts
}

func (e *Engine) allDeliverables(state *model.WorkflowState, final []string) []string {
	var all []string
	for _, ref := range state.Handoffs {
		rec, err := e.store.LoadHandoff(ref.ID)
		if err != nil {
			continue
		}
		all = append(all, rec.Deliverables...)
	}
	return append(all, final...)
}
