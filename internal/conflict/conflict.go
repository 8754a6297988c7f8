// Package conflict implements the conflict escalation protocol. Opening
// a conflict is mandatory escalation: while open it blocks every phase
// transition its stakes name, and nothing else. Resolution happens
// exactly once; a later disagreement opens a new conflict referencing
// the old record instead of reopening it.
package conflict

import (
	"fmt"
	"strings"

	"github.com/picflow/picflow/internal/audit"
	"github.com/picflow/picflow/internal/model"
	"github.com/picflow/picflow/internal/store"
)

type Protocol struct {
	store *store.Store
	log   *audit.Logger
}

func NewProtocol(st *store.Store, log *audit.Logger) *Protocol {
	return &Protocol{store: st, log: log}
}

// OpenRequest carries a new conflict. Category and positions are
// immutable after creation.
type OpenRequest struct {
	Category  model.ConflictCategory
	Positions []model.Position
	Stakes    []model.PhaseName
	// Supersedes optionally names a resolved conflict this one contests.
	Supersedes string
}

// Open persists a new open conflict, indexes it, and audits the
// escalation.
func (p *Protocol) Open(req OpenRequest) (*model.ConflictRecord, error) {
	if !model.ValidCategory(req.Category) {
		return nil, fmt.Errorf("unknown conflict category %q", req.Category)
	}
	if len(req.Positions) < 2 {
		return nil, fmt.Errorf("a conflict needs at least 2 positions, got %d", len(req.Positions))
	}
	for _, s := range req.Stakes {
		if !model.ValidPhase(s) {
			return nil, fmt.Errorf("unknown phase %q in stakes", s)
		}
	}

	state, err := p.store.Read()
	if err != nil {
		return nil, err
	}
	if state.Terminal() {
		return nil, model.ErrNoActiveFlow
	}

	if req.Supersedes != "" {
		old, err := p.store.LoadConflict(req.Supersedes)
		if err != nil {
			return nil, fmt.Errorf("superseded conflict: %w", err)
		}
		if old.Status != model.ConflictResolved {
			return nil, fmt.Errorf("conflict %s is still open; resolve it instead of superseding it", req.Supersedes)
		}
	}

	now := model.Timestamp()
	rec, err := p.store.CreateConflict(func(id string) *model.ConflictRecord {
		return &model.ConflictRecord{
			SchemaVersion: model.CurrentSchemaVersion,
			FileType:      model.FileTypeConflict,
			ID:            id,
			Category:      req.Category,
			Status:        model.ConflictOpen,
			Positions:     req.Positions,
			Stakes:        req.Stakes,
			Phase:         state.CurrentPhase,
			Supersedes:    req.Supersedes,
			OpenedAt:      now,
		}
	})
	if err != nil {
		return nil, err
	}
	if _, err := p.store.RecordReference(model.KindConflict, model.RecordRef{
		ID: rec.ID, Phase: rec.Phase, Timestamp: now,
	}); err != nil {
		return nil, err
	}

	p.log.Try(&audit.Entry{
		Workflow:  state.ID,
		Phase:     rec.Phase,
		EventType: audit.EventConflictEscalated,
		Actor:     string(state.CurrentActor),
		Details: map[string]any{
			"conflict_id": rec.ID,
			"category":    string(req.Category),
			"stakes":      stakeNames(req.Stakes),
		},
	})
	return rec, nil
}

// ResolveRequest carries the single allowed resolution of a conflict.
type ResolveRequest struct {
	ConflictID string
	Outcome    model.ConflictOutcome
	// Chosen is the winning position's statement, or the synthesized
	// position when Outcome is synthesis.
	Chosen    string
	Decider   string
	Rationale string
}

// Resolve flips an open conflict to resolved. A second resolution is
// rejected; the record is immutable from here on.
func (p *Protocol) Resolve(req ResolveRequest) (*model.ConflictRecord, error) {
	if strings.TrimSpace(req.Decider) == "" || strings.TrimSpace(req.Rationale) == "" {
		return nil, fmt.Errorf("resolution requires a decider and a rationale")
	}
	switch req.Outcome {
	case model.OutcomePositionA, model.OutcomePositionB, model.OutcomeSynthesis:
	default:
		return nil, fmt.Errorf("unknown resolution outcome %q", req.Outcome)
	}
	if req.Outcome == model.OutcomeSynthesis && strings.TrimSpace(req.Chosen) == "" {
		return nil, fmt.Errorf("a synthesis resolution must state the synthesized position")
	}

	rec, err := p.store.UpdateConflict(req.ConflictID, func(rec *model.ConflictRecord) error {
		if rec.Status == model.ConflictResolved {
			return fmt.Errorf("conflict %s is already resolved; open a new conflict superseding it", rec.ID)
		}
		chosen := req.Chosen
		if chosen == "" {
			switch req.Outcome {
			case model.OutcomePositionA:
				chosen = rec.Positions[0].Statement
			case model.OutcomePositionB:
				chosen = rec.Positions[1].Statement
			}
		}
		rec.Status = model.ConflictResolved
		rec.Resolution = &model.Resolution{
			Outcome:   req.Outcome,
			Chosen:    chosen,
			Decider:   req.Decider,
			Rationale: req.Rationale,
			Timestamp: model.Timestamp(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if state, err := p.store.Read(); err == nil {
		p.log.Try(&audit.Entry{
			Workflow:  state.ID,
			Phase:     rec.Phase,
			EventType: audit.EventConflictEscalated,
			Actor:     req.Decider,
			Details: map[string]any{
				"conflict_id": rec.ID,
				"resolved":    true,
				"outcome":     string(req.Outcome),
			},
		})
	}
	return rec, nil
}

func stakeNames(stakes []model.PhaseName) []string {
	out := make([]string, len(stakes))
	for i, s := range stakes {
		out[i] = string(s)
	}
	return out
}
