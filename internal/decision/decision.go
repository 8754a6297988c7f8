// Package decision implements the tiered decision-recording protocol.
// The caller declares a tier; the protocol validates the minimum
// evidence that tier demands before anything is written.
package decision

import (
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

// Request carries the caller's intended decision.
type Request struct {
	Tier         model.DecisionTier
	Title        string
	Alternatives []string
	Rationale    string
	Evidence     []model.Evidence
	// Promotes references the lower-tier record this one re-files.
	Promotes string
}

// validate enforces the per-tier minimums: formal needs at least two
// alternatives and one moderate-or-strong evidence item; lightweight
// needs a rationale; implicit needs nothing.
func validate(req Request) error {
	switch req.Tier {
	case model.TierFormal:
		if len(req.Alternatives) < 2 {
			return &model.InsufficientEvidenceError{
				Tier: req.Tier,
				Why:  "formal decisions need at least 2 alternatives; add more or declare a lighter tier",
			}
		}
		solid := 0
		for _, ev := range req.Evidence {
			if ev.Strength == model.EvidenceModerate || ev.Strength == model.EvidenceStrong {
				solid++
			}
		}
		if solid < 1 {
			return &model.InsufficientEvidenceError{
				Tier: req.Tier,
				Why:  "formal decisions need at least 1 moderate or strong evidence item; supply evidence or declare a lighter tier",
			}
		}
	case model.TierLightweight:
		if strings.TrimSpace(req.Rationale) == "" {
			return &model.InsufficientEvidenceError{
				Tier: req.Tier,
				Why:  "lightweight decisions need a non-empty rationale",
			}
		}
	case model.TierImplicit:
		// No minimums.
	default:
		return &model.InsufficientEvidenceError{Tier: req.Tier, Why: "unknown tier"}
	}
	return nil
}

// Record validates and persists a decision, indexes it in the workflow
// state, and audits it.
func (p *Protocol) Record(req Request) (*model.DecisionRecord, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	state, err := p.store.Read()
	if err != nil {
		return nil, err
	}
	if state.Terminal() {
		return nil, model.ErrNoActiveFlow
	}

	now := model.Timestamp()
	rec, err := p.store.CreateDecision(func(id string) *model.DecisionRecord {
		return &model.DecisionRecord{
			SchemaVersion: model.CurrentSchemaVersion,
			FileType:      model.FileTypeDecision,
			ID:            id,
			Tier:          req.Tier,
			Title:         req.Title,
			Alternatives:  req.Alternatives,
			Rationale:     req.Rationale,
			Evidence:      req.Evidence,
			Phase:         state.CurrentPhase,
			Timestamp:     now,
			Promotes:      req.Promotes,
		}
	})
	if err != nil {
		return nil, err
	}
	if _, err := p.store.RecordReference(model.KindDecision, model.RecordRef{
		ID: rec.ID, Phase: rec.Phase, Timestamp: now,
	}); err != nil {
		return nil, err
	}

	p.log.Try(&audit.Entry{
		Workflow:  state.ID,
		Phase:     rec.Phase,
		EventType: audit.EventDecisionRecorded,
		Actor:     string(state.CurrentActor),
		Details: map[string]any{
			"decision_id": rec.ID,
			"tier":        string(req.Tier),
			"title":       req.Title,
		},
	})
	return rec, nil
}

// Promote re-files an existing decision under a higher tier. The old
// record stays untouched; the new one references it and must satisfy
// the higher tier's validation on its own.
func (p *Protocol) Promote(oldID string, req Request) (*model.DecisionRecord, error) {
	old, err := p.store.LoadDecision(oldID)
	if err != nil {
		return nil, err
	}
	if !higherTier(req.Tier, old.Tier) {
		return nil, &model.InsufficientEvidenceError{
			Tier: req.Tier,
			Why:  "promotion must target a higher tier than " + string(old.Tier),
		}
	}
	if req.Title == "" {
		req.Title = old.Title
	}
	req.Promotes = oldID
	return p.Record(req)
}

var tierRank = map[model.DecisionTier]int{
	model.TierImplicit:    0,
	model.TierLightweight: 1,
	model.TierFormal:      2,
}

func higherTier(a, b model.DecisionTier) bool {
	return tierRank[a] > tierRank[b]
}
