package phase

import (
	"errors"
	"os"
	"testing"

	"github.com/picflow/picflow/internal/audit"
	"github.com/picflow/picflow/internal/model"
	"github.com/picflow/picflow/internal/store"
)

func testEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir())
	if _, err := st.Initialize("ship the thing", false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	cfg := model.DefaultConfig("test")
	log := audit.NewLogger(st.Dir(), cfg.Audit, st.Initialized)
	criteria, err := LoadCriteria(st.Dir())
	if err != nil {
		t.Fatalf("LoadCriteria: %v", err)
	}
	return NewEngine(st, log, criteria, cfg), st
}

func metChecklist(c *CriteriaConfig, from model.PhaseName) Checklist {
	cl := Checklist{}
	for _, name := range c.Required(from) {
		cl[name] = model.CriterionMet
	}
	return cl
}

// advanceTo hands the workflow off phase by phase until phase is current.
func advanceTo(t *testing.T, e *Engine, target model.PhaseName) {
	t.Helper()
	for {
		state, err := e.store.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if state.CurrentPhase == target {
			return
		}
		_, err = e.Handoff(HandoffRequest{
			CurrentPhase: state.CurrentPhase,
			Checklist:    metChecklist(e.criteria, state.CurrentPhase),
		})
		if err != nil {
			t.Fatalf("Handoff from %s: %v", state.CurrentPhase, err)
		}
	}
}

func TestHandoff_AdvancesAndRecords(t *testing.T) {
	e, st := testEngine(t)

	out, err := e.Handoff(HandoffRequest{
		CurrentPhase: model.PhaseResearch,
		Checklist:    metChecklist(e.criteria, model.PhaseResearch),
		Deliverables: []string{"docs/research.md"},
		Notes:        "prior art surveyed",
	})
	if err != nil {
		t.Fatalf("Handoff: %v", err)
	}
	if out.Completed {
		t.Fatal("research handoff reported completion")
	}
	if out.NextPhase != model.PhasePlanning || out.NextActor != model.RolePlanner {
		t.Errorf("next = (%s, %s), want (planning, pic-planner)", out.NextPhase, out.NextActor)
	}
	if len(out.Capabilities) == 0 {
		t.Error("outcome carries no capabilities for the next actor")
	}

	state, err := st.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if state.CurrentPhase != model.PhasePlanning {
		t.Errorf("current phase = %s, want planning", state.CurrentPhase)
	}
	if len(state.Handoffs) != 1 || state.Handoffs[0].ID != out.Handoff.ID {
		t.Errorf("handoff index = %+v", state.Handoffs)
	}
	if _, err := st.LoadHandoff(out.Handoff.ID); err != nil {
		t.Errorf("handoff record not persisted: %v", err)
	}
}

func TestHandoff_UnmetCriteriaLeaveStateUntouched(t *testing.T) {
	e, st := testEngine(t)

	before, err := os.ReadFile(st.StatePath())
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}

	_, err = e.Handoff(HandoffRequest{
		CurrentPhase: model.PhaseResearch,
		Checklist:    Checklist{"problem_understood": model.CriterionMet},
	})
	var unmet *model.ExitCriteriaError
	if !errors.As(err, &unmet) {
		t.Fatalf("partial checklist = %v, want ExitCriteriaError", err)
	}
	if len(unmet.Unmet) == 0 {
		t.Error("ExitCriteriaError names no unmet criteria")
	}

	after, err := os.ReadFile(st.StatePath())
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	if string(before) != string(after) {
		t.Error("failed handoff modified the state document")
	}
}

func TestHandoff_NotCurrentPhase(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.Handoff(HandoffRequest{CurrentPhase: model.PhaseDesign})
	var notCurrent *model.NotCurrentPhaseError
	if !errors.As(err, &notCurrent) {
		t.Fatalf("handoff from wrong phase = %v, want NotCurrentPhaseError", err)
	}
	if notCurrent.Actual != model.PhaseResearch {
		t.Errorf("actual = %s, want research", notCurrent.Actual)
	}
}

func TestHandoff_BlockedWorkflowRefuses(t *testing.T) {
	e, st := testEngine(t)
	if _, err := st.SetBlocked("major capability violation"); err != nil {
		t.Fatalf("SetBlocked: %v", err)
	}

	_, err := e.Handoff(HandoffRequest{
		CurrentPhase: model.PhaseResearch,
		Checklist:    metChecklist(e.criteria, model.PhaseResearch),
	})
	var blocked *model.WorkflowBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("blocked handoff = %v, want WorkflowBlockedError", err)
	}

	if _, err := st.ClearBlocked(); err != nil {
		t.Fatalf("ClearBlocked: %v", err)
	}
	if _, err := e.Handoff(HandoffRequest{
		CurrentPhase: model.PhaseResearch,
		Checklist:    metChecklist(e.criteria, model.PhaseResearch),
	}); err != nil {
		t.Errorf("handoff after clear: %v", err)
	}
}

func TestHandoff_ConflictStakesScopeBlocking(t *testing.T) {
	e, st := testEngine(t)
	advanceTo(t, e, model.PhaseDesign)

	rec, err := st.CreateConflict(func(id string) *model.ConflictRecord {
		return &model.ConflictRecord{
			SchemaVersion: model.CurrentSchemaVersion,
			FileType:      model.FileTypeConflict,
			ID:            id,
			Category:      model.CategoryTechnical,
			Status:        model.ConflictOpen,
			Positions: []model.Position{
				{Holder: string(model.RoleDesigner), Statement: "a"},
				{Holder: string(model.RoleImplementer), Statement: "b"},
			},
			Stakes:   []model.PhaseName{model.PhaseImplementation},
			Phase:    model.PhaseDesign,
			OpenedAt: model.Timestamp(),
		}
	})
	if err != nil {
		t.Fatalf("CreateConflict: %v", err)
	}

	// Design is not staked; its handoff proceeds.
	if _, err := e.Handoff(HandoffRequest{
		CurrentPhase: model.PhaseDesign,
		Checklist:    metChecklist(e.criteria, model.PhaseDesign),
	}); err != nil {
		t.Fatalf("handoff out of unstaked phase: %v", err)
	}

	// Implementation is staked; its handoff is refused while open.
	_, err = e.Handoff(HandoffRequest{
		CurrentPhase: model.PhaseImplementation,
		Checklist:    metChecklist(e.criteria, model.PhaseImplementation),
	})
	var cbe *model.ConflictBlocksError
	if !errors.As(err, &cbe) {
		t.Fatalf("staked handoff = %v, want ConflictBlocksError", err)
	}
	if cbe.ConflictID != "CON-001" {
		t.Errorf("blocking conflict = %s", cbe.ConflictID)
	}

	if _, err := st.UpdateConflict(rec.ID, func(c *model.ConflictRecord) error {
		c.Status = model.ConflictResolved
		c.Resolution = &model.Resolution{
			Outcome: model.OutcomePositionA, Chosen: "a",
			Decider: "operator", Rationale: "works", Timestamp: model.Timestamp(),
		}
		return nil
	}); err != nil {
		t.Fatalf("UpdateConflict: %v", err)
	}
	if _, err := e.Handoff(HandoffRequest{
		CurrentPhase: model.PhaseImplementation,
		Checklist:    metChecklist(e.criteria, model.PhaseImplementation),
	}); err != nil {
		t.Errorf("handoff after resolution: %v", err)
	}
}

func TestHandoff_SupersedeRequiredForRepeat(t *testing.T) {
	e, st := testEngine(t)
	advanceTo(t, e, model.PhasePlanning)

	// Force research back to in_progress to redo the same pair.
	_, err := st.Update(func(state *model.WorkflowState) error {
		state.Phases[model.PhasePlanning].Status = model.PhaseStatusPending
		state.Phases[model.PhasePlanning].StartedAt = nil
		state.Phases[model.PhaseResearch].Status = model.PhaseStatusInProgress
		state.Phases[model.PhaseResearch].CompletedAt = nil
		state.CurrentPhase = model.PhaseResearch
		state.CurrentActor = model.RoleResearcher
		return nil
	})
	if err != nil {
		t.Fatalf("rewind: %v", err)
	}

	req := HandoffRequest{
		CurrentPhase: model.PhaseResearch,
		Checklist:    metChecklist(e.criteria, model.PhaseResearch),
	}
	if _, err := e.Handoff(req); err == nil {
		t.Fatal("repeat handoff without supersede should fail")
	}

	req.Supersede = true
	out, err := e.Handoff(req)
	if err != nil {
		t.Fatalf("superseding handoff: %v", err)
	}
	if out.Handoff.Revision != 2 {
		t.Errorf("superseding revision = %d, want 2", out.Handoff.Revision)
	}
	if out.Handoff.ID == model.HandoffID(model.PhaseResearch, model.PhasePlanning, 1) {
		t.Error("superseding handoff reused the revision 1 id")
	}
}

func TestHandoff_FailedAdvanceLeavesNoRecord(t *testing.T) {
	e, st := testEngine(t)

	// Corrupt the successor so the transition itself is refused after
	// the engine's pre-checks pass.
	if _, err := st.Update(func(state *model.WorkflowState) error {
		state.Phases[model.PhasePlanning].Status = model.PhaseStatusCompleted
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	_, err := e.Handoff(HandoffRequest{
		CurrentPhase: model.PhaseResearch,
		Checklist:    metChecklist(e.criteria, model.PhaseResearch),
	})
	var invalid *model.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("handoff into completed phase = %v, want InvalidTransitionError", err)
	}

	// The record written ahead of the failed transition must be gone,
	// and the pair's revision must not be consumed.
	id := model.HandoffID(model.PhaseResearch, model.PhasePlanning, 1)
	if _, err := st.LoadHandoff(id); err == nil {
		t.Error("handoff record survived a failed transition")
	}
	if rev := st.HandoffRevision(model.PhaseResearch, model.PhasePlanning); rev != 1 {
		t.Errorf("revision after failed transition = %d, want 1", rev)
	}
}

func TestHandoff_TerminalPhaseCompletes(t *testing.T) {
	e, st := testEngine(t)
	advanceTo(t, e, model.PhaseReview)

	out, err := e.Handoff(HandoffRequest{
		CurrentPhase: model.PhaseReview,
		Deliverables: []string{"review/signoff.md"},
	})
	if err != nil {
		t.Fatalf("terminal handoff: %v", err)
	}
	if !out.Completed || out.Summary == nil {
		t.Fatal("terminal handoff did not complete")
	}
	if out.Handoff != nil {
		t.Error("terminal handoff produced a handoff record")
	}
	if len(out.Summary.PhaseDurations) == 0 {
		t.Error("completion summary has no phase durations")
	}
	found := false
	for _, d := range out.Summary.Deliverables {
		if d == "review/signoff.md" {
			found = true
		}
	}
	if !found {
		t.Error("final deliverable missing from completion summary")
	}

	state, err := st.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !state.Completed {
		t.Error("workflow not marked completed")
	}

	if _, err := e.Handoff(HandoffRequest{CurrentPhase: model.PhaseReview}); !errors.Is(err, model.ErrNoActiveFlow) {
		t.Errorf("handoff after completion = %v, want ErrNoActiveFlow", err)
	}
}

func TestHandoff_NoWorkflow(t *testing.T) {
	st := store.New(t.TempDir())
	cfg := model.DefaultConfig("test")
	criteria, err := LoadCriteria(st.Dir())
	if err != nil {
		t.Fatalf("LoadCriteria: %v", err)
	}
	e := NewEngine(st, audit.NewLogger(st.Dir(), cfg.Audit, st.Initialized), criteria, cfg)

	if _, err := e.Handoff(HandoffRequest{CurrentPhase: model.PhaseResearch}); !errors.Is(err, model.ErrNoActiveFlow) {
		t.Fatalf("handoff without workflow = %v, want ErrNoActiveFlow", err)
	}
}
