package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/picflow/picflow/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir())
}

func initialized(t *testing.T) (*Store, *model.WorkflowState) {
	t.Helper()
	s := testStore(t)
	state, err := s.Initialize("ship the thing", false)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s, state
}

func TestRead_NotInitialized(t *testing.T) {
	s := testStore(t)
	if _, err := s.Read(); !errors.Is(err, model.ErrNotInitialized) {
		t.Fatalf("Read on empty dir = %v, want ErrNotInitialized", err)
	}
	if s.Initialized() {
		t.Error("Initialized() reported true on an empty dir")
	}
}

func TestInitialize_FreshWorkflow(t *testing.T) {
	s, state := initialized(t)

	if state.Problem != "ship the thing" {
		t.Errorf("problem = %q", state.Problem)
	}
	if state.CurrentPhase != model.PhaseResearch {
		t.Errorf("current phase = %s, want research", state.CurrentPhase)
	}

	reread, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if reread.ID != state.ID {
		t.Errorf("reread id %q != initialized id %q", reread.ID, state.ID)
	}
}

func TestInitialize_RefusesActiveWorkflow(t *testing.T) {
	s, _ := initialized(t)
	if _, err := s.Initialize("another problem", false); !errors.Is(err, model.ErrAlreadyActive) {
		t.Fatalf("second Initialize = %v, want ErrAlreadyActive", err)
	}
}

func TestInitialize_ArchivesPrior(t *testing.T) {
	s, prior := initialized(t)

	if _, err := s.CreateDecision(func(id string) *model.DecisionRecord {
		return &model.DecisionRecord{
			SchemaVersion: model.CurrentSchemaVersion,
			FileType:      model.FileTypeDecision,
			ID:            id,
			Tier:          model.TierLightweight,
			Title:         "pick a queue",
			Phase:         model.PhaseResearch,
			Timestamp:     model.Timestamp(),
		}
	}); err != nil {
		t.Fatalf("CreateDecision: %v", err)
	}

	fresh, err := s.Initialize("take two", true)
	if err != nil {
		t.Fatalf("Initialize with archive: %v", err)
	}
	if fresh.ID == prior.ID {
		t.Error("archived workflow id was reused")
	}
	if _, err := s.LoadDecision("DEC-001"); err == nil {
		t.Error("prior decision record survived archiving")
	}
	// Record ids restart with the record tree.
	rec, err := s.CreateDecision(func(id string) *model.DecisionRecord {
		d := decisionFixture(id)
		d.Phase = model.PhaseResearch
		return d
	})
	if err != nil {
		t.Fatalf("CreateDecision: %v", err)
	}
	if rec.ID != "DEC-001" {
		t.Errorf("post-archive id = %s, want DEC-001", rec.ID)
	}
}

func TestWrite_StaleRevision(t *testing.T) {
	s, state := initialized(t)

	fork, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	state.BlockedReason = ""
	if err := s.Write(state); err != nil {
		t.Fatalf("first Write: %v", err)
	}

	err = s.Write(fork)
	var stale *model.StaleWriteError
	if !errors.As(err, &stale) {
		t.Fatalf("stale Write = %v, want StaleWriteError", err)
	}
	if stale.ReadRevision >= stale.DiskRevision {
		t.Errorf("stale error revisions %d >= %d", stale.ReadRevision, stale.DiskRevision)
	}
}

func TestAdvance_Sequential(t *testing.T) {
	s, _ := initialized(t)

	state, err := s.Advance(model.PhaseResearch, model.PhasePlanning, nil)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if state.CurrentPhase != model.PhasePlanning {
		t.Errorf("current phase = %s, want planning", state.CurrentPhase)
	}
	if state.CurrentActor != model.RolePlanner {
		t.Errorf("current actor = %s, want pic-planner", state.CurrentActor)
	}
	research := state.Phases[model.PhaseResearch]
	if research.Status != model.PhaseStatusCompleted || research.CompletedAt == nil {
		t.Error("research phase not marked completed with a timestamp")
	}
	planning := state.Phases[model.PhasePlanning]
	if planning.Status != model.PhaseStatusInProgress || planning.StartedAt == nil {
		t.Error("planning phase not marked in progress with a timestamp")
	}
}

func TestAdvance_RejectsNonCurrentPhase(t *testing.T) {
	s, _ := initialized(t)

	_, err := s.Advance(model.PhaseDesign, model.PhaseImplementation, nil)
	var invalid *model.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("Advance from inactive phase = %v, want InvalidTransitionError", err)
	}
}

func TestAdvance_SkipRequiresConfiguration(t *testing.T) {
	s, _ := initialized(t)

	_, err := s.Advance(model.PhaseResearch, model.PhaseDesign, &model.Config{})
	var invalid *model.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("unconfigured skip = %v, want InvalidTransitionError", err)
	}

	cfg := &model.Config{SkipPhases: []model.SkipConfig{{
		From: model.PhaseResearch, To: model.PhaseDesign, Rationale: "prior art already planned",
	}}}
	state, err := s.Advance(model.PhaseResearch, model.PhaseDesign, cfg)
	if err != nil {
		t.Fatalf("configured skip: %v", err)
	}
	if got := state.Phases[model.PhasePlanning].Status; got != model.PhaseStatusSkipped {
		t.Errorf("planning status = %s, want skipped", got)
	}
	if state.CurrentPhase != model.PhaseDesign {
		t.Errorf("current phase = %s, want design", state.CurrentPhase)
	}
}

func TestAdvance_RejectsBackward(t *testing.T) {
	s, _ := initialized(t)
	if _, err := s.Advance(model.PhaseResearch, model.PhasePlanning, nil); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	_, err := s.Advance(model.PhasePlanning, model.PhaseResearch, nil)
	var invalid *model.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("backward Advance = %v, want InvalidTransitionError", err)
	}
}

func TestAdvance_ConcurrentExactlyOneWins(t *testing.T) {
	s, _ := initialized(t)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = New(s.Dir()).Advance(model.PhaseResearch, model.PhasePlanning, nil)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var invalid *model.InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Errorf("loser error = %v, want InvalidTransitionError", err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d advances succeeded, want exactly 1", wins)
	}

	state, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if state.CurrentPhase != model.PhasePlanning {
		t.Errorf("final phase = %s, want planning", state.CurrentPhase)
	}
}

func TestMarkCompleted(t *testing.T) {
	s, _ := initialized(t)
	for i, p := range model.PhaseSequence[:len(model.PhaseSequence)-1] {
		if _, err := s.Advance(p, model.PhaseSequence[i+1], nil); err != nil {
			t.Fatalf("Advance %s: %v", p, err)
		}
	}

	state, err := s.MarkCompleted()
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if !state.Completed || !state.Terminal() {
		t.Error("workflow not terminal after MarkCompleted")
	}
	if state.CurrentPhase != "" || state.CurrentActor != "" {
		t.Error("completed workflow still has a current phase or actor")
	}

	// Terminal workflows accept a fresh Initialize without archive=true.
	if _, err := s.Initialize("next problem", false); err != nil {
		t.Errorf("Initialize after completion: %v", err)
	}
}

func TestMarkCompleted_RejectsMidFlow(t *testing.T) {
	s, _ := initialized(t)
	_, err := s.MarkCompleted()
	var notCurrent *model.NotCurrentPhaseError
	if !errors.As(err, &notCurrent) {
		t.Fatalf("MarkCompleted in research = %v, want NotCurrentPhaseError", err)
	}
}

func TestBlockedFlag_StickyUntilCleared(t *testing.T) {
	s, _ := initialized(t)

	state, err := s.SetBlocked("capability violation by pic-researcher")
	if err != nil {
		t.Fatalf("SetBlocked: %v", err)
	}
	if !state.Blocked || state.BlockedReason == "" {
		t.Error("blocked flag not set with reason")
	}

	state, err = s.ClearBlocked()
	if err != nil {
		t.Fatalf("ClearBlocked: %v", err)
	}
	if state.Blocked || state.BlockedReason != "" {
		t.Error("blocked flag survived ClearBlocked")
	}

	if _, err := s.ClearBlocked(); err == nil {
		t.Error("ClearBlocked on an unblocked workflow should fail")
	}
}

func TestRecordReference_RejectsDuplicate(t *testing.T) {
	s, _ := initialized(t)
	ref := model.RecordRef{ID: "DEC-001", Phase: model.PhaseResearch, Timestamp: model.Timestamp()}

	state, err := s.RecordReference(model.KindDecision, ref)
	if err != nil {
		t.Fatalf("RecordReference: %v", err)
	}
	if len(state.Decisions) != 1 {
		t.Fatalf("decision index has %d entries, want 1", len(state.Decisions))
	}
	if _, err := s.RecordReference(model.KindDecision, ref); !errors.Is(err, model.ErrDuplicateID) {
		t.Fatalf("duplicate reference = %v, want ErrDuplicateID", err)
	}
}
