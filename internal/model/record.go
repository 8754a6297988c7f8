package model

// DecisionTier is the documentation-rigor class of a decision.
type DecisionTier string

const (
	TierFormal      DecisionTier = "formal"
	TierLightweight DecisionTier = "lightweight"
	TierImplicit    DecisionTier = "implicit"
)

func ValidTier(t DecisionTier) bool {
	return t == TierFormal || t == TierLightweight || t == TierImplicit
}

// EvidenceStrength rates one evidence item backing a decision.
type EvidenceStrength string

const (
	EvidenceWeak     EvidenceStrength = "weak"
	EvidenceModerate EvidenceStrength = "moderate"
	EvidenceStrong   EvidenceStrength = "strong"
)

type Evidence struct {
	Summary  string           `json:"summary"`
	Source   string           `json:"source,omitempty"`
	Strength EvidenceStrength `json:"strength"`
}

const FileTypeDecision = "decision_record"

type DecisionRecord struct {
	SchemaVersion int          `json:"schema_version"`
	FileType      string       `json:"file_type"`
	ID            string       `json:"id"`
	Tier          DecisionTier `json:"tier"`
	Title         string       `json:"title"`
	Alternatives  []string     `json:"alternatives,omitempty"`
	Rationale     string       `json:"rationale,omitempty"`
	Evidence      []Evidence   `json:"evidence,omitempty"`
	Phase         PhaseName    `json:"phase"`
	Timestamp     string       `json:"timestamp"`
	// Promotes names the lower-tier record this one re-files, if any.
	Promotes string `json:"promotes,omitempty"`
}

// ConflictCategory classifies a conflict for escalation handling.
type ConflictCategory string

const (
	CategoryTechnical ConflictCategory = "A"
	CategoryScope     ConflictCategory = "B"
	CategoryPriority  ConflictCategory = "C"
	CategoryProcess   ConflictCategory = "D"
)

func ValidCategory(c ConflictCategory) bool {
	switch c {
	case CategoryTechnical, CategoryScope, CategoryPriority, CategoryProcess:
		return true
	}
	return false
}

type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// ConflictOutcome records which position won, or that a synthesis did.
type ConflictOutcome string

const (
	OutcomePositionA ConflictOutcome = "position_a"
	OutcomePositionB ConflictOutcome = "position_b"
	OutcomeSynthesis ConflictOutcome = "synthesis"
)

type Position struct {
	Holder    string `json:"holder"`
	Statement string `json:"statement"`
}

type Resolution struct {
	Outcome   ConflictOutcome `json:"outcome"`
	Chosen    string          `json:"chosen"`
	Decider   string          `json:"decider"`
	Rationale string          `json:"rationale"`
	Timestamp string          `json:"timestamp"`
}

const FileTypeConflict = "conflict_record"

type ConflictRecord struct {
	SchemaVersion int              `json:"schema_version"`
	FileType      string           `json:"file_type"`
	ID            string           `json:"id"`
	Category      ConflictCategory `json:"category"`
	Status        ConflictStatus   `json:"status"`
	Positions     []Position       `json:"positions"`
	// Stakes lists the phases whose exit the conflict blocks while open.
	// Transitions out of unlisted phases are unaffected.
	Stakes     []PhaseName `json:"stakes,omitempty"`
	Phase      PhaseName   `json:"phase"`
	Resolution *Resolution `json:"resolution,omitempty"`
	// Supersedes names an earlier resolved conflict this one reopens the
	// disagreement of. The old record itself stays immutable.
	Supersedes string `json:"supersedes,omitempty"`
	OpenedAt   string `json:"opened_at"`
}

const FileTypeHandoff = "handoff_record"

// CriterionResult is the caller-reported state of one exit criterion.
type CriterionResult string

const (
	CriterionMet    CriterionResult = "met"
	CriterionNotMet CriterionResult = "not_met"
)

type HandoffRecord struct {
	SchemaVersion int       `json:"schema_version"`
	FileType      string    `json:"file_type"`
	ID            string    `json:"id"`
	Workflow      string    `json:"workflow"`
	FromPhase     PhaseName `json:"from_phase"`
	ToPhase       PhaseName `json:"to_phase"`
	Revision      int       `json:"revision"`
	Timestamp     string    `json:"timestamp"`

	Deliverables []string                   `json:"deliverables,omitempty"`
	ExitCriteria map[string]CriterionResult `json:"exit_criteria"`
	Notes        string                     `json:"notes,omitempty"`
}

// CompletionSummary is produced instead of a HandoffRecord when the
// terminal phase hands off.
type CompletionSummary struct {
	SchemaVersion int    `json:"schema_version"`
	FileType      string `json:"file_type"`
	Workflow      string `json:"workflow"`
	Problem       string `json:"problem"`
	CompletedAt   string `json:"completed_at"`

	PhaseDurations map[PhaseName]string `json:"phase_durations"`
	DecisionCounts map[PhaseName]int    `json:"decision_counts"`
	Deliverables   []string             `json:"deliverables,omitempty"`
}

const FileTypeCompletion = "completion_summary"
