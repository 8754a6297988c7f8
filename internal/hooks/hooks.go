// Package hooks handles the lifecycle events an external invoker fires
// around agent work: agent starting, agent completing, tool used. Each
// handler runs in its own process, shares nothing in memory with its
// counterpart, and must succeed even when the audit trail cannot be
// written.
package hooks

import (
	"github.com/picflow/picflow/internal/audit"
	"github.com/picflow/picflow/internal/correlate"
	"github.com/picflow/picflow/internal/model"
	"github.com/picflow/picflow/internal/phase"
	"github.com/picflow/picflow/internal/store"
)

// Spawner is the agent-invocation collaborator. The core consumes it to
// hand the next phase's actor to the invoker; it never runs agents
// itself.
type Spawner interface {
	Spawn(role model.Role, capabilities []model.Capability, contextPayload []byte) (handle string, err error)
}

const (
	kindAgent = "agent"
	kindTool  = "tool"
)

type Handler struct {
	store  *store.Store
	log    *audit.Logger
	corr   *correlate.Store
	engine *phase.Engine
}

func NewHandler(st *store.Store, log *audit.Logger, corr *correlate.Store, engine *phase.Engine) *Handler {
	return &Handler{store: st, log: log, corr: corr, engine: engine}
}

// context returns the workflow id and phase for audit stamping, or
// ok=false when no workflow is initialized and every hook is a no-op.
func (h *Handler) context() (workflow string, p model.PhaseName, actor model.Role, ok bool) {
	state, err := h.store.Read()
	if err != nil {
		return "", "", "", false
	}
	return state.ID, state.CurrentPhase, state.CurrentActor, true
}

// OnStart records an agent starting under the invocation token, so the
// later OnComplete from a different process correlates to the same id.
func (h *Handler) OnStart(token, actorName, prompt string) {
	workflow, currentPhase, _, ok := h.context()
	if !ok {
		return
	}

	corrID, err := h.corr.Begin(token, kindAgent)
	if err != nil {
		// Correlation is part of the audit trail; its loss never
		// fails the agent start.
		corrID = model.NewAuditID()
	}

	preview, length := h.log.PromptPreview(prompt)
	h.log.Try(&audit.Entry{
		CorrelationID: corrID,
		Workflow:      workflow,
		Phase:         currentPhase,
		EventType:     audit.EventAgentStart,
		Actor:         actorName,
		InputPreview:  preview,
		InputLength:   length,
	})
	_ = h.log.WriteCapture(workflow, currentPhase, audit.CaptureInput, prompt)
}

// OnComplete records an agent finishing. A missing Begin (cleared
// runtime state, crashed starter) still succeeds with a fresh id.
func (h *Handler) OnComplete(token, actorName, output string) {
	workflow, currentPhase, _, ok := h.context()
	if !ok {
		return
	}

	corrID, paired := h.corr.End(token, kindAgent)

	preview, length := h.log.OutputPreview(output)
	h.log.Try(&audit.Entry{
		CorrelationID: corrID,
		Workflow:      workflow,
		Phase:         currentPhase,
		EventType:     audit.EventAgentComplete,
		Actor:         actorName,
		OutputPreview: preview,
		OutputLength:  length,
		Details:       map[string]any{"correlated": paired},
	})
	_ = h.log.WriteCapture(workflow, currentPhase, audit.CaptureOutput, output)
}

// OnToolUse records one tool invocation and, when the capability it
// exercised is outside the current actor's set, applies the violation
// policy. The returned error is non-nil only for major or critical
// violations, which block the workflow.
func (h *Handler) OnToolUse(token, tool, input, output string, used model.Capability) error {
	workflow, currentPhase, actor, ok := h.context()
	if !ok {
		return nil
	}

	inPreview, inLen := h.log.ToolPreview(input)
	outPreview, outLen := h.log.ToolPreview(output)
	h.log.Try(&audit.Entry{
		Workflow:      workflow,
		Phase:         currentPhase,
		EventType:     audit.EventToolUse,
		Actor:         string(actor),
		Tool:          tool,
		InputPreview:  inPreview,
		InputLength:   inLen,
		OutputPreview: outPreview,
		OutputLength:  outLen,
		Details:       map[string]any{"token": token},
	})

	if used == "" {
		return nil
	}
	v := phase.Check(actor, used, currentPhase)
	if v == nil {
		return nil
	}
	return h.engine.Report(v)
}
