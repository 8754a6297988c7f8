package phase

import (
	"fmt"

	"github.com/picflow/picflow/internal/audit"
	"github.com/picflow/picflow/internal/model"
)

// Violation describes an actor observed acting outside its fixed
// capability set. Enforcement at this layer is advisory: the tool has
// already run by the time the hook reports it.
type Violation struct {
	Actor       model.Role
	Capability  model.Capability
	Phase       model.PhaseName
	Severity    model.ViolationSeverity
	Description string
}

// Classify assigns the default severity for using a capability the
// actor lacks: execution is critical, any write is major, the rest is
// minor. Callers may override the result before reporting.
func Classify(cap model.Capability) model.ViolationSeverity {
	switch cap {
	case model.CapExecute:
		return model.SeverityCritical
	case model.CapWrite, model.CapWriteDocs, model.CapWriteTests:
		return model.SeverityMajor
	default:
		return model.SeverityMinor
	}
}

// Check returns nil when actor's fixed set includes cap, otherwise a
// Violation with the default severity.
func Check(actor model.Role, cap model.Capability, phase model.PhaseName) *Violation {
	if model.HasCapability(actor, cap) {
		return nil
	}
	return &Violation{
		Actor:       actor,
		Capability:  cap,
		Phase:       phase,
		Severity:    Classify(cap),
		Description: fmt.Sprintf("%s used %s during %s", actor, cap, phase),
	}
}

// Report applies the enforcement policy for a violation: minor is
// recorded and ignored; major and critical set the sticky blocked flag,
// which only an explicit human clear lifts. The returned error, if any,
// is the violation itself so callers can surface it.
func (e *Engine) Report(v *Violation) error {
	state, err := e.store.Read()
	if err != nil {
		return err
	}

	e.log.Try(&audit.Entry{
		Workflow:  state.ID,
		Phase:     v.Phase,
		EventType: audit.EventToolUse,
		Actor:     string(v.Actor),
		Details: map[string]any{
			"capability_violation": string(v.Severity),
			"capability":           string(v.Capability),
			"description":          v.Description,
		},
	})

	if v.Severity == model.SeverityMinor {
		return nil
	}

	reason := fmt.Sprintf("%s capability violation: %s", v.Severity, v.Description)
	if _, err := e.store.SetBlocked(reason); err != nil {
		return err
	}
	return &model.CapabilityViolationError{
		Actor:      v.Actor,
		Capability: v.Capability,
		Severity:   v.Severity,
	}
}
