// Package status renders workflow progress for humans and exposes the
// read-only surface the status-display collaborator consumes.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/picflow/picflow/internal/audit"
	"github.com/picflow/picflow/internal/model"
	"github.com/picflow/picflow/internal/store"
)

type Reporter struct {
	store *store.Store
	log   *audit.Logger
}

func NewReporter(st *store.Store, log *audit.Logger) *Reporter {
	return &Reporter{store: st, log: log}
}

// Read exposes the workflow state to external consumers.
func (r *Reporter) Read() (*model.WorkflowState, error) {
	return r.store.Read()
}

// Tail exposes the last n audit entries.
func (r *Reporter) Tail(n int) ([]audit.Entry, error) {
	return r.log.Tail(n)
}

// Render writes the human status view to w. With jsonOutput the raw
// state document is emitted instead.
func (r *Reporter) Render(w io.Writer, jsonOutput bool) error {
	state, err := r.store.Read()
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}

	fmt.Fprintf(w, "workflow %s\n", state.ID)
	fmt.Fprintf(w, "problem:  %s\n", state.Problem)
	if state.Completed {
		fmt.Fprintln(w, "status:   completed")
	} else if state.Blocked {
		fmt.Fprintf(w, "status:   BLOCKED: %s\n", state.BlockedReason)
	} else {
		fmt.Fprintf(w, "status:   %s (%s)\n", state.CurrentPhase, state.CurrentActor)
	}
	fmt.Fprintln(w)

	for _, p := range model.PhaseSequence {
		ps := state.Phases[p]
		if ps == nil {
			continue
		}
		marker := " "
		switch ps.Status {
		case model.PhaseStatusCompleted:
			marker = "x"
		case model.PhaseStatusInProgress:
			marker = ">"
		case model.PhaseStatusSkipped:
			marker = "-"
		case model.PhaseStatusBlocked:
			marker = "!"
		}
		fmt.Fprintf(w, "  [%s] %-14s %s\n", marker, p, ps.Status)
	}

	fmt.Fprintf(w, "\ndecisions: %d  conflicts: %d  handoffs: %d\n",
		len(state.Decisions), len(state.Conflicts), len(state.Handoffs))
	return nil
}

// RenderTail writes the last n audit entries, one line each.
func (r *Reporter) RenderTail(w io.Writer, n int) error {
	entries, err := r.log.Tail(n)
	if err != nil {
		return err
	}
	for _, e := range entries {
		parts := []string{e.Timestamp.Format("15:04:05"), string(e.EventType)}
		if e.Phase != "" {
			parts = append(parts, "["+string(e.Phase)+"]")
		}
		if e.Actor != "" {
			parts = append(parts, e.Actor)
		}
		if e.Tool != "" {
			parts = append(parts, e.Tool)
		}
		fmt.Fprintln(w, strings.Join(parts, " "))
	}
	return nil
}
