// Package main provides the picflow binary: the coordination engine for
// the six-phase PIC workflow. It keeps the books (state, audit trail,
// decisions, conflicts, handoffs) around agent work it never runs
// itself.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/picflow/picflow/internal/audit"
	"github.com/picflow/picflow/internal/conflict"
	"github.com/picflow/picflow/internal/correlate"
	"github.com/picflow/picflow/internal/decision"
	"github.com/picflow/picflow/internal/hooks"
	"github.com/picflow/picflow/internal/model"
	"github.com/picflow/picflow/internal/phase"
	"github.com/picflow/picflow/internal/setup"
	"github.com/picflow/picflow/internal/status"
	"github.com/picflow/picflow/internal/store"
)

const version = "0.3.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "picflow: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "picflow",
		Short:         "Coordinate a six-phase, multi-agent workflow",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		initCmd(),
		statusCmd(),
		tailCmd(),
		verifyCmd(),
		handoffCmd(),
		decisionCmd(),
		conflictCmd(),
		hookCmd(),
		unblockCmd(),
		versionCmd(),
	)
	return cmd
}

// workspace wires the components a command needs against the .pic/
// directory of the working directory.
type workspace struct {
	picDir string
	cfg    *model.Config
	store  *store.Store
	log    *audit.Logger
}

func openWorkspace() (*workspace, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	picDir := setup.Dir(cwd)
	if _, err := os.Stat(picDir); err != nil {
		return nil, fmt.Errorf("no .pic workspace here; run `picflow init` first")
	}
	cfg, err := setup.LoadConfig(picDir)
	if err != nil {
		return nil, err
	}
	st := store.New(picDir)
	return &workspace{
		picDir: picDir,
		cfg:    cfg,
		store:  st,
		log:    audit.NewLogger(picDir, cfg.Audit, st.Initialized),
	}, nil
}

func (ws *workspace) engine() (*phase.Engine, error) {
	criteria, err := phase.LoadCriteria(ws.picDir)
	if err != nil {
		return nil, err
	}
	return phase.NewEngine(ws.store, ws.log, criteria, ws.cfg), nil
}

func initCmd() *cobra.Command {
	var problem, name string
	var archive bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the .pic workspace and start a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			picDir := setup.Dir(cwd)
			if _, err := os.Stat(picDir); os.IsNotExist(err) {
				created, err := setup.Run(cwd, name)
				if err != nil {
					return err
				}
				fmt.Printf("created %s\n", created)
			}
			if problem == "" {
				return nil
			}

			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			state, err := ws.store.Initialize(problem, archive)
			if err != nil {
				return err
			}
			if archive {
				// Pending correlation state belongs to the archived run.
				_ = correlate.NewStore(ws.picDir).Clear()
			}
			fmt.Printf("workflow %s initialized; %s phase is in progress (%s)\n",
				state.ID, state.CurrentPhase, state.CurrentActor)
			return nil
		},
	}
	cmd.Flags().StringVar(&problem, "problem", "", "problem description (omit to create the workspace only)")
	cmd.Flags().StringVar(&name, "name", "", "project name (defaults to directory name)")
	cmd.Flags().BoolVar(&archive, "archive", false, "archive an active workflow and restart")
	return cmd
}

func statusCmd() *cobra.Command {
	var jsonOutput, watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workflow progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			rep := status.NewReporter(ws.store, ws.log)
			if watch {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return rep.Watch(ctx, os.Stdout)
			}
			return rep.Render(os.Stdout, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the raw state document")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-render on every change until interrupted")
	return cmd
}

func tailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the last audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			return status.NewReporter(ws.store, ws.log).RenderTail(os.Stdout, n)
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of entries")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the audit trail for tampered entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			tampered, err := ws.log.VerifyIntegrity()
			if err != nil {
				return err
			}
			if len(tampered) > 0 {
				return fmt.Errorf("audit trail integrity check failed for %s", strings.Join(tampered, ", "))
			}
			fmt.Println("audit trail intact")
			return nil
		},
	}
}

func handoffCmd() *cobra.Command {
	var phaseName, notes string
	var met, notMet, deliverables []string
	var supersede bool
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Complete the current phase and hand off to the next actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			engine, err := ws.engine()
			if err != nil {
				return err
			}

			current := model.PhaseName(phaseName)
			if phaseName == "" {
				state, err := ws.store.Read()
				if err != nil {
					return err
				}
				current = state.CurrentPhase
			}

			checklist := phase.Checklist{}
			for _, c := range met {
				checklist[c] = model.CriterionMet
			}
			for _, c := range notMet {
				checklist[c] = model.CriterionNotMet
			}

			outcome, err := engine.Handoff(phase.HandoffRequest{
				CurrentPhase: current,
				Checklist:    checklist,
				Deliverables: deliverables,
				Notes:        notes,
				Supersede:    supersede,
			})
			if err != nil {
				return err
			}
			if outcome.Completed {
				fmt.Printf("workflow completed; summary written for %s\n", outcome.Summary.Workflow)
				return nil
			}
			fmt.Printf("handoff %s recorded; %s phase is in progress\n", outcome.Handoff.ID, outcome.NextPhase)
			fmt.Printf("next actor: %s (capabilities: %s)\n", outcome.NextActor, capNames(outcome.Capabilities))
			return nil
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "phase being handed off (defaults to the current phase)")
	cmd.Flags().StringSliceVar(&met, "met", nil, "exit criteria that are met")
	cmd.Flags().StringSliceVar(&notMet, "not-met", nil, "exit criteria that are not met")
	cmd.Flags().StringArrayVar(&deliverables, "deliverable", nil, "deliverable produced this phase (repeatable)")
	cmd.Flags().StringVar(&notes, "notes", "", "handoff notes for the next actor")
	cmd.Flags().BoolVar(&supersede, "supersede", false, "replace an existing handoff record for this pair")
	return cmd
}

func decisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decision",
		Short: "Record or promote decisions",
	}
	cmd.AddCommand(decisionRecordCmd(), decisionPromoteCmd())
	return cmd
}

func decisionFlags(cmd *cobra.Command, tier, title, rationale *string, alternatives, evidence *[]string) {
	cmd.Flags().StringVar(tier, "tier", string(model.TierLightweight), "formal, lightweight, or implicit")
	cmd.Flags().StringVar(title, "title", "", "what was decided")
	cmd.Flags().StringVar(rationale, "rationale", "", "why")
	cmd.Flags().StringArrayVar(alternatives, "alternative", nil, "alternative considered (repeatable)")
	cmd.Flags().StringArrayVar(evidence, "evidence", nil, "evidence as strength:summary (repeatable)")
}

func decisionRecordCmd() *cobra.Command {
	var tier, title, rationale string
	var alternatives, evidence []string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a decision at a declared tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			ev, err := parseEvidence(evidence)
			if err != nil {
				return err
			}
			rec, err := decision.NewProtocol(ws.store, ws.log).Record(decision.Request{
				Tier:         model.DecisionTier(tier),
				Title:        title,
				Alternatives: alternatives,
				Rationale:    rationale,
				Evidence:     ev,
			})
			if err != nil {
				return err
			}
			fmt.Printf("recorded %s (%s): %s\n", rec.ID, rec.Tier, rec.Title)
			return nil
		},
	}
	decisionFlags(cmd, &tier, &title, &rationale, &alternatives, &evidence)
	return cmd
}

func decisionPromoteCmd() *cobra.Command {
	var id, tier, title, rationale string
	var alternatives, evidence []string
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Re-file a decision under a higher tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			ev, err := parseEvidence(evidence)
			if err != nil {
				return err
			}
			rec, err := decision.NewProtocol(ws.store, ws.log).Promote(id, decision.Request{
				Tier:         model.DecisionTier(tier),
				Title:        title,
				Alternatives: alternatives,
				Rationale:    rationale,
				Evidence:     ev,
			})
			if err != nil {
				return err
			}
			fmt.Printf("promoted %s -> %s (%s)\n", id, rec.ID, rec.Tier)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "decision to promote")
	decisionFlags(cmd, &tier, &title, &rationale, &alternatives, &evidence)
	return cmd
}

func conflictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflict",
		Short: "Open or resolve conflicts",
	}
	cmd.AddCommand(conflictOpenCmd(), conflictResolveCmd())
	return cmd
}

func conflictOpenCmd() *cobra.Command {
	var category, supersedes string
	var positions, stakes []string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open (and thereby escalate) a conflict",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			pos, err := parsePositions(positions)
			if err != nil {
				return err
			}
			var staked []model.PhaseName
			for _, s := range stakes {
				staked = append(staked, model.PhaseName(s))
			}
			rec, err := conflict.NewProtocol(ws.store, ws.log).Open(conflict.OpenRequest{
				Category:   model.ConflictCategory(category),
				Positions:  pos,
				Stakes:     staked,
				Supersedes: supersedes,
			})
			if err != nil {
				return err
			}
			fmt.Printf("opened %s (category %s); blocks handoffs out of: %s\n",
				rec.ID, rec.Category, strings.Join(stakes, ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "A (technical), B (scope), C (priority), or D (process)")
	cmd.Flags().StringArrayVar(&positions, "position", nil, "position as holder:statement (at least 2)")
	cmd.Flags().StringSliceVar(&stakes, "stake", nil, "phases whose handoff this conflict blocks")
	cmd.Flags().StringVar(&supersedes, "supersedes", "", "resolved conflict this one contests")
	return cmd
}

func conflictResolveCmd() *cobra.Command {
	var id, outcome, chosen, decider, rationale string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve an open conflict, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			rec, err := conflict.NewProtocol(ws.store, ws.log).Resolve(conflict.ResolveRequest{
				ConflictID: id,
				Outcome:    model.ConflictOutcome(outcome),
				Chosen:     chosen,
				Decider:    decider,
				Rationale:  rationale,
			})
			if err != nil {
				return err
			}
			fmt.Printf("resolved %s: %s\n", rec.ID, rec.Resolution.Outcome)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "conflict to resolve")
	cmd.Flags().StringVar(&outcome, "outcome", "", "position_a, position_b, or synthesis")
	cmd.Flags().StringVar(&chosen, "chosen", "", "the chosen or synthesized position")
	cmd.Flags().StringVar(&decider, "decider", "", "who decided")
	cmd.Flags().StringVar(&rationale, "rationale", "", "why")
	return cmd
}

func hookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Lifecycle hooks fired by the agent invoker",
	}
	cmd.AddCommand(hookAgentStartCmd(), hookAgentCompleteCmd(), hookToolUseCmd())
	return cmd
}

func newHookHandler(ws *workspace) (*hooks.Handler, error) {
	engine, err := ws.engine()
	if err != nil {
		return nil, err
	}
	return hooks.NewHandler(ws.store, ws.log, correlate.NewStore(ws.picDir), engine), nil
}

func hookAgentStartCmd() *cobra.Command {
	var token, actor string
	cmd := &cobra.Command{
		Use:   "agent-start",
		Short: "Record an agent starting (prompt on stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			h, err := newHookHandler(ws)
			if err != nil {
				return err
			}
			prompt, _ := io.ReadAll(os.Stdin)
			h.OnStart(token, actor, string(prompt))
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "invocation token from the host event source")
	cmd.Flags().StringVar(&actor, "actor", "", "actor name")
	return cmd
}

func hookAgentCompleteCmd() *cobra.Command {
	var token, actor string
	cmd := &cobra.Command{
		Use:   "agent-complete",
		Short: "Record an agent completing (output on stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			h, err := newHookHandler(ws)
			if err != nil {
				return err
			}
			output, _ := io.ReadAll(os.Stdin)
			h.OnComplete(token, actor, string(output))
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "invocation token from the host event source")
	cmd.Flags().StringVar(&actor, "actor", "", "actor name")
	return cmd
}

func hookToolUseCmd() *cobra.Command {
	var token, tool, input, output, capability string
	cmd := &cobra.Command{
		Use:   "tool-use",
		Short: "Record one tool invocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			h, err := newHookHandler(ws)
			if err != nil {
				return err
			}
			return h.OnToolUse(token, tool, input, output, model.Capability(capability))
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "invocation token from the host event source")
	cmd.Flags().StringVar(&tool, "tool", "", "tool name")
	cmd.Flags().StringVar(&input, "input", "", "tool input")
	cmd.Flags().StringVar(&output, "output", "", "tool output")
	cmd.Flags().StringVar(&capability, "capability", "", "capability the tool exercised")
	return cmd
}

func unblockCmd() *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "unblock",
		Short: "Explicitly clear a blocked workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if operator == "" {
				return fmt.Errorf("--operator is required; unblocking is a human decision")
			}
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			state, err := ws.store.ClearBlocked()
			if err != nil {
				return err
			}
			ws.log.Try(&audit.Entry{
				Workflow:  state.ID,
				Phase:     state.CurrentPhase,
				EventType: audit.EventToolUse,
				Actor:     operator,
				Details:   map[string]any{"unblocked": true},
			})
			fmt.Printf("workflow unblocked by %s; %s phase may advance again\n", operator, state.CurrentPhase)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "who is clearing the block")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the picflow version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("picflow %s\n", version)
		},
	}
}

func parseEvidence(raw []string) ([]model.Evidence, error) {
	var out []model.Evidence
	for _, r := range raw {
		strength, summary, found := strings.Cut(r, ":")
		if !found {
			return nil, fmt.Errorf("evidence %q must be strength:summary", r)
		}
		s := model.EvidenceStrength(strings.TrimSpace(strength))
		switch s {
		case model.EvidenceWeak, model.EvidenceModerate, model.EvidenceStrong:
		default:
			return nil, fmt.Errorf("evidence strength %q must be weak, moderate, or strong", strength)
		}
		out = append(out, model.Evidence{Summary: strings.TrimSpace(summary), Strength: s})
	}
	return out, nil
}

func parsePositions(raw []string) ([]model.Position, error) {
	var out []model.Position
	for _, r := range raw {
		holder, statement, found := strings.Cut(r, ":")
		if !found {
			return nil, fmt.Errorf("position %q must be holder:statement", r)
		}
		out = append(out, model.Position{
			Holder:    strings.TrimSpace(holder),
			Statement: strings.TrimSpace(statement),
		})
	}
	return out, nil
}

func capNames(caps []model.Capability) string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
