// Package store owns the workflow state document and the per-id record
// documents under .pic/. All mutation goes through a cross-process flock
// with a revision check, so independently-invoked handlers never silently
// discard each other's writes.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/picflow/picflow/internal/atomic"
	"github.com/picflow/picflow/internal/lock"
	"github.com/picflow/picflow/internal/model"
)

const (
	stateDirName   = "state"
	stateFileName  = "workflow.json"
	recordsDirName = "records"
	locksDirName   = "locks"
	archiveDirName = "archive"
)

type Store struct {
	picDir  string
	mutexes *lock.MutexMap
}

func New(picDir string) *Store {
	return &Store{
		picDir:  picDir,
		mutexes: lock.NewMutexMap(),
	}
}

func (s *Store) Dir() string {
	return s.picDir
}

func (s *Store) StatePath() string {
	return filepath.Join(s.picDir, stateDirName, stateFileName)
}

func (s *Store) lockPath() string {
	return filepath.Join(s.picDir, locksDirName, "workflow.lock")
}

// Initialized reports whether a workflow state document exists.
func (s *Store) Initialized() bool {
	_, err := os.Stat(s.StatePath())
	return err == nil
}

// Initialize creates a fresh workflow for problem. A non-terminal
// workflow already on disk fails with AlreadyActive unless archive is
// set, in which case the prior document tree is snapshotted read-only
// under archive/ first.
func (s *Store) Initialize(problem string, archive bool) (*model.WorkflowState, error) {
	var state *model.WorkflowState
	err := s.withExclusive(func() error {
		prior, err := s.readLocked()
		switch {
		case err == nil:
			if !prior.Terminal() && !archive {
				return model.ErrAlreadyActive
			}
			if err := s.archiveLocked(); err != nil {
				return fmt.Errorf("archive prior workflow: %w", err)
			}
		case errors.Is(err, model.ErrNotInitialized):
			// First initialization.
		default:
			return err
		}

		state = model.NewWorkflowState(model.NewWorkflowID(), problem)
		return s.writeLocked(state)
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Read returns the current workflow state, or NotInitialized.
func (s *Store) Read() (*model.WorkflowState, error) {
	return s.readLocked()
}

func (s *Store) readLocked() (*model.WorkflowState, error) {
	path := s.StatePath()
	var state model.WorkflowState
	if err := atomic.ReadJSON(path, &state); err != nil {
		if os.IsNotExist(err) {
			return nil, model.ErrNotInitialized
		}
		// A corrupt document is quarantined and the backup restored
		// before giving up, so one bad write cannot wedge the store.
		if recoverErr := atomic.RecoverCorruptedJSON(s.picDir, path); recoverErr != nil {
			return nil, fmt.Errorf("read state: %w (recovery: %v)", err, recoverErr)
		}
		if err := atomic.ReadJSON(path, &state); err != nil {
			return nil, fmt.Errorf("read recovered state: %w", err)
		}
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("state document invalid: %w", err)
	}
	return &state, nil
}

func (s *Store) writeLocked(state *model.WorkflowState) error {
	path := s.StatePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return atomic.WriteJSON(path, state)
}

// Write persists a state the caller obtained from Read and then mutated.
// The on-disk revision must still match the revision the caller read;
// otherwise the write fails StaleWrite and the caller must re-read and
// retry.
func (s *Store) Write(state *model.WorkflowState) error {
	return s.withExclusive(func() error {
		current, err := s.readLocked()
		if err != nil {
			return err
		}
		if current.Revision != state.Revision {
			return &model.StaleWriteError{
				ReadRevision: state.Revision,
				DiskRevision: current.Revision,
			}
		}
		state.Revision++
		state.UpdatedAt = model.Timestamp()
		if err := state.Validate(); err != nil {
			return fmt.Errorf("refusing to write invalid state: %w", err)
		}
		return s.writeLocked(state)
	})
}

// Update is the advisory re-read-before-write pattern in one call: it
// re-reads the latest document under the lock, applies fn, and writes.
// fn sees current data, so Update never observes StaleWrite itself.
func (s *Store) Update(fn func(*model.WorkflowState) error) (*model.WorkflowState, error) {
	var state *model.WorkflowState
	err := s.withExclusive(func() error {
		current, err := s.readLocked()
		if err != nil {
			return err
		}
		if err := fn(current); err != nil {
			return err
		}
		current.Revision++
		current.UpdatedAt = model.Timestamp()
		if err := current.Validate(); err != nil {
			return fmt.Errorf("refusing to write invalid state: %w", err)
		}
		if err := s.writeLocked(current); err != nil {
			return err
		}
		state = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Advance marks from completed and to in progress. It is a pure state
// mutation: handoff documents and audit entries are sequenced by the
// phase transition engine, not here. A skip to a later phase must be
// explicitly configured; the skipped phases are marked skipped.
func (s *Store) Advance(from, to model.PhaseName, cfg *model.Config) (*model.WorkflowState, error) {
	return s.Update(func(state *model.WorkflowState) error {
		if state.Terminal() {
			return &model.InvalidTransitionError{From: from, To: to, Why: "workflow already completed"}
		}
		fromState, ok := state.Phases[from]
		if !ok || fromState.Status != model.PhaseStatusInProgress {
			return &model.InvalidTransitionError{From: from, To: to, Why: fmt.Sprintf("phase %q is not in_progress", from)}
		}
		successor, err := model.Successor(from)
		if err != nil {
			return &model.InvalidTransitionError{From: from, To: to, Why: err.Error()}
		}
		if successor == "" {
			return &model.InvalidTransitionError{From: from, To: to, Why: "terminal phase has no successor"}
		}
		var skipped []model.PhaseName
		if to != successor {
			if !model.IsLater(from, to) {
				return &model.InvalidTransitionError{From: from, To: to, Why: "target is not a later phase"}
			}
			allowed := false
			if cfg != nil {
				_, allowed = cfg.SkipAllowed(from, to)
			}
			if !allowed {
				return &model.InvalidTransitionError{From: from, To: to, Why: "phase skip not configured"}
			}
			for p := successor; p != to; {
				skipped = append(skipped, p)
				p, err = model.Successor(p)
				if err != nil {
					return &model.InvalidTransitionError{From: from, To: to, Why: err.Error()}
				}
			}
		}

		now := model.Timestamp()
		if err := model.ValidatePhaseStatusTransition(fromState.Status, model.PhaseStatusCompleted); err != nil {
			return &model.InvalidTransitionError{From: from, To: to, Why: err.Error()}
		}
		fromState.Status = model.PhaseStatusCompleted
		fromState.CompletedAt = &now
		for _, p := range skipped {
			state.Phases[p].Status = model.PhaseStatusSkipped
		}
		toState := state.Phases[to]
		if err := model.ValidatePhaseStatusTransition(toState.Status, model.PhaseStatusInProgress); err != nil {
			return &model.InvalidTransitionError{From: from, To: to, Why: err.Error()}
		}
		toState.Status = model.PhaseStatusInProgress
		toState.StartedAt = &now

		actor, err := model.ActorForPhase(to)
		if err != nil {
			return err
		}
		state.CurrentPhase = to
		state.CurrentActor = actor
		return nil
	})
}

// MarkCompleted finishes the terminal phase and flags the workflow done.
func (s *Store) MarkCompleted() (*model.WorkflowState, error) {
	return s.Update(func(state *model.WorkflowState) error {
		last := model.TerminalPhase()
		ps, ok := state.Phases[last]
		if !ok || ps.Status != model.PhaseStatusInProgress {
			return &model.NotCurrentPhaseError{Claimed: last, Actual: state.InProgressPhase()}
		}
		now := model.Timestamp()
		ps.Status = model.PhaseStatusCompleted
		ps.CompletedAt = &now
		state.Completed = true
		state.CurrentPhase = ""
		state.CurrentActor = ""
		return nil
	})
}

// SetBlocked raises the sticky blocked flag. It stays set until an
// explicit human clear.
func (s *Store) SetBlocked(reason string) (*model.WorkflowState, error) {
	return s.Update(func(state *model.WorkflowState) error {
		state.Blocked = true
		state.BlockedReason = reason
		return nil
	})
}

// ClearBlocked lifts the blocked flag. Recording who cleared it is the
// caller's job, through the audit log.
func (s *Store) ClearBlocked() (*model.WorkflowState, error) {
	return s.Update(func(state *model.WorkflowState) error {
		if !state.Blocked {
			return fmt.Errorf("workflow is not blocked")
		}
		state.Blocked = false
		state.BlockedReason = ""
		return nil
	})
}

// RecordReference appends a ref to the kind's index, rejecting
// duplicates.
func (s *Store) RecordReference(kind model.RecordKind, ref model.RecordRef) (*model.WorkflowState, error) {
	return s.Update(func(state *model.WorkflowState) error {
		for _, existing := range state.Refs(kind) {
			if existing.ID == ref.ID {
				return fmt.Errorf("%w: %s %s", model.ErrDuplicateID, kind, ref.ID)
			}
		}
		switch kind {
		case model.KindDecision:
			state.Decisions = append(state.Decisions, ref)
		case model.KindConflict:
			state.Conflicts = append(state.Conflicts, ref)
		case model.KindHandoff:
			state.Handoffs = append(state.Handoffs, ref)
		default:
			return fmt.Errorf("unknown record kind %q", kind)
		}
		return nil
	})
}

// withExclusive serializes fn against other goroutines and processes.
func (s *Store) withExclusive(fn func() error) error {
	s.mutexes.Lock(stateFileName)
	defer s.mutexes.Unlock(stateFileName)

	if err := os.MkdirAll(filepath.Dir(s.lockPath()), 0755); err != nil {
		return fmt.Errorf("create locks dir: %w", err)
	}
	return lock.WithLock(s.lockPath(), fn)
}

// archiveLocked snapshots the state document and record tree under
// archive/<timestamp>/ and resets the record directories.
func (s *Store) archiveLocked() error {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	dest := filepath.Join(s.picDir, archiveDirName, stamp)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	if err := os.Rename(s.StatePath(), filepath.Join(dest, stateFileName)); err != nil {
		return fmt.Errorf("archive state document: %w", err)
	}

	recordsDir := filepath.Join(s.picDir, recordsDirName)
	if _, err := os.Stat(recordsDir); err == nil {
		if err := os.Rename(recordsDir, filepath.Join(dest, recordsDirName)); err != nil {
			return fmt.Errorf("archive records: %w", err)
		}
	}
	for _, d := range recordDirs {
		if err := os.MkdirAll(filepath.Join(recordsDir, d), 0755); err != nil {
			return fmt.Errorf("recreate records dir %s: %w", d, err)
		}
	}
	return nil
}
