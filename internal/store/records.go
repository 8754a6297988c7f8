package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/picflow/picflow/internal/atomic"
	"github.com/picflow/picflow/internal/model"
)

// Record documents live one-per-id in a directory per category, indexed
// from the workflow state but physically segregated from it. Creation
// runs under the workflow lock: id allocation and the write are one
// critical section, so two independent processes can never both claim
// the same sequential id.
var recordDirs = []string{"decisions", "conflicts", "handoffs"}

func (s *Store) recordDir(kind model.RecordKind) string {
	var d string
	switch kind {
	case model.KindDecision:
		d = "decisions"
	case model.KindConflict:
		d = "conflicts"
	case model.KindHandoff:
		d = "handoffs"
	}
	return filepath.Join(s.picDir, recordsDirName, d)
}

func (s *Store) recordPath(kind model.RecordKind, id string) string {
	return filepath.Join(s.recordDir(kind), id+".json")
}

// nextRecordIDLocked allocates the next zero-padded sequential id for a
// category by scanning its directory. Callers hold the workflow lock.
func (s *Store) nextRecordIDLocked(kind model.RecordKind) (string, error) {
	entries, err := os.ReadDir(s.recordDir(kind))
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("scan %s records: %w", kind, err)
	}
	maxSeq := 0
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		n, err := model.ParseRecordSequence(name)
		if err != nil {
			continue
		}
		if n > maxSeq {
			maxSeq = n
		}
	}
	return model.FormatRecordID(kind, maxSeq+1)
}

// CreateDecision allocates the next decision id and writes the record
// build produces for it, atomically with respect to other processes.
// Decisions are immutable once written.
func (s *Store) CreateDecision(build func(id string) *model.DecisionRecord) (*model.DecisionRecord, error) {
	var rec *model.DecisionRecord
	err := s.withExclusive(func() error {
		id, err := s.nextRecordIDLocked(model.KindDecision)
		if err != nil {
			return err
		}
		rec = build(id)
		return s.saveImmutable(model.KindDecision, rec.ID, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) LoadDecision(id string) (*model.DecisionRecord, error) {
	var rec model.DecisionRecord
	if err := s.loadRecord(model.KindDecision, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateConflict allocates the next conflict id and writes the record
// build produces for it, under the workflow lock.
func (s *Store) CreateConflict(build func(id string) *model.ConflictRecord) (*model.ConflictRecord, error) {
	var rec *model.ConflictRecord
	err := s.withExclusive(func() error {
		id, err := s.nextRecordIDLocked(model.KindConflict)
		if err != nil {
			return err
		}
		rec = build(id)
		return s.saveImmutable(model.KindConflict, rec.ID, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateConflict is the one sanctioned mutation of a conflict document:
// load, apply fn, rewrite, all under the workflow lock. fn sees current
// data, so two concurrent resolvers cannot both observe the conflict
// open.
func (s *Store) UpdateConflict(id string, fn func(*model.ConflictRecord) error) (*model.ConflictRecord, error) {
	var rec model.ConflictRecord
	err := s.withExclusive(func() error {
		if err := s.loadRecord(model.KindConflict, id, &rec); err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
		return atomic.WriteJSON(s.recordPath(model.KindConflict, id), &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) LoadConflict(id string) (*model.ConflictRecord, error) {
	var rec model.ConflictRecord
	if err := s.loadRecord(model.KindConflict, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// OpenConflicts returns every conflict record still open. Unparseable
// documents are skipped so one corrupt record cannot block every
// transition.
func (s *Store) OpenConflicts() ([]*model.ConflictRecord, error) {
	entries, err := os.ReadDir(s.recordDir(model.KindConflict))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan conflicts: %w", err)
	}
	var open []*model.ConflictRecord
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		rec, err := s.LoadConflict(id)
		if err != nil {
			continue
		}
		if rec.Status == model.ConflictOpen {
			open = append(open, rec)
		}
	}
	return open, nil
}

// CreateHandoff computes the pair's revision and writes the record
// build produces for it, under the workflow lock. build may refuse the
// revision (e.g. an unsanctioned repeat) by returning an error, in
// which case nothing is written.
func (s *Store) CreateHandoff(from, to model.PhaseName, build func(id string, revision int) (*model.HandoffRecord, error)) (*model.HandoffRecord, error) {
	var rec *model.HandoffRecord
	err := s.withExclusive(func() error {
		revision := s.HandoffRevision(from, to)
		r, err := build(model.HandoffID(from, to, revision), revision)
		if err != nil {
			return err
		}
		rec = r
		return s.saveImmutable(model.KindHandoff, rec.ID, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DiscardHandoff removes a handoff record whose transition failed after
// the write, so an untaken handoff never consumes the pair's revision.
func (s *Store) DiscardHandoff(id string) error {
	return os.Remove(s.recordPath(model.KindHandoff, id))
}

func (s *Store) LoadHandoff(id string) (*model.HandoffRecord, error) {
	var rec model.HandoffRecord
	if err := s.loadRecord(model.KindHandoff, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// HandoffRevision returns the revision number the next handoff record
// for the pair should carry: 1 when none exists, otherwise one past the
// highest existing revision.
func (s *Store) HandoffRevision(from, to model.PhaseName) int {
	rev := 1
	for {
		id := model.HandoffID(from, to, rev)
		if _, err := os.Stat(s.recordPath(model.KindHandoff, id)); os.IsNotExist(err) {
			return rev
		}
		rev++
	}
}

// SaveCompletion writes the terminal completion summary document.
func (s *Store) SaveCompletion(summary *model.CompletionSummary) error {
	path := filepath.Join(s.picDir, stateDirName, "completion.json")
	return atomic.WriteJSON(path, summary)
}

func (s *Store) saveImmutable(kind model.RecordKind, id string, rec any) error {
	dir := s.recordDir(kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s dir: %w", kind, err)
	}
	path := s.recordPath(kind, id)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s record %s already exists", kind, id)
	}
	return atomic.WriteJSON(path, rec)
}

func (s *Store) loadRecord(kind model.RecordKind, id string, out any) error {
	path := s.recordPath(kind, id)
	if err := atomic.ReadJSON(path, out); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s record %s not found", kind, id)
		}
		// Quarantine the corrupt document; the index entry stays, but
		// the rest of the category remains readable.
		_ = atomic.Quarantine(s.picDir, path)
		return fmt.Errorf("load %s record %s: %w", kind, id, err)
	}
	return nil
}
