// Package audit provides the append-only audit trail: a machine-oriented
// JSONL log, a coarse human-skimmable status log, and phase-scoped full
// capture files. Logging is strictly best-effort; no write here may ever
// fail the caller's primary action.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/picflow/picflow/internal/model"
)

const (
	logsDirName    = "logs"
	auditFileName  = "audit.jsonl"
	statusFileName = "status.log"
	captureDirName = "capture"
)

type EventType string

const (
	EventAgentStart        EventType = "agent_start"
	EventAgentComplete     EventType = "agent_complete"
	EventToolUse           EventType = "tool_use"
	EventDecisionRecorded  EventType = "decision_recorded"
	EventConflictEscalated EventType = "conflict_escalated"
	EventPhaseHandoff      EventType = "phase_handoff"
)

// Entry is one audit record. Entries are append-only: a reader can
// reconstruct a workflow's timeline purely by scanning in file order.
// Every entry gets its own ID; entries belonging to one invocation
// share a CorrelationID instead.
type Entry struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Workflow      string          `json:"workflow"`
	Phase         model.PhaseName `json:"phase,omitempty"`
	EventType     EventType       `json:"event_type"`
	Actor         string          `json:"actor,omitempty"`
	Tool          string          `json:"tool,omitempty"`

	InputPreview  string `json:"input_preview,omitempty"`
	InputLength   int    `json:"input_length,omitempty"`
	OutputPreview string `json:"output_preview,omitempty"`
	OutputLength  int    `json:"output_length,omitempty"`

	Details map[string]any `json:"details,omitempty"`

	// Checksum covers the entry's JSON encoding with this field zeroed.
	// A line edited after the fact no longer matches it.
	Checksum uint32 `json:"checksum"`
}

// Logger appends audit entries. Each write opens, appends one record,
// and closes, so independently-invoked processes interleave safely; a
// single O_APPEND write is atomic on the filesystems we target.
type Logger struct {
	picDir string
	limits model.AuditConfig
	// ready gates all writes: before the workflow is explicitly
	// initialized every audit call is a silent no-op.
	ready func() bool
}

func NewLogger(picDir string, limits model.AuditConfig, ready func() bool) *Logger {
	return &Logger{picDir: picDir, limits: limits, ready: ready}
}

func (l *Logger) auditPath() string {
	return filepath.Join(l.picDir, logsDirName, auditFileName)
}

func (l *Logger) statusPath() string {
	return filepath.Join(l.picDir, logsDirName, statusFileName)
}

// Record appends one entry to the audit log and a summary line to the
// status log. Missing id/timestamp fields are filled in.
func (l *Logger) Record(e *Entry) error {
	if l.ready != nil && !l.ready() {
		return nil
	}
	if e.ID == "" {
		e.ID = model.NewAuditID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	sum, err := entryChecksum(e)
	if err != nil {
		return fmt.Errorf("checksum audit entry: %w", err)
	}
	e.Checksum = sum

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	if err := appendLine(l.auditPath(), data); err != nil {
		return err
	}

	// The status log is for humans; its failure is even less
	// interesting than the audit log's.
	summary := fmt.Sprintf("%s [%s] %s %s %s\n",
		e.Timestamp.Format(time.RFC3339), e.Phase, e.EventType, e.Actor, e.Tool)
	_ = appendLine(l.statusPath(), []byte(summary))

	return nil
}

// Try records an entry and swallows any failure. This is the form every
// primary flow uses: audit completeness is secondary to task success.
func (l *Logger) Try(e *Entry) {
	_ = l.Record(e)
}

func appendLine(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return f.Sync()
}

// entryChecksum hashes the entry's JSON encoding with the checksum
// field zeroed. encoding/json sorts map keys, so the encoding is stable
// across marshal/unmarshal round trips.
func entryChecksum(e *Entry) (uint32, error) {
	c := *e
	c.Checksum = 0
	data, err := json.Marshal(&c)
	if err != nil {
		return 0, err
	}
	return djb2(data), nil
}

func djb2(data []byte) uint32 {
	var h uint32 = 5381
	for _, b := range data {
		h = h*33 + uint32(b)
	}
	return h
}

// VerifyIntegrity rescans the audit log and returns the ids of entries
// whose content no longer matches their stored checksum. An empty
// return means the trail is intact up to the first unparseable record,
// if any.
func (l *Logger) VerifyIntegrity() ([]string, error) {
	entries, err := l.Tail(0)
	if err != nil {
		return nil, err
	}
	var tampered []string
	for i := range entries {
		e := entries[i]
		sum, err := entryChecksum(&e)
		if err != nil {
			return nil, fmt.Errorf("checksum entry %s: %w", e.ID, err)
		}
		if sum != e.Checksum {
			tampered = append(tampered, e.ID)
		}
	}
	return tampered, nil
}

// Preview truncates s to limit bytes, backing off to a rune boundary so
// a multi-byte character is never split, and reports the full length so
// consumers know how much was elided.
func Preview(s string, limit int) (string, int) {
	if limit > 0 && len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut], len(s)
	}
	return s, len(s)
}

func (l *Logger) ToolPreview(s string) (string, int) {
	return Preview(s, l.limits.ToolPreviewChars)
}

func (l *Logger) PromptPreview(s string) (string, int) {
	return Preview(s, l.limits.PromptPreviewChars)
}

func (l *Logger) OutputPreview(s string) (string, int) {
	return Preview(s, l.limits.OutputPreviewChars)
}

// CaptureDirection selects the input or output side file.
type CaptureDirection string

const (
	CaptureInput  CaptureDirection = "input"
	CaptureOutput CaptureDirection = "output"
)

// WriteCapture stores the full, untruncated payload for a phase. Only
// the most recent payload per (workflow, phase, direction) is kept.
func (l *Logger) WriteCapture(workflow string, phase model.PhaseName, dir CaptureDirection, content string) error {
	if l.ready != nil && !l.ready() {
		return nil
	}
	capDir := filepath.Join(l.picDir, logsDirName, captureDirName, workflow)
	if err := os.MkdirAll(capDir, 0755); err != nil {
		return fmt.Errorf("create capture dir: %w", err)
	}
	path := filepath.Join(capDir, fmt.Sprintf("%s.%s.txt", phase, dir))
	return os.WriteFile(path, []byte(content), 0644)
}

// Tail returns the last n entries of the audit log in file order,
// stopping at the first unparseable record.
func (l *Logger) Tail(n int) ([]Entry, error) {
	f, err := os.Open(l.auditPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			break
		}
		entries = append(entries, e)
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}
