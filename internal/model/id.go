package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Audit correlation ids are timestamp based so independent invocations
// are distinguishable without coordination. The primary form carries a
// nanosecond timestamp; when the clock reports only whole seconds the
// fallback form is used, prefixed "AUD-S" so the two never parse alike.
const (
	auditIDPrefix         = "AUD-"
	auditIDFallbackPrefix = "AUD-S"
)

var (
	auditIDRegex    = regexp.MustCompile(`^AUD-[0-9]{15,20}$`)
	fallbackIDRegex = regexp.MustCompile(`^AUD-S[0-9]{10}-[0-9a-f]{4}$`)
	recordIDRegex   = regexp.MustCompile(`^(DEC|CON)-[0-9]{3,}$`)
)

// NewAuditID mints a correlation id for one audit event.
func NewAuditID() string {
	now := time.Now()
	if now.UnixNano()%int64(time.Second) != 0 {
		return fmt.Sprintf("%s%d", auditIDPrefix, now.UnixNano())
	}
	// Sub-second resolution unavailable; disambiguate with random bits.
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s%d-0000", auditIDFallbackPrefix, now.Unix())
	}
	return fmt.Sprintf("%s%d-%s", auditIDFallbackPrefix, now.Unix(), hex.EncodeToString(b))
}

func ValidAuditID(id string) bool {
	return auditIDRegex.MatchString(id) || fallbackIDRegex.MatchString(id)
}

// NewWorkflowID returns a fresh opaque workflow instance id.
func NewWorkflowID() string {
	return uuid.New().String()
}

// Handoff records are named by phase pair (see HandoffID), not by
// sequence, so only decisions and conflicts allocate sequential ids.
var recordPrefixes = map[RecordKind]string{
	KindDecision: "DEC",
	KindConflict: "CON",
}

// FormatRecordID builds the zero-padded sequential id for a record kind,
// e.g. FormatRecordID(KindDecision, 1) -> "DEC-001".
func FormatRecordID(kind RecordKind, n int) (string, error) {
	prefix, ok := recordPrefixes[kind]
	if !ok {
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
	if n < 1 {
		return "", fmt.Errorf("record sequence must be positive, got %d", n)
	}
	return fmt.Sprintf("%s-%03d", prefix, n), nil
}

// ParseRecordSequence extracts the sequence number from a record id.
func ParseRecordSequence(id string) (int, error) {
	if !recordIDRegex.MatchString(id) {
		return 0, fmt.Errorf("invalid record id %q", id)
	}
	n, err := strconv.Atoi(id[strings.Index(id, "-")+1:])
	if err != nil {
		return 0, fmt.Errorf("parse sequence from %q: %w", id, err)
	}
	return n, nil
}

// HandoffID names a handoff record by its phase pair, with a revision
// suffix from the second revision on: "HND-research-planning",
// "HND-research-planning-r2".
func HandoffID(from, to PhaseName, revision int) string {
	id := fmt.Sprintf("HND-%s-%s", from, to)
	if revision > 1 {
		id = fmt.Sprintf("%s-r%d", id, revision)
	}
	return id
}
