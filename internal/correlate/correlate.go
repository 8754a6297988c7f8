// Package correlate pairs asynchronous start/stop events reported by
// independent, stateless invocations. The pairing survives process
// boundaries by living in keyed files under the workspace runtime
// directory, keyed by the invocation token the host event source
// assigns to both halves of a pair.
package correlate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/picflow/picflow/internal/model"
)

type Store struct {
	dir string
}

// NewStore creates a correlation store rooted at picDir/runtime/correlation.
func NewStore(picDir string) *Store {
	return &Store{dir: filepath.Join(picDir, "runtime", "correlation")}
}

func (s *Store) keyPath(token, kind string) string {
	// Tokens come from the host and may contain path separators.
	safe := strings.NewReplacer("/", "_", string(os.PathSeparator), "_").Replace(token)
	return filepath.Join(s.dir, fmt.Sprintf("%s.%s", safe, kind))
}

// Begin mints a correlation id for the invocation and persists it under
// the caller's token so the matching End can find it from any process.
func (s *Store) Begin(token, kind string) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create correlation dir: %w", err)
	}
	id := model.NewAuditID()
	if err := os.WriteFile(s.keyPath(token, kind), []byte(id), 0644); err != nil {
		return "", fmt.Errorf("persist correlation id: %w", err)
	}
	return id, nil
}

// End looks up the id persisted by Begin and removes it. On a miss
// (the runtime store was cleared, or Begin was never observed) it
// mints a fresh id instead of failing: the outer workflow must never
// depend on audit completeness. The second return reports whether the
// id was actually paired.
func (s *Store) End(token, kind string) (string, bool) {
	path := s.keyPath(token, kind)
	data, err := os.ReadFile(path)
	if err != nil {
		return model.NewAuditID(), false
	}
	_ = os.Remove(path)

	id := strings.TrimSpace(string(data))
	if !model.ValidAuditID(id) {
		return model.NewAuditID(), false
	}
	return id, true
}

// Clear removes all pending correlation state, e.g. when a workflow is
// archived and restarted.
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("clear correlation store: %w", err)
	}
	return nil
}
