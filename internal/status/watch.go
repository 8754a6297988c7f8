package status

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/picflow/picflow/internal/events"
)

// Watch re-renders the status view whenever the state document or the
// audit log changes, until ctx is cancelled. Filesystem events go
// through the bus so a slow render drops updates instead of backing up
// the watcher.
func (r *Reporter) Watch(ctx context.Context, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	stateDir := filepath.Dir(r.store.StatePath())
	logsDir := filepath.Join(r.store.Dir(), "logs")
	for _, dir := range []string{stateDir, logsDir} {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	bus := events.NewBus(16)
	defer bus.Close()

	render := func(events.Event) {
		fmt.Fprint(w, "\n")
		if err := r.Render(w, false); err != nil {
			fmt.Fprintf(w, "render: %v\n", err)
		}
	}
	unsubState := bus.Subscribe(events.KindStateChanged, render)
	defer unsubState()
	unsubAudit := bus.Subscribe(events.KindAuditAppended, render)
	defer unsubAudit()

	// Initial paint before any event arrives.
	render(nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				at := time.Now().UTC()
				if strings.HasPrefix(ev.Name, stateDir) {
					bus.Publish(events.StateChanged{Path: ev.Name, At: at})
				} else {
					bus.Publish(events.AuditAppended{Path: ev.Name, At: at})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				return fmt.Errorf("watcher: %w", err)
			}
		}
	})
	return g.Wait()
}
