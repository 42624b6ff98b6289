package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the rule set from path whenever the file changes, until ctx
// is canceled. Events are debounced so editors that write in multiple steps
// trigger a single reload.
func (e *Engine) Watch(ctx context.Context, path string, log *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						log.Error("failed to re-add rules file watch", "path", ev.Name, "err", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				if err := e.LoadFile(path); err != nil {
					log.Error("rules reload failed", "path", path, "err", err)
				} else {
					log.Info("rules reloaded", "path", path, "count", e.Count())
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error("rules watch error", "err", err)
			}
		}
	}()
	return nil
}
