package guardrail

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchPolicies reloads the gate's policies when .rego files under the policy
// directory change. Events are debounced because editors fire several per save.
func (g *OPAGate) WatchPolicies(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(g.config.PolicyPath); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var reloadTimer *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".rego") {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(500*time.Millisecond, func() {
					if err := g.LoadPolicies(); err != nil {
						g.logger.Error("Guardrail policy reload failed", zap.Error(err))
						return
					}
					g.cache.Clear()
					g.logger.Info("Guardrail policies reloaded", zap.String("trigger", event.Name))
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				g.logger.Warn("Guardrail policy watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
