package gesture

import (
	"context"
	"sync"

	"panelcal/internal/action"
	appLog "panelcal/internal/log"
)

// AsyncDispatcher runs each dispatch on its own goroutine, for hosts whose
// input loop must not wait on remote effects. Errors are logged.
type AsyncDispatcher struct {
	next Dispatcher
	wg   sync.WaitGroup
}

func Async(next Dispatcher) *AsyncDispatcher {
	return &AsyncDispatcher{next: next}
}

// Dispatch always returns nil; the real result is logged.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, a action.Action, target string) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.next.Dispatch(context.WithoutCancel(ctx), a, target); err != nil {
			appLog.Error("gesture action failed", err, "action", a.Type(), "target", target)
		}
	}()
	return nil
}

// Wait blocks until every started dispatch returned.
func (d *AsyncDispatcher) Wait() { d.wg.Wait() }
