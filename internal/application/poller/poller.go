// Package poller runs a task now and then on a fixed interval.
package poller

import (
	"context"
	"sync"
	"time"
)

// Poller is a running periodic task.
type Poller struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start runs task immediately and then every interval until Stop or ctx ends.
// Runs never overlap; a tick that arrives during a slow run is dropped.
// PRE: interval > 0, task is not nil
// POST: Goroutine started; Stop waits for it to exit
func Start(ctx context.Context, interval time.Duration, task func(context.Context)) *Poller {
	ctx, cancel := context.WithCancel(ctx)
	p := &Poller{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)
		task(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				task(ctx)
			}
		}
	}()

	return p
}

// Stop cancels the task's context and waits for the loop to exit.
// Calling Stop more than once is safe.
func (p *Poller) Stop() {
	p.once.Do(p.cancel)
	<-p.done
}

// Done is closed once the loop has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}
