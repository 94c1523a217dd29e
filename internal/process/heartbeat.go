package process

import (
	"context"
	"sync"
	"time"
)

// heartbeat periodically touches a process's updatedAt while it runs, so
// supervisors never mistake a long-running process for an expired one.
type heartbeat struct {
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// startHeartbeat begins touching the handle every interval. The loop exits
// when the process finishes or when stopWait is called.
func startHeartbeat(h *Handle, interval time.Duration) *heartbeat {
	hb := &heartbeat{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(hb.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.finished.Chan():
				return
			case <-hb.stopCh:
				return
			case <-ticker.C:
				if err := h.Touch(context.Background()); err != nil {
					h.log.Warn("heartbeat touch failed", "error", err)
				}
			}
		}
	}()
	return hb
}

// stopWait stops the loop and blocks until it has exited.
func (hb *heartbeat) stopWait() {
	hb.stopOnce.Do(func() { close(hb.stopCh) })
	<-hb.done
}
