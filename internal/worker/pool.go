package worker

import (
	"context"
	"sync"

	"github.com/caesium-cloud/crucible/internal/metrics"
)

// Pool bounds concurrent goroutines using a semaphore.
type Pool struct {
	role string
	sem  chan struct{}
	wg   sync.WaitGroup
}

// NewPool creates a pool running at most size tasks at once. In-flight tasks
// are reported on the busy gauge under role.
func NewPool(role string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{role: role, sem: make(chan struct{}, size)}
}

func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
		p.wg.Add(1)
		busy := metrics.WorkersBusy.WithLabelValues(p.role)
		busy.Inc()
		go func() {
			defer func() {
				busy.Dec()
				<-p.sem
				p.wg.Done()
			}()
			fn()
		}()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Available reports how many more tasks could start without blocking.
func (p *Pool) Available() int {
	return cap(p.sem) - len(p.sem)
}

func (p *Pool) Wait() {
	p.wg.Wait()
}
