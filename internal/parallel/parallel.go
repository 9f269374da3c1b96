// Package parallel is the built-in dispatcher for the parallel loops of compiled pipelines.
package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/jitrt/jitrt/api"
)

// errTaskFailed stops the remaining workers of a loop once a task returned non-zero.
var errTaskFailed = errors.New("task failed")

// Pool runs tasks on at most Workers goroutines at a time.
type Pool struct {
	workers int
}

// New returns a Pool of the given size. A size below one uses runtime.GOMAXPROCS.
func New(workers int) *Pool {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// Workers returns the maximum number of goroutines running tasks of one loop.
func (p *Pool) Workers() int {
	return p.workers
}

// DoTask runs task for index on the calling goroutine.
func (p *Pool) DoTask(uc *api.UserContext, task api.Task, index int32, closure unsafe.Pointer) int32 {
	return task(uc, index, closure)
}

// DoParFor runs task once for every index in [min, min+extent). Workers claim indices in increasing order. After a
// task fails no further index is claimed, and DoParFor returns once the tasks already running have finished. The
// result is the first non-zero task result observed, or zero.
func (p *Pool) DoParFor(uc *api.UserContext, task api.Task, min, extent int32, closure unsafe.Pointer) int32 {
	if extent <= 0 {
		return 0
	}
	if extent == 1 || p.workers == 1 {
		for i := int32(0); i < extent; i++ {
			if status := task(uc, min+i, closure); status != 0 {
				return status
			}
		}
		return 0
	}

	workers := p.workers
	if int(extent) < workers {
		workers = int(extent)
	}

	// next is wider than an index so that claims past the end cannot wrap.
	var next atomic.Int64
	var first atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				i := next.Add(1) - 1
				if i >= int64(extent) {
					return nil
				}
				if status := task(uc, min+int32(i), closure); status != 0 {
					first.CompareAndSwap(0, status)
					return errTaskFailed
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return first.Load()
}
