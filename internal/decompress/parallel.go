package decompress

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// parallelFor runs worker(i) for every i in [0, n) across up to
// runtime.NumCPU() goroutines. Work items are claimed through a shared
// atomic counter, so an item that finishes early frees its goroutine to
// pick up the next one instead of idling behind a static split. Workers
// must confine their writes to disjoint regions of the output; the only
// shared state they may touch is the image's mutex-guarded error log and
// bad-pixel list.
func parallelFor(n int, worker func(i int)) {
	if n <= 0 {
		return
	}
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			worker(i)
		}
		return
	}

	var next atomic.Int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1)) - 1
				if i >= n {
					return
				}
				worker(i)
			}
		}()
	}
	wg.Wait()
}
