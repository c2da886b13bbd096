package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// LoopPool owns N worker Loops, each on its own goroutine, and hands
// them out round-robin. With N == 0 it is a pass-through to the base
// loop, which then also serves I/O.
type LoopPool struct {
	baseLoop *Loop
	name     string

	mu         sync.Mutex
	started    bool
	numThreads int
	loops      []*Loop
	threads    []*thread
	next       atomic.Uint64
}

// NewLoopPool returns a pool rooted at baseLoop, the loop hosting the
// Acceptor.
func NewLoopPool(baseLoop *Loop, name string) *LoopPool {
	return &LoopPool{baseLoop: baseLoop, name: name}
}

// SetThreadNum configures how many worker loops Start will create. It
// must be called before Start.
func (p *LoopPool) SetThreadNum(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		panic("reactor: SetThreadNum called after Start")
	}
	p.numThreads = n
}

// Start spawns each worker goroutine and blocks until every worker's Loop
// has been constructed and initCB (if non-nil) has run once for it, on
// that worker's goroutine, before the loop starts running. If no worker count was configured (N == 0), initCB is
// invoked on the base loop instead, which also serves I/O thereafter.
func (p *LoopPool) Start(initCB func(*Loop)) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	n := p.numThreads
	p.mu.Unlock()

	if n == 0 {
		if initCB != nil {
			initCB(p.baseLoop)
		}
		return nil
	}

	type result struct {
		loop *Loop
		err  error
	}
	results := make([]result, n)
	var wg sync.WaitGroup
	wg.Add(n)

	threads := make([]*thread, n)
	for i := 0; i < n; i++ {
		i := i
		threadName := fmt.Sprintf("%s-%d", p.name, i)
		t := newThread(threadName, func() {
			loop, err := NewLoop()
			results[i] = result{loop: loop, err: err}
			if err == nil {
				loop.setName(threadName)
				if initCB != nil {
					initCB(loop)
				}
			}
			wg.Done()
			if err != nil {
				return
			}
			_ = loop.Run()
		})
		threads[i] = t
		t.start()
	}

	wg.Wait()

	p.mu.Lock()
	p.threads = threads
	for _, r := range results {
		if r.err != nil {
			p.mu.Unlock()
			return r.err
		}
		p.loops = append(p.loops, r.loop)
	}
	p.mu.Unlock()

	return nil
}

// NextLoop returns the next loop in round-robin order, or the base loop
// if no workers were configured.
func (p *LoopPool) NextLoop() *Loop {
	p.mu.Lock()
	loops := p.loops
	p.mu.Unlock()

	if len(loops) == 0 {
		return p.baseLoop
	}
	idx := p.next.Add(1) - 1
	return loops[idx%uint64(len(loops))]
}

// AllLoops returns every worker loop, or the base loop alone if no
// workers were configured.
func (p *LoopPool) AllLoops() []*Loop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) == 0 {
		return []*Loop{p.baseLoop}
	}
	out := make([]*Loop, len(p.loops))
	copy(out, p.loops)
	return out
}
