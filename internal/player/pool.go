package player

import "sync"

// DefaultMinPoolSize is the minimum number of workers a Pool keeps warm,
// matching the transport core's default worker pool size.
const DefaultMinPoolSize = 5

// Pool hands out Workers to the transport façade and reclaims them once a
// playback session ends. It keeps at least minSize idle workers warm;
// idle workers beyond that are reclaimed lazily on Release rather than
// torn down eagerly, since a pool sized for steady-state traffic rarely
// needs to shrink.
//
// Grounded on the same one-worker-per-active-session model as
// ako-backing-tracks' playback loop, generalized here to a reusable pool
// so a rapid stop/start doesn't pay worker-allocation cost every time.
type Pool struct {
	mu      sync.Mutex
	minSize int
	nextID  int
	idle    []*Worker
	busy    map[int]*Worker
}

// NewPool creates a Pool pre-warmed with minSize idle workers. A
// non-positive minSize falls back to DefaultMinPoolSize.
func NewPool(minSize int) *Pool {
	if minSize <= 0 {
		minSize = DefaultMinPoolSize
	}
	p := &Pool{minSize: minSize, busy: map[int]*Worker{}}
	for i := 0; i < minSize; i++ {
		p.idle = append(p.idle, p.spawnLocked())
	}
	return p
}

func (p *Pool) spawnLocked() *Worker {
	p.nextID++
	return newWorker(p.nextID, p)
}

// Acquire returns an idle worker, resetting its cancellation and speed
// state for a fresh run. If none are idle, one existing busy worker is
// signaled to exit (whoever called its Run releases it back to the pool
// once Run observes the signal and returns) and a fresh worker is spawned and returned
// immediately, so a caller is never blocked waiting for a slot to free up.
func (p *Pool) Acquire() *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	var w *Worker
	if n := len(p.idle); n > 0 {
		w = p.idle[n-1]
		p.idle = p.idle[:n-1]
	} else {
		for _, existing := range p.busy {
			existing.SignalExit()
			break
		}
		w = p.spawnLocked()
	}

	w.reset()
	p.busy[w.id] = w
	return w
}

// Release returns a worker to the idle pool once its Run loop has
// returned. Workers beyond minSize are reclaimed (dropped) rather than
// kept idle indefinitely.
func (p *Pool) Release(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.busy, w.id)
	if len(p.idle) < p.minSize {
		p.idle = append(p.idle, w)
	}
}

// idleLen reports the number of workers currently idle, for tests.
func (p *Pool) idleLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
