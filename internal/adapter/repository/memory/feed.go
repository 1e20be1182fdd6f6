package memory

import (
	"sync"
	"sync/atomic"
)

// feed delivers snapshot callbacks for one subscription on its own
// goroutine, in the order they were published.
type feed struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped atomic.Bool
	once    sync.Once
}

func newFeed() *feed {
	f := &feed{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *feed) push(fn func()) {
	if f.stopped.Load() {
		return
	}
	f.mu.Lock()
	f.queue = append(f.queue, fn)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *feed) run() {
	for {
		select {
		case <-f.done:
			return
		case <-f.wake:
		}

		for {
			f.mu.Lock()
			if len(f.queue) == 0 {
				f.mu.Unlock()
				break
			}
			fn := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()

			if f.stopped.Load() {
				return
			}
			fn()
		}
	}
}

// stop prevents any queued or future callback from starting. It does not
// wait, so it is safe to call from inside a callback.
func (f *feed) stop() {
	f.once.Do(func() {
		f.stopped.Store(true)
		close(f.done)
	})
}
