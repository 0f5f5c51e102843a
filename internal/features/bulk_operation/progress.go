package bulk_operation

import (
	"sync"
)

type ProgressFunc func(OperationProgress)

// progressBus fans progress snapshots out to callbacks, in emission order,
// and to buffered channels that drop snapshots instead of blocking a run.
type progressBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]ProgressFunc
	order    []int
	channels map[int]chan OperationProgress
}

func newProgressBus() *progressBus {
	return &progressBus{
		handlers: make(map[int]ProgressFunc),
		channels: make(map[int]chan OperationProgress),
	}
}

func (b *progressBus) subscribe(fn ProgressFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[id] = fn
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *progressBus) subscribeChan(buffer int) (<-chan OperationProgress, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan OperationProgress, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.channels[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.channels, id)
			close(ch)
		})
	}
}

func (b *progressBus) publish(p OperationProgress) {
	b.mu.RLock()
	handlers := make([]ProgressFunc, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	for _, ch := range b.channels {
		select {
		case ch <- p:
		default:
			// slow consumer, drop this snapshot
		}
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(p)
	}
}
