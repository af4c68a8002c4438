package chain

import "sync"

// Feed fans account events out to subscribers without blocking the
// publisher. A slow subscriber sees a compacted backlog: the latest event,
// preceded by the latest disconnect when one happened after its last read.
// Disconnects are never dropped, so a session always ends even when the same
// identity reconnects before the subscriber catches up.
type Feed struct {
	mu   sync.Mutex
	subs map[int]chan AccountEvent
	next int
}

// feedDepth is the longest compacted backlog: a disconnect then a connect.
const feedDepth = 2

// Subscribe registers a subscriber.
func (f *Feed) Subscribe() (<-chan AccountEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]chan AccountEvent)
	}
	id := f.next
	f.next++
	ch := make(chan AccountEvent, feedDepth)
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (f *Feed) Publish(ev AccountEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		backlog := drain(ch)
		for _, e := range compact(append(backlog, ev)) {
			ch <- e
		}
	}
}

// drain empties ch. Only Publish sends, under f.mu, so refilling up to
// feedDepth afterwards cannot block.
func drain(ch chan AccountEvent) []AccountEvent {
	var out []AccountEvent
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

// compact keeps the last disconnect and the last event after it.
func compact(events []AccountEvent) []AccountEvent {
	last := events[len(events)-1]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Connected {
			continue
		}
		if i == len(events)-1 {
			return []AccountEvent{last}
		}
		return []AccountEvent{events[i], last}
	}
	return []AccountEvent{last}
}
