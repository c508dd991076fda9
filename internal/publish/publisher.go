package publish

import (
	"sync"
	"sync/atomic"

	"jordanella.com/cost-ruler/internal/estimator"
	"jordanella.com/cost-ruler/internal/events"
)

// Publisher receives every snapshot. Implementations must not block.
type Publisher interface {
	Publish(snap estimator.Snapshot)
}

// Fanout forwards snapshots to several publishers in order
type Fanout struct {
	mu   sync.RWMutex
	pubs []Publisher
}

// NewFanout creates a fanout over pubs
func NewFanout(pubs ...Publisher) *Fanout {
	return &Fanout{pubs: pubs}
}

// Add registers another publisher
func (f *Fanout) Add(p Publisher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, p)
}

// Publish implements Publisher
func (f *Fanout) Publish(snap estimator.Snapshot) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.pubs {
		p.Publish(snap)
	}
}

// BusPublisher turns snapshots into state.updated events, dropping them
// when the bus queue is full
type BusPublisher struct {
	bus     events.EventBus
	dropped atomic.Uint64
	onDrop  func()
}

// NewBusPublisher creates a publisher onto bus
func NewBusPublisher(bus events.EventBus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

// OnDrop registers fn to run for every dropped snapshot
func (p *BusPublisher) OnDrop(fn func()) {
	p.onDrop = fn
}

// Publish implements Publisher
func (p *BusPublisher) Publish(snap estimator.Snapshot) {
	if p.bus.TryPublish(events.NewStateUpdatedEvent(snap)) {
		return
	}
	p.dropped.Add(1)
	if p.onDrop != nil {
		p.onDrop()
	}
}

// Dropped returns how many snapshots the bus refused
func (p *BusPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Func adapts a function to Publisher
type Func func(snap estimator.Snapshot)

// Publish implements Publisher
func (f Func) Publish(snap estimator.Snapshot) {
	f(snap)
}
