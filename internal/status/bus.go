// Package status distributes sync progress events to observers.
package status

import (
	"sync/atomic"
	"time"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
)

// Bus fans out SyncStatus values to subscribers and remembers the most
// recent one. Every emission supersedes the previous; slow subscribers
// miss intermediate values rather than blocking the publisher.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable
// state (subscribers + last value). Public methods communicate with this
// loop through channels, so no mutexes are required.
type Bus struct {
	subscribeCh   chan chan models.SyncStatus
	unsubscribeCh chan chan models.SyncStatus
	publishCh     chan models.SyncStatus
	lastReqCh     chan chan models.SyncStatus
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBus creates a running status bus.
func NewBus() *Bus {
	b := &Bus{
		subscribeCh:   make(chan chan models.SyncStatus),
		unsubscribeCh: make(chan chan models.SyncStatus),
		publishCh:     make(chan models.SyncStatus, 64),
		lastReqCh:     make(chan chan models.SyncStatus),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	defer close(b.stopped)

	subscribers := make(map[chan models.SyncStatus]struct{})
	last := models.SyncStatus{Phase: models.PhaseIdle, At: time.Now()}

	for {
		select {
		case <-b.stopCh:
			for ch := range subscribers {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			subscribers[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := subscribers[ch]; ok {
				delete(subscribers, ch)
				close(ch)
			}

		case s := <-b.publishCh:
			last = s
			for ch := range subscribers {
				select {
				case ch <- s:
				default:
					// Subscriber buffer full; skip to avoid blocking the loop.
				}
			}

		case resp := <-b.lastReqCh:
			resp <- last

		case resp := <-b.countReqCh:
			resp <- len(subscribers)
		}
	}
}

// Publish sends a status value to all subscribers and records it as the
// latest. A zero At is stamped with the current time.
func (b *Bus) Publish(s models.SyncStatus) {
	if b.closed.Load() {
		return
	}
	if s.At.IsZero() {
		s.At = time.Now()
	}
	select {
	case b.publishCh <- s:
	case <-b.stopped:
	}
}

// Subscribe adds an observer and returns its channel. The channel is closed
// on Unsubscribe or bus shutdown.
func (b *Bus) Subscribe() chan models.SyncStatus {
	ch := make(chan models.SyncStatus, 16)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes an observer and closes its channel.
func (b *Bus) Unsubscribe(ch chan models.SyncStatus) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// Last returns the most recently published status, or the initial idle
// value when nothing has been published yet.
func (b *Bus) Last() models.SyncStatus {
	if b.closed.Load() {
		return models.SyncStatus{Phase: models.PhaseIdle}
	}
	resp := make(chan models.SyncStatus, 1)
	select {
	case b.lastReqCh <- resp:
	case <-b.stopped:
		return models.SyncStatus{Phase: models.PhaseIdle}
	}
	select {
	case s := <-resp:
		return s
	case <-b.stopped:
		return models.SyncStatus{Phase: models.PhaseIdle}
	}
}

// SubscriberCount returns the number of active observers.
func (b *Bus) SubscriberCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Close stops the event loop and closes all subscriber channels.
func (b *Bus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}
