package bus

import (
	"sync"

	"github.com/google/uuid"
)

// Signal names published by the push listener.
const (
	SignalListenerReady        = "listener-ready"
	SignalNotificationReceived = "notification-received"
	SignalCallCaptured         = "call-captured"
)

// Dispatcher is an in-process fire-and-forget signal bus. Publish delivers
// to every current subscriber of the signal; a subscriber that is not
// draining its channel misses the message rather than blocking the
// publisher.
type Dispatcher struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan any
}

func New() *Dispatcher {
	return &Dispatcher{subs: make(map[string]map[string]chan any)}
}

// Subscribe registers for a signal and returns the subscription id and the
// delivery channel.
func (d *Dispatcher) Subscribe(signal string) (string, <-chan any) {
	ch := make(chan any, 8)
	id := uuid.NewString()

	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.subs[signal]
	if !ok {
		set = make(map[string]chan any)
		d.subs[signal] = set
	}
	set[id] = ch
	return id, ch
}

func (d *Dispatcher) Unsubscribe(signal, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.subs[signal]
	if !ok {
		return
	}
	if ch, ok := set[id]; ok {
		delete(set, id)
		close(ch)
	}
	if len(set) == 0 {
		delete(d.subs, signal)
	}
}

// Publish sends under the read lock: the sends never block, and Unsubscribe
// closes channels under the write lock, so a racing unsubscribe cannot close
// a channel mid-send.
func (d *Dispatcher) Publish(signal string, payload any) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, ch := range d.subs[signal] {
		select {
		case ch <- payload:
		default:
		}
	}
}
