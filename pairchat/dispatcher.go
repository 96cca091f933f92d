package pairchat

import "sync"

type listener struct {
	sub *Subscription
	fn  EventHandler
}

// Dispatcher routes inbound envelopes to registered listeners.
// The zero value is ready to use.
type Dispatcher struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]listener
	onError   func(error)
	onState   StateHandler
}

func (d *Dispatcher) SetOnError(fn func(error)) {
	d.mu.Lock()
	d.onError = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnStateChanged(fn StateHandler) {
	d.mu.Lock()
	d.onState = fn
	d.mu.Unlock()
}

// Subscribe adds a listener for event. Listeners for the same event are
// called in registration order for each envelope.
func (d *Dispatcher) Subscribe(event string, fn EventHandler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addLocked(event, fn)
}

// Unsubscribe removes the listener. Unknown or nil subscriptions are ignored.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	d.removeLocked(sub)
	d.mu.Unlock()
}

// Resubscribe removes old and adds fn under one lock, so a concurrent
// Dispatch sees exactly one of the two listeners.
func (d *Dispatcher) Resubscribe(old *Subscription, event string, fn EventHandler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old != nil {
		d.removeLocked(old)
	}
	return d.addLocked(event, fn)
}

// Listeners returns the number of listeners registered for event.
func (d *Dispatcher) Listeners(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[event])
}

func (d *Dispatcher) addLocked(event string, fn EventHandler) *Subscription {
	if d.listeners == nil {
		d.listeners = make(map[string][]listener)
	}
	d.nextID++
	sub := &Subscription{id: d.nextID, event: event}
	d.listeners[event] = append(d.listeners[event], listener{sub: sub, fn: fn})
	return sub
}

func (d *Dispatcher) removeLocked(sub *Subscription) {
	ls := d.listeners[sub.event]
	for i, l := range ls {
		if l.sub.id != sub.id {
			continue
		}
		next := make([]listener, 0, len(ls)-1)
		next = append(next, ls[:i]...)
		next = append(next, ls[i+1:]...)
		if len(next) == 0 {
			delete(d.listeners, sub.event)
		} else {
			d.listeners[sub.event] = next
		}
		return
	}
}

// Dispatch delivers one envelope. It holds the read lock while listeners
// run, which is what makes Resubscribe atomic with respect to delivery.
// Listeners must not subscribe or unsubscribe from inside the callback.
func (d *Dispatcher) Dispatch(env Envelope) {
	if env.Type == TypeError {
		if env.Error != nil {
			d.fireError(FromProtocolError(env.Error))
		}
		return
	}
	if env.Type != TypeEvent {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, l := range d.listeners[env.Event] {
		l.fn(env.Data)
	}
}

func (d *Dispatcher) fireError(err error) {
	d.mu.RLock()
	fn := d.onError
	d.mu.RUnlock()
	if fn != nil && err != nil {
		fn(err)
	}
}

func (d *Dispatcher) fireState(ev StateEvent) {
	d.mu.RLock()
	fn := d.onState
	d.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}
