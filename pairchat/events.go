package pairchat

// StateHandler receives channel state transitions.
type StateHandler func(StateEvent)

// EventHandler receives the raw data of one inbound event.
type EventHandler func(data []byte)

// Subscription identifies one registered listener.
// Go funcs are not comparable, so listeners are removed by subscription.
type Subscription struct {
	id    uint64
	event string
}

// Event returns the event name the listener is registered for.
func (s *Subscription) Event() string {
	if s == nil {
		return ""
	}
	return s.event
}
