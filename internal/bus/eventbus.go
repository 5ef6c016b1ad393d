package bus

import "sync"

// Handler receives a delivered message. Handlers run on their own
// goroutine per dispatch, so a slow handler cannot stall delivery to
// other subscribers of the same topic.
type Handler func(Message)

// topicKey builds a NUL-terminated topic so that "command" can never
// prefix-match "command_response" or any future longer message type.
func topicKey(msgType MessageType, target string) string {
	return string(msgType) + "\x00" + target
}

// EventBus is the publish/subscribe channel: every subscriber registered
// for a message type (optionally scoped to a target service ID) receives
// every published message of that type. It never drops a publish.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
}

// NewEventBus constructs an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers h for every message of msgType. If target is
// non-empty, h only receives messages whose Envelope.TargetServiceID (or
// TargetServiceType) equals target; an empty target means "all".
func (b *EventBus) Subscribe(msgType MessageType, target string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := topicKey(msgType, target)
	b.subscribers[key] = append(b.subscribers[key], h)
}

// Publish fans msg out to every matching subscriber. Each handler
// invocation runs in its own goroutine.
func (b *EventBus) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	broadcastKey := topicKey(msg.MessageType, "")
	for _, h := range b.subscribers[broadcastKey] {
		go h(msg)
	}

	if msg.TargetServiceID != "" {
		for _, h := range b.subscribers[topicKey(msg.MessageType, msg.TargetServiceID)] {
			go h(msg)
		}
	}
	if msg.TargetServiceType != "" {
		for _, h := range b.subscribers[topicKey(msg.MessageType, msg.TargetServiceType)] {
			go h(msg)
		}
	}
}
