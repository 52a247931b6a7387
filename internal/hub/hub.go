package hub

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriberBuffer is how many undelivered events a single subscriber may
// lag behind before it is considered dead and dropped.
const subscriberBuffer = 64

// Subscription is the handle returned by Subscribe. Events arrive on C()
// until the subscription is removed, at which point C() is closed.
type Subscription struct {
	id    uuid.UUID
	scope Scope
	ch    chan Event

	mutex  sync.Mutex
	closed bool
}

func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) Scope() Scope {
	return s.scope
}

// deliver reports false when the subscriber's buffer is full. Delivery to an
// already-closed subscription counts as success, the subscriber is gone.
func (s *Subscription) deliver(event Event) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return true
	}

	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

func (s *Subscription) markClosed() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub is the in-memory fan-out registry. It holds live subscriber sets per
// scope for the lifetime of the process and nothing is ever persisted; a
// restart starts empty and clients re-subscribe.
type Hub struct {
	sugar *zap.SugaredLogger

	mutex  sync.RWMutex
	scopes map[Scope][]*Subscription
}

func New(sugar *zap.SugaredLogger) *Hub {
	return &Hub{
		sugar:  sugar,
		scopes: make(map[Scope][]*Subscription),
	}
}

// Subscribe registers a new subscriber under the scope. Access control is the
// caller's job; the hub accepts every subscription. Repeat subscriptions from
// the same client are not deduplicated.
func (h *Hub) Subscribe(scope Scope) *Subscription {
	sub := &Subscription{
		id:    uuid.New(),
		scope: scope,
		ch:    make(chan Event, subscriberBuffer),
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.scopes[scope] = append(h.scopes[scope], sub)
	h.sugar.Debugf("Subscription [%s] added to scope %v, now %d subscribers", sub.id, scope, len(h.scopes[scope]))

	return sub
}

// Unsubscribe removes the subscription and closes its channel. Calling it
// again on the same handle is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	subs := h.scopes[sub.scope]

	for i := range subs {
		if subs[i].id == sub.id {
			subs[i] = subs[len(subs)-1]
			h.scopes[sub.scope] = subs[:len(subs)-1]
			h.sugar.Debugf("Subscription [%s] removed from scope %v", sub.id, sub.scope)
			break
		}
	}

	sub.markClosed()

	// delete scope from map if no one is subscribed to it
	if len(h.scopes[sub.scope]) == 0 {
		delete(h.scopes, sub.scope)
	}
}

// Publish delivers the event to every current subscriber of the scope,
// best-effort. A subscriber whose buffer is full gets dropped and removed so
// one stalled connection never blocks the rest. Publishing to a scope with no
// subscribers does nothing.
func (h *Hub) Publish(scope Scope, event Event) {
	h.mutex.RLock()
	subs := h.scopes[scope]
	snapshot := make([]*Subscription, len(subs))
	copy(snapshot, subs)
	h.mutex.RUnlock()

	var dead []*Subscription

	for _, sub := range snapshot {
		if !sub.deliver(event) {
			h.sugar.Warnf("Subscription [%s] on scope %v fell too far behind, dropping it", sub.id, scope)
			dead = append(dead, sub)
		}
	}

	if len(dead) == 0 {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, sub := range dead {
		h.removeLocked(sub)
	}
}

// SubscriberCount reports how many subscribers a scope currently has.
func (h *Hub) SubscriberCount(scope Scope) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.scopes[scope])
}
