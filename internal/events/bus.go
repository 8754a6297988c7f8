// Package events provides a small non-blocking pub/sub bus. The live
// status view subscribes to it; filesystem watch events are published
// into it so slow renders never stall the watcher.
package events

import (
	"sync"
	"time"
)

// Kind names a class of bus event.
type Kind string

const (
	KindStateChanged  Kind = "state_changed"
	KindAuditAppended Kind = "audit_appended"
)

// Event is a typed bus payload. Each kind carries its own struct;
// subscribers that need the payload type-switch on the event.
type Event interface {
	kind() Kind
}

// StateChanged reports that the workflow state document was rewritten.
type StateChanged struct {
	Path string
	At   time.Time
}

func (StateChanged) kind() Kind { return KindStateChanged }

// AuditAppended reports that the audit log grew.
type AuditAppended struct {
	Path string
	At   time.Time
}

func (AuditAppended) kind() Kind { return KindAuditAppended }

type Subscriber func(Event)

// Bus delivers events asynchronously via buffered channels. A full
// subscriber channel drops the event rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]chan Event
	bufferSize  int
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[Kind][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one event kind and returns an unsubscribe
// function. fn runs on its own goroutine; a panic in it is contained.
func (b *Bus) Subscribe(k Kind, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[k] = append(b.subscribers[k], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					_ = recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[k]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[k] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish fans an event out to all subscribers of its kind without
// blocking; subscribers that cannot keep up miss it.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[e.kind()] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, k)
	}
}
