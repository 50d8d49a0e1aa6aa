package oidc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventTokenReceived           EventType = "token_received"
	EventTokenError              EventType = "token_error"
	EventTokenRefreshed          EventType = "token_refreshed"
	EventTokenRefreshError       EventType = "token_refresh_error"
	EventTokenValidationError    EventType = "token_validation_error"
	EventTokenExpires            EventType = "token_expires"
	EventLogout                  EventType = "logout"
	EventUserProfileLoaded       EventType = "user_profile_loaded"
	EventUserProfileLoadError    EventType = "user_profile_load_error"
	EventInvalidNonceInState     EventType = "invalid_nonce_in_state"
	EventDocumentLoaded          EventType = "document_loaded"
	EventDocumentLoadError       EventType = "document_load_error"
	EventDocumentValidationError EventType = "document_validation_error"
	EventJwksLoadError           EventType = "jwks_load_error"
	EventPopupTimeout            EventType = "popup_timeout"
)

// Event is a lifecycle event. It is implemented by SuccessEvent, InfoEvent and
// ErrorEvent only, so subscribers can switch over the three.
type Event interface {
	EventType() EventType
	isEvent()
}

// SuccessEvent reports a completed operation.
type SuccessEvent struct {
	Type EventType
	Info interface{}
}

// InfoEvent reports a state change, such as an approaching token expiry.
type InfoEvent struct {
	Type EventType
	Info interface{}
}

// ErrorEvent reports a failed operation. Params holds the raw redirect
// parameters when the failure came from one.
type ErrorEvent struct {
	Type   EventType
	Reason error
	Params map[string]string
}

func (e SuccessEvent) EventType() EventType { return e.Type }
func (e InfoEvent) EventType() EventType    { return e.Type }
func (e ErrorEvent) EventType() EventType   { return e.Type }

func (SuccessEvent) isEvent() {}
func (InfoEvent) isEvent()    {}
func (ErrorEvent) isEvent()   {}

// Events broadcasts lifecycle events to its current subscribers. There is no
// replay: a subscriber only sees events published after it subscribed.
type Events struct {
	mu     sync.RWMutex
	subs   map[uint64]func(Event)
	nextID uint64
	logger hclog.Logger
}

// NewEvents creates an event channel. A nil logger discards log output.
func NewEvents(logger hclog.Logger) *Events {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Events{
		subs:   map[uint64]func(Event){},
		logger: logger,
	}
}

// Subscribe registers fn for every subsequently published event. fn is called
// synchronously by Publish; a panicking fn is logged and does not affect other
// subscribers. The returned func unsubscribes and is safe to call twice.
func (e *Events) Subscribe(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Channel subscribes a buffered channel of the given size. Publish never
// blocks on it: when the buffer is full the event is dropped and logged. The
// returned func unsubscribes and closes the channel.
func (e *Events) Channel(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe := e.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			e.logger.Warn("dropping event, subscriber channel is full", "type", ev.EventType())
		}
	})
	return ch, func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}

// Publish delivers ev to every current subscriber, in subscription order,
// before returning.
func (e *Events) Publish(ev Event) {
	if ev == nil {
		return
	}
	e.mu.RLock()
	ids := make([]uint64, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	subs := make([]func(Event), 0, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		subs = append(subs, e.subs[id])
	}
	e.mu.RUnlock()

	e.logger.Debug("publishing event", "type", ev.EventType(), "subscribers", len(subs))
	for _, fn := range subs {
		e.deliver(fn, ev)
	}
}

func (e *Events) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("event subscriber panicked", "type", ev.EventType(), "panic", fmt.Sprint(r))
		}
	}()
	fn(ev)
}
