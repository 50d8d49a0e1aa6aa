package oidc

import (
	"errors"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvents_Publish(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := NewEvents(nil)

	var got []string
	unsubA := e.Subscribe(func(ev Event) { got = append(got, "a:"+string(ev.EventType())) })
	e.Subscribe(func(ev Event) { got = append(got, "b:"+string(ev.EventType())) })

	e.Publish(SuccessEvent{Type: EventTokenReceived})
	assert.Equal([]string{"a:token_received", "b:token_received"}, got)

	unsubA()
	unsubA()
	got = nil
	e.Publish(InfoEvent{Type: EventTokenExpires, Info: AccessTokenKind})
	assert.Equal([]string{"b:token_expires"}, got)

	got = nil
	e.Publish(nil)
	assert.Empty(got)
}

func TestEvents_noReplay(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := NewEvents(hclog.NewNullLogger())
	e.Publish(SuccessEvent{Type: EventDocumentLoaded})

	var got []Event
	e.Subscribe(func(ev Event) { got = append(got, ev) })
	assert.Empty(got)
	e.Publish(SuccessEvent{Type: EventTokenReceived})
	assert.Len(got, 1)
}

func TestEvents_panickingSubscriber(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := NewEvents(nil)
	e.Subscribe(func(Event) { panic("boom") })
	delivered := false
	e.Subscribe(func(Event) { delivered = true })

	assert.NotPanics(func() { e.Publish(ErrorEvent{Type: EventTokenError, Reason: errors.New("x")}) })
	assert.True(delivered)
}

func TestEvents_nilSubscriber(t *testing.T) {
	t.Parallel()
	e := NewEvents(nil)
	unsub := e.Subscribe(nil)
	assert.NotPanics(t, func() {
		e.Publish(SuccessEvent{Type: EventTokenReceived})
		unsub()
	})
}

func TestEvents_Channel(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := NewEvents(nil)
	ch, unsub := e.Channel(2)

	e.Publish(SuccessEvent{Type: EventTokenReceived})
	e.Publish(ErrorEvent{Type: EventTokenError, Params: map[string]string{"error": "access_denied"}})
	// buffer is full, dropped
	e.Publish(InfoEvent{Type: EventLogout})

	ev := <-ch
	require.IsType(SuccessEvent{}, ev)
	assert.Equal(EventTokenReceived, ev.EventType())
	ev = <-ch
	errEv, ok := ev.(ErrorEvent)
	require.True(ok)
	assert.Equal("access_denied", errEv.Params["error"])

	unsub()
	unsub()
	_, open := <-ch
	assert.False(open)
	assert.NotPanics(func() { e.Publish(InfoEvent{Type: EventLogout}) })
}

func TestEvents_concurrent(t *testing.T) {
	t.Parallel()
	e := NewEvents(nil)
	var (
		mu    sync.Mutex
		count int
	)
	e.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.Publish(SuccessEvent{Type: EventTokenReceived})
		}()
		go func() {
			defer wg.Done()
			unsub := e.Subscribe(func(Event) {})
			unsub()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, count)
}

// recordEvents collects every event published on e.
func recordEvents(t *testing.T, e *Events) func() []Event {
	t.Helper()
	var (
		mu  sync.Mutex
		got []Event
	)
	unsub := e.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})
	t.Cleanup(unsub)
	return func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), got...)
	}
}

// eventTypes returns the types of evs in order.
func eventTypes(evs []Event) []EventType {
	types := make([]EventType, 0, len(evs))
	for _, ev := range evs {
		types = append(types, ev.EventType())
	}
	return types
}
