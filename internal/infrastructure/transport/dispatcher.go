package transport

import (
	"sync"

	"texstream/internal/core/domain"
	"texstream/internal/core/ports"
)

// Dispatcher routes inbound payloads to the handlers subscribed for their
// event code. Every Session implementation in this package tree embeds one.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[domain.EventCode]map[uint64]ports.MessageHandler
	nextID   uint64
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[domain.EventCode]map[uint64]ports.MessageHandler),
	}
}

func (d *Dispatcher) Subscribe(code domain.EventCode, handler ports.MessageHandler) ports.Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	if d.handlers[code] == nil {
		d.handlers[code] = make(map[uint64]ports.MessageHandler)
	}
	d.handlers[code][id] = handler

	return &subscription{dispatcher: d, code: code, id: id}
}

// Dispatch calls every handler for code in the caller's goroutine and
// returns how many ran.
func (d *Dispatcher) Dispatch(code domain.EventCode, payload []byte) int {
	d.mu.RLock()
	hs := make([]ports.MessageHandler, 0, len(d.handlers[code]))
	for _, h := range d.handlers[code] {
		hs = append(hs, h)
	}
	d.mu.RUnlock()

	for _, h := range hs {
		h(payload)
	}
	return len(hs)
}

// Len is the number of handlers subscribed for code.
func (d *Dispatcher) Len(code domain.EventCode) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[code])
}

// Clear drops every subscription.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.handlers = make(map[domain.EventCode]map[uint64]ports.MessageHandler)
	d.mu.Unlock()
}

type subscription struct {
	dispatcher *Dispatcher
	code       domain.EventCode
	id         uint64
	once       sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		d := s.dispatcher
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers[s.code], s.id)
		if len(d.handlers[s.code]) == 0 {
			delete(d.handlers, s.code)
		}
	})
}
