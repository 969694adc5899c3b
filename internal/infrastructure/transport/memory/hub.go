// Package memory is an in-process transport: participants of a room share a
// Hub and exchange messages through per-session inboxes.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"texstream/internal/core/domain"
	"texstream/internal/core/ports"
	"texstream/internal/infrastructure/transport"
)

// DefaultInboxSize is how many undelivered messages a session may queue.
const DefaultInboxSize = 16

type Hub struct {
	mu        sync.Mutex
	rooms     map[domain.RoomID][]*Session
	inboxSize int
	nextID    atomic.Uint64
}

func NewHub(inboxSize int) *Hub {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	return &Hub{
		rooms:     make(map[domain.RoomID][]*Session),
		inboxSize: inboxSize,
	}
}

// Join adds a participant to room. The first participant of a room is its
// master.
func (h *Hub) Join(room domain.RoomID, name string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &Session{
		hub:        h,
		dispatcher: transport.NewDispatcher(),
		inbox:      make(chan message, h.inboxSize),
		closed:     make(chan struct{}),
		participant: domain.Participant{
			ID:       domain.ParticipantID(fmt.Sprintf("mem-%d", h.nextID.Add(1))),
			Name:     name,
			Room:     room,
			JoinedAt: time.Now(),
		},
	}
	s.connected.Store(true)

	members := h.rooms[room]
	if len(members) == 0 {
		s.master.Store(true)
	}
	h.rooms[room] = append(members, s)

	go s.deliverLoop()
	return s
}

// Members returns the participants of room in join order.
func (h *Hub) Members(room domain.RoomID) []domain.Participant {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]domain.Participant, 0, len(h.rooms[room]))
	for _, s := range h.rooms[room] {
		p := s.participant
		p.Master = s.master.Load()
		out = append(out, p)
	}
	return out
}

func (h *Hub) leave(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasMaster := s.master.Swap(false)
	room := s.participant.Room
	members := h.rooms[room]
	for i, m := range members {
		if m == s {
			members = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(h.rooms, room)
		return
	}
	h.rooms[room] = members

	// the oldest remaining participant takes over
	if wasMaster {
		members[0].master.Store(true)
	}
}

func (h *Hub) recipients(from *Session, group domain.ReceiverGroup) []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[from.participant.Room]
	out := make([]*Session, 0, len(members))
	for _, m := range members {
		if m == from && group == domain.ReceiversOthers {
			continue
		}
		out = append(out, m)
	}
	return out
}

type message struct {
	code    domain.EventCode
	payload []byte
}

// Session is one participant's handle on a Hub room.
type Session struct {
	hub         *Hub
	dispatcher  *transport.Dispatcher
	participant domain.Participant
	inbox       chan message
	closed      chan struct{}
	closeOnce   sync.Once
	connected   atomic.Bool
	master      atomic.Bool
	dropped     atomic.Uint64
}

var _ ports.Session = (*Session)(nil)

func (s *Session) ID() domain.ParticipantID { return s.participant.ID }

func (s *Session) IsConnected() bool { return s.connected.Load() }

func (s *Session) IsAuthorizedSender() bool { return s.master.Load() }

// Send copies payload into the inbox of every recipient. Reliable sends wait
// for inbox space; unreliable sends drop when an inbox is full.
func (s *Session) Send(ctx context.Context, code domain.EventCode, payload []byte, opts domain.SendOptions) error {
	if !s.connected.Load() {
		return domain.ErrNotConnected
	}

	for _, r := range s.hub.recipients(s, opts.Receivers) {
		msg := message{code: code, payload: append([]byte(nil), payload...)}
		if opts.Reliability == domain.ReliabilityUnreliable {
			select {
			case r.inbox <- msg:
			case <-r.closed:
			default:
				r.dropped.Add(1)
			}
			continue
		}

		select {
		case r.inbox <- msg:
		case <-r.closed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Session) Subscribe(code domain.EventCode, handler ports.MessageHandler) ports.Subscription {
	return s.dispatcher.Subscribe(code, handler)
}

// Dropped counts unreliable messages lost to a full inbox.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

func (s *Session) deliverLoop() {
	for {
		select {
		case <-s.closed:
			return
		case msg := <-s.inbox:
			s.dispatcher.Dispatch(msg.code, msg.payload)
		}
	}
}

// Close leaves the room. Queued messages are discarded.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.connected.Store(false)
		close(s.closed)
		s.hub.leave(s)
		s.dispatcher.Clear()
	})
	return nil
}
