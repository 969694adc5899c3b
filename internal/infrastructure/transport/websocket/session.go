// Package websocket connects a participant to the relay over a gorilla
// WebSocket. Binary messages carry frames, text messages carry JSON control
// messages.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"texstream/internal/core/domain"
	"texstream/internal/core/ports"
	"texstream/internal/infrastructure/transport"
	"texstream/pkg/retry"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Options struct {
	URL   string
	Room  domain.RoomID
	Name  string
	Token string

	Retry            retry.Config
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Logger           *zap.SugaredLogger
}

func (o *Options) setDefaults() {
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.DefaultConfig()
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}

// Session is a relay connection. It implements ports.Session.
type Session struct {
	conn       *gws.Conn
	dispatcher *transport.Dispatcher
	logger     *zap.SugaredLogger

	id           domain.ParticipantID
	room         domain.RoomID
	writeTimeout time.Duration

	mu       sync.RWMutex
	masterID domain.ParticipantID
	members  int

	writeMu sync.Mutex
	wbuf    []byte

	connected atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

var _ ports.Session = (*Session)(nil)

// Dial joins a relay room, retrying transient failures, and waits for the
// welcome message that assigns the participant id.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	opts.setDefaults()

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("room", string(opts.Room))
	if opts.Name != "" {
		q.Set("name", opts.Name)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	dialer := gws.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}

	conn, err := retry.DoWithResult(ctx, opts.Retry, func(attempt int) (*gws.Conn, error) {
		c, resp, err := dialer.DialContext(ctx, u.String(), header)
		if err == nil {
			return c, nil
		}
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, retry.Permanent(fmt.Errorf("relay refused join: %s", resp.Status))
		}
		opts.Logger.Warnw("relay dial failed", "url", opts.URL, "attempt", attempt, "error", err)
		return nil, err
	})
	if err != nil {
		return nil, err
	}

	welcome, err := readWelcome(conn, opts.HandshakeTimeout)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &Session{
		conn:         conn,
		dispatcher:   transport.NewDispatcher(),
		logger:       opts.Logger,
		id:           welcome.ParticipantID,
		room:         welcome.Room,
		writeTimeout: opts.WriteTimeout,
		masterID:     welcome.MasterID,
		members:      welcome.Participants,
		done:         make(chan struct{}),
	}
	s.connected.Store(true)

	s.logger.Infow("joined relay room",
		"participant_id", s.id,
		"room", s.room,
		"master_id", welcome.MasterID,
		"participants", welcome.Participants,
	)

	go s.readLoop()
	return s, nil
}

func readWelcome(conn *gws.Conn, timeout time.Duration) (*transport.ControlMessage, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	mt, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("waiting for welcome: %w", err)
	}
	if mt != gws.TextMessage {
		return nil, errors.New("relay sent a frame before the welcome message")
	}

	var msg transport.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid welcome message: %w", err)
	}
	switch {
	case msg.Type == transport.ControlError:
		return nil, fmt.Errorf("relay refused join: %s", msg.Error)
	case msg.Type != transport.ControlWelcome || msg.ParticipantID == "":
		return nil, fmt.Errorf("unexpected %q message during handshake", msg.Type)
	}
	return &msg, nil
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer s.connected.Store(false)

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closing.Load() {
				s.logger.Warnw("relay connection lost", "participant_id", s.id, "error", err)
			}
			return
		}

		switch mt {
		case gws.BinaryMessage:
			code, payload, err := transport.ParseFrame(data)
			if err != nil {
				s.logger.Warnw("malformed frame from relay", "error", err)
				continue
			}
			s.dispatcher.Dispatch(code, payload)
		case gws.TextMessage:
			s.handleControl(data)
		}
	}
}

func (s *Session) handleControl(data []byte) {
	var msg transport.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warnw("invalid control message", "error", err)
		return
	}

	switch msg.Type {
	case transport.ControlMasterChanged:
		s.mu.Lock()
		s.masterID = msg.MasterID
		s.mu.Unlock()
		s.logger.Infow("room master changed",
			"participant_id", s.id,
			"master_id", msg.MasterID,
			"is_master", msg.MasterID == s.id,
		)
	case transport.ControlParticipantJoined, transport.ControlParticipantLeft:
		s.mu.Lock()
		s.members = msg.Participants
		s.mu.Unlock()
		s.logger.Debugw("room membership changed", "type", msg.Type, "participant", msg.ParticipantID, "participants", msg.Participants)
	case transport.ControlError:
		s.logger.Warnw("relay error", "error", msg.Error)
	}
}

func (s *Session) ID() domain.ParticipantID { return s.id }

func (s *Session) Room() domain.RoomID { return s.room }

func (s *Session) IsConnected() bool { return s.connected.Load() }

func (s *Session) IsAuthorizedSender() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.masterID == s.id
}

// Participants is the room size last reported by the relay.
func (s *Session) Participants() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members
}

// Send writes one binary message. The relay delivers it to the other room
// members; ReceiversAll also dispatches it locally. A WebSocket is always
// reliable and ordered, so opts.Reliability is not consulted.
func (s *Session) Send(ctx context.Context, code domain.EventCode, payload []byte, opts domain.SendOptions) error {
	if !s.connected.Load() {
		return domain.ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetWriteDeadline(deadline)

	s.wbuf = transport.AppendFrame(s.wbuf[:0], code, payload)
	if err := s.conn.WriteMessage(gws.BinaryMessage, s.wbuf); err != nil {
		s.connected.Store(false)
		return fmt.Errorf("websocket write: %w", err)
	}

	if opts.Receivers == domain.ReceiversAll {
		s.dispatcher.Dispatch(code, payload)
	}
	return nil
}

func (s *Session) Subscribe(code domain.EventCode, handler ports.MessageHandler) ports.Subscription {
	return s.dispatcher.Subscribe(code, handler)
}

// Done is closed when the connection ends.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.connected.Store(false)

		s.writeMu.Lock()
		msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "")
		_ = s.conn.WriteControl(gws.CloseMessage, msg, time.Now().Add(time.Second))
		s.writeMu.Unlock()

		err = s.conn.Close()
		<-s.done
		s.dispatcher.Clear()
	})
	return err
}
