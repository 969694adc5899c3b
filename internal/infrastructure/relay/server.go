// Package relay is the WebSocket room server participants stream through.
//
// Each room elects its oldest member as master, the one participant allowed
// to send the stream. Binary frames from any member are forwarded to every
// other member; control messages (JSON text frames) announce membership and
// master changes.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"texstream/internal/core/domain"
	"texstream/internal/infrastructure/transport"
	apperrors "texstream/pkg/errors"
	"texstream/pkg/ratelimit"
	"texstream/pkg/tracing"
	"texstream/pkg/utils"
	"texstream/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64

	// Inbound frame budget per connection.
	MessagesPerSecond float64
	Burst             int

	// SendQueue is the number of outbound messages buffered per connection.
	// Frames to a full queue are dropped.
	SendQueue int

	// MaxParticipants per room, 0 for no limit.
	MaxParticipants int

	// Join attempts per client IP, 0 for no limit.
	JoinsPerSecond float64
	JoinBurst      int

	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    8 << 20,
		MessagesPerSecond: 120,
		Burst:             240,
		SendQueue:         8,
	}
}

// Metrics receives relay events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ParticipantJoined()
	ParticipantLeft()
	JoinRejected(reason string)
	FrameRelayed(bytes, recipients int)
	FrameDropped(reason string)
}

type nopMetrics struct{}

func (nopMetrics) ParticipantJoined()    {}
func (nopMetrics) ParticipantLeft()      {}
func (nopMetrics) JoinRejected(string)   {}
func (nopMetrics) FrameRelayed(int, int) {}
func (nopMetrics) FrameDropped(string)   {}

type Option func(*Server)

// WithTokens requires every join to present a token issued by tokens.
func WithTokens(tokens *TokenService) Option {
	return func(s *Server) { s.tokens = tokens }
}

func WithMetrics(m Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

type outbound struct {
	messageType int
	data        []byte
}

type client struct {
	participant domain.Participant
	conn        *websocket.Conn
	send        chan outbound
	limiter     *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue never blocks; it reports whether msg was queued.
func (c *client) enqueue(msg outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// room members are kept in join order; members[0] is master.
type room struct {
	id      domain.RoomID
	members []*client
}

type Server struct {
	cfg      Config
	tokens   *TokenService
	metrics  Metrics
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
	joins    *ratelimit.Store

	mu     sync.RWMutex
	rooms  map[domain.RoomID]*room
	conns  int
	closed bool

	wg sync.WaitGroup
}

func NewServer(cfg Config, logger *zap.SugaredLogger, opts ...Option) *Server {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MessagesPerSecond <= 0 || cfg.Burst <= 0 {
		cfg.MessagesPerSecond, cfg.Burst = def.MessagesPerSecond, def.Burst
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		cfg:     cfg,
		metrics: nopMetrics{},
		logger:  logger,
		rooms:   make(map[domain.RoomID]*room),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if cfg.JoinsPerSecond > 0 && cfg.JoinBurst > 0 {
		s.joins = ratelimit.NewStore(rate.Limit(cfg.JoinsPerSecond), cfg.JoinBurst, 10*time.Minute)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// HandleWebSocket admits one participant: ?room= is required, ?name= is
// optional. With a token service configured a join token must be presented
// as a Bearer header or ?token=.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := domain.RoomID(q.Get("room"))
	name := utils.SanitizeString(q.Get("name"))

	if err := validation.ValidateRoom(string(roomID)); err != nil {
		s.reject(w, "invalid_room", apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if name != "" {
		if err := validation.ValidateParticipantName(name); err != nil {
			s.reject(w, "invalid_name", apperrors.NewInvalidInputError(err.Error()))
			return
		}
	}

	if s.joins != nil && !s.joins.Allow(ratelimit.ClientIP(r)) {
		s.reject(w, "rate_limited", apperrors.NewRateLimitError())
		return
	}

	if s.tokens != nil {
		claims, err := s.authenticate(r, roomID)
		if err != nil {
			s.reject(w, "unauthorized", apperrors.NewUnauthorizedError(err.Error()))
			return
		}
		if claims.Name != "" {
			name = claims.Name
		}
	}

	if s.full(roomID) {
		s.reject(w, "room_full", apperrors.WrapError(domain.ErrRoomFull, apperrors.ErrCodeInvalidInput, "room is full", http.StatusConflict))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	c := &client{
		participant: domain.Participant{
			ID:       domain.ParticipantID(utils.NewParticipantID()),
			Name:     name,
			Room:     roomID,
			JoinedAt: time.Now(),
		},
		conn:    conn,
		send:    make(chan outbound, s.cfg.SendQueue),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst),
		done:    make(chan struct{}),
	}

	spanCtx, span := tracing.TraceJoin(r.Context(), string(roomID), string(c.participant.ID))
	err = s.join(c)
	if err != nil {
		tracing.RecordError(spanCtx, err)
	}
	span.End()
	if err != nil {
		reason := "room_full"
		if errors.Is(err, domain.ErrSessionClosed) {
			reason = "shutting_down"
		}
		s.metrics.JoinRejected(reason)
		s.writeControlNow(conn, transport.ControlMessage{Type: transport.ControlError, Room: roomID, Error: err.Error()})
		conn.Close()
		return
	}
	defer s.wg.Done()
	s.metrics.ParticipantJoined()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(c)
	}()

	s.readPump(c)

	s.leave(c)
	c.close()
	<-writerDone
	conn.Close()
	s.metrics.ParticipantLeft()
}

func (s *Server) authenticate(r *http.Request, roomID domain.RoomID) (*Claims, error) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.Split(h, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return nil, ErrInvalidToken
		}
		token = parts[1]
	}
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	if !claims.Allows(roomID) {
		return nil, ErrWrongRoom
	}
	return claims, nil
}

func (s *Server) reject(w http.ResponseWriter, reason string, appErr *apperrors.AppError) {
	s.metrics.JoinRejected(reason)
	s.logger.Warnw("join rejected", "reason", reason, "error", appErr.Message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}

func (s *Server) full(roomID domain.RoomID) bool {
	if s.cfg.MaxParticipants <= 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rm, ok := s.rooms[roomID]
	return ok && len(rm.members) >= s.cfg.MaxParticipants
}

// join adds c to its room and queues its welcome ahead of anything else
// the room will send it.
func (s *Server) join(c *client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrSessionClosed
	}

	roomID := c.participant.Room
	rm, ok := s.rooms[roomID]
	if !ok {
		rm = &room{id: roomID}
		s.rooms[roomID] = rm
	}
	if s.cfg.MaxParticipants > 0 && len(rm.members) >= s.cfg.MaxParticipants {
		return domain.ErrRoomFull
	}

	rm.members = append(rm.members, c)
	s.conns++
	s.wg.Add(1)
	master := rm.members[0]

	c.enqueue(s.control(transport.ControlMessage{
		Type:          transport.ControlWelcome,
		Room:          roomID,
		ParticipantID: c.participant.ID,
		MasterID:      master.participant.ID,
		Participants:  len(rm.members),
	}))
	s.broadcastLocked(rm, c, transport.ControlMessage{
		Type:          transport.ControlParticipantJoined,
		Room:          roomID,
		ParticipantID: c.participant.ID,
		MasterID:      master.participant.ID,
		Participants:  len(rm.members),
	})

	s.logger.Infow("participant joined",
		"participant_id", c.participant.ID,
		"name", c.participant.Name,
		"room", roomID,
		"master", master == c,
		"participants", len(rm.members),
	)
	return nil
}

// leave removes c and, when c was master, promotes the oldest remaining
// member.
func (s *Server) leave(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID := c.participant.Room
	rm, ok := s.rooms[roomID]
	if !ok {
		return
	}

	idx := -1
	for i, m := range rm.members {
		if m == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	rm.members = append(rm.members[:idx], rm.members[idx+1:]...)
	s.conns--

	if len(rm.members) == 0 {
		delete(s.rooms, roomID)
		s.logger.Infow("participant left, room closed", "participant_id", c.participant.ID, "room", roomID)
		return
	}

	master := rm.members[0]
	s.broadcastLocked(rm, nil, transport.ControlMessage{
		Type:          transport.ControlParticipantLeft,
		Room:          roomID,
		ParticipantID: c.participant.ID,
		MasterID:      master.participant.ID,
		Participants:  len(rm.members),
	})
	if idx == 0 {
		s.broadcastLocked(rm, nil, transport.ControlMessage{
			Type:         transport.ControlMasterChanged,
			Room:         roomID,
			MasterID:     master.participant.ID,
			Participants: len(rm.members),
		})
		s.logger.Infow("room master changed",
			"room", roomID,
			"previous_master", c.participant.ID,
			"master_id", master.participant.ID,
		)
	}

	s.logger.Infow("participant left",
		"participant_id", c.participant.ID,
		"room", roomID,
		"participants", len(rm.members),
	)
}

func (s *Server) control(msg transport.ControlMessage) outbound {
	data, _ := json.Marshal(msg)
	return outbound{messageType: websocket.TextMessage, data: data}
}

// broadcastLocked queues a control message for every member but except.
// A member whose queue is full cannot keep up and is disconnected.
func (s *Server) broadcastLocked(rm *room, except *client, msg transport.ControlMessage) {
	out := s.control(msg)
	for _, m := range rm.members {
		if m == except {
			continue
		}
		if !m.enqueue(out) {
			s.logger.Warnw("control queue full, disconnecting participant",
				"participant_id", m.participant.ID,
				"room", rm.id,
			)
			m.close()
		}
	}
}

// forward queues a binary frame for the other members of the sender's room.
func (s *Server) forward(from *client, data []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rm, ok := s.rooms[from.participant.Room]
	if !ok {
		return
	}

	out := outbound{messageType: websocket.BinaryMessage, data: data}
	delivered := 0
	for _, m := range rm.members {
		if m == from {
			continue
		}
		if m.enqueue(out) {
			delivered++
			continue
		}
		s.metrics.FrameDropped("queue_full")
		s.logger.Debugw("frame dropped for slow participant",
			"participant_id", m.participant.ID,
			"room", rm.id,
		)
	}
	s.metrics.FrameRelayed(len(data), delivered)
}

func (s *Server) readPump(c *client) {
	conn := c.conn
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message from participant", "participant_id", c.participant.ID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if mt != websocket.BinaryMessage {
			s.logger.Debugw("ignoring text message from participant", "participant_id", c.participant.ID)
			continue
		}
		if _, _, err := transport.ParseFrame(data); err != nil {
			s.metrics.FrameDropped("malformed")
			continue
		}
		if !c.limiter.Allow() {
			s.metrics.FrameDropped("rate_limited")
			s.logger.Debugw("participant over frame budget", "participant_id", c.participant.ID)
			continue
		}
		s.forward(c, data)
	}
}

func (s *Server) writePump(c *client) {
	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()
	// Unblocks readPump when the writer gives up first.
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				s.logger.Infow("error writing to participant", "participant_id", c.participant.ID, "error", err)
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "participant_id", c.participant.ID, "error", err)
				return
			}

		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) writeControlNow(conn *websocket.Conn, msg transport.ControlMessage) {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debugw("failed to write control message", "type", msg.Type, "error", err)
	}
}

// RoomInfo describes one room for the admin endpoint.
type RoomInfo struct {
	ID           domain.RoomID        `json:"id"`
	MasterID     domain.ParticipantID `json:"master_id"`
	Participants []domain.Participant `json:"participants"`
}

func (s *Server) Rooms() []RoomInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]RoomInfo, 0, len(s.rooms))
	for _, rm := range s.rooms {
		info := RoomInfo{
			ID:           rm.id,
			MasterID:     rm.members[0].participant.ID,
			Participants: make([]domain.Participant, 0, len(rm.members)),
		}
		for i, m := range rm.members {
			p := m.participant
			p.Master = i == 0
			info.Participants = append(info.Participants, p)
		}
		rooms = append(rooms, info)
	}
	return rooms
}

func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns
}

func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	connectionCount := s.conns
	roomCount := len(s.rooms)
	closed := s.closed
	s.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if closed {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":      status,
		"timestamp":   time.Now().Unix(),
		"connections": connectionCount,
		"rooms":       roomCount,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}

// PruneJoinLimiters drops idle per-IP join limiters.
func (s *Server) PruneJoinLimiters() int {
	if s.joins == nil {
		return 0
	}
	return s.joins.Prune()
}

// Shutdown refuses new joins, disconnects everyone and waits for the
// connection handlers to return or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, rm := range s.rooms {
		for _, m := range rm.members {
			m.close()
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
