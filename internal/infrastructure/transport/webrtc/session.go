// Package webrtc carries frames between exactly two peers over a WebRTC
// data channel. The offering side creates the channel; SDP is exchanged
// out of band, complete with ICE candidates (no trickle).
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"texstream/internal/core/domain"
	"texstream/internal/core/ports"
	"texstream/internal/infrastructure/transport"
	"texstream/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const DefaultLabel = "texstream"

var ErrMessageTooLarge = errors.New("frame exceeds the data channel message size limit")

type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	Label string
	// Unreliable opens an unordered channel without retransmits.
	Unreliable bool
	// IncludeLoopback gathers 127.0.0.1 candidates, for same-host peers.
	IncludeLoopback bool
	Logger          *zap.SugaredLogger
}

// Session is one end of a peer connection. It implements ports.Session.
// The sender role is fixed when the session is created.
type Session struct {
	pc         *webrtc.PeerConnection
	dispatcher *transport.Dispatcher
	logger     *zap.SugaredLogger
	cfg        Config

	id     domain.ParticipantID
	sender bool

	mu sync.RWMutex
	dc *webrtc.DataChannel

	connected atomic.Bool
	open      chan struct{}
	openOnce  sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once

	writeMu sync.Mutex
	wbuf    []byte
}

var _ ports.Session = (*Session)(nil)

// NewSession creates an unconnected peer. sender decides which end holds
// the sender role.
func NewSession(cfg Config, sender bool) (*Session, error) {
	if cfg.Label == "" {
		cfg.Label = DefaultLabel
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}
	settingEngine.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	s := &Session{
		pc:         pc,
		dispatcher: transport.NewDispatcher(),
		logger:     cfg.Logger,
		cfg:        cfg,
		id:         domain.ParticipantID(utils.NewParticipantID()),
		sender:     sender,
		open:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Infow("peer connection state changed", "participant_id", s.id, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateDisconnected:
			s.connected.Store(false)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.connected.Store(false)
			s.closeDone()
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != s.cfg.Label {
			s.logger.Warnw("ignoring unexpected data channel", "label", dc.Label())
			return
		}
		s.attach(dc)
	})
	return s, nil
}

func (s *Session) attach(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.dc = dc
	s.mu.Unlock()

	dc.OnOpen(func() {
		s.connected.Store(true)
		s.openOnce.Do(func() { close(s.open) })
		s.logger.Infow("data channel open", "participant_id", s.id, "label", dc.Label())
	})
	dc.OnClose(func() {
		s.connected.Store(false)
		s.closeDone()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			return
		}
		code, payload, err := transport.ParseFrame(msg.Data)
		if err != nil {
			s.logger.Warnw("malformed frame from peer", "error", err)
			return
		}
		s.dispatcher.Dispatch(code, payload)
	})
}

// Offer creates the data channel and returns the local offer once ICE
// gathering has finished.
func (s *Session) Offer(ctx context.Context) (webrtc.SessionDescription, error) {
	dcInit := &webrtc.DataChannelInit{}
	if s.cfg.Unreliable {
		ordered := false
		var retransmits uint16
		dcInit.Ordered = &ordered
		dcInit.MaxRetransmits = &retransmits
	}
	dc, err := s.pc.CreateDataChannel(s.cfg.Label, dcInit)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create data channel: %w", err)
	}
	s.attach(dc)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	return s.setLocal(ctx, offer)
}

// Answer applies a remote offer and returns the local answer.
func (s *Session) Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote offer: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	return s.setLocal(ctx, answer)
}

// Accept applies the remote answer to an offer made by this session.
func (s *Session) Accept(answer webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	return nil
}

func (s *Session) setLocal(ctx context.Context, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	return *s.pc.LocalDescription(), nil
}

// WaitOpen blocks until the data channel is open.
func (s *Session) WaitOpen(ctx context.Context) error {
	select {
	case <-s.open:
		return nil
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) ID() domain.ParticipantID { return s.id }

func (s *Session) IsConnected() bool { return s.connected.Load() }

func (s *Session) IsAuthorizedSender() bool { return s.sender }

// Send writes one frame to the peer. The channel's reliability is fixed at
// Offer time, so opts.Reliability is not consulted.
func (s *Session) Send(ctx context.Context, code domain.EventCode, payload []byte, opts domain.SendOptions) error {
	if !s.connected.Load() {
		return domain.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	dc := s.dc
	s.mu.RUnlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.wbuf = transport.AppendFrame(s.wbuf[:0], code, payload)
	if limit := s.maxMessageSize(); limit > 0 && uint32(len(s.wbuf)) > limit {
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(s.wbuf), limit)
	}
	if err := dc.Send(s.wbuf); err != nil {
		return fmt.Errorf("data channel send: %w", err)
	}

	if opts.Receivers == domain.ReceiversAll {
		s.dispatcher.Dispatch(code, payload)
	}
	return nil
}

func (s *Session) maxMessageSize() uint32 {
	sctp := s.pc.SCTP()
	if sctp == nil {
		return 0
	}
	return sctp.GetCapabilities().MaxMessageSize
}

func (s *Session) Subscribe(code domain.EventCode, handler ports.MessageHandler) ports.Subscription {
	return s.dispatcher.Subscribe(code, handler)
}

// Done is closed when the peer connection ends.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.connected.Store(false)
		err = s.pc.Close()
		s.closeDone()
		s.dispatcher.Clear()
	})
	return err
}
