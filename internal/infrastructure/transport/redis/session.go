// Package redis joins a room over Redis pub/sub. Frames are published on a
// per-room channel; the sender role is an expiring lease on a per-room key,
// so when the master goes away another member takes over within one lease
// period.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"texstream/internal/core/domain"
	"texstream/internal/core/ports"
	"texstream/internal/infrastructure/transport"
	"texstream/pkg/distributed"
	"texstream/pkg/utils"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultKeyPrefix = "texstream"

type Options struct {
	Room      domain.RoomID
	Name      string
	KeyPrefix string
	// Lease is how long a vanished master keeps the sender role.
	Lease  time.Duration
	Logger *zap.SugaredLogger
}

func (o *Options) setDefaults() {
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.Lease <= 0 {
		o.Lease = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}

// FramesChannel is the pub/sub channel carrying a room's frames.
func FramesChannel(prefix string, room domain.RoomID) string {
	return fmt.Sprintf("%s:room:%s:frames", prefix, room)
}

// MasterKey holds the id of the room's current sender.
func MasterKey(prefix string, room domain.RoomID) string {
	return fmt.Sprintf("%s:room:%s:master", prefix, room)
}

// Session is a room membership over Redis. It implements ports.Session.
// The client is owned by the caller and is not closed by Close.
type Session struct {
	client     *goredis.Client
	pubsub     *goredis.PubSub
	lease      *distributed.Lease
	dispatcher *transport.Dispatcher
	logger     *zap.SugaredLogger

	id      domain.ParticipantID
	room    domain.RoomID
	channel string

	master    atomic.Bool
	connected atomic.Bool

	writeMu sync.Mutex
	wbuf    []byte

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

var _ ports.Session = (*Session)(nil)

// Join subscribes to the room channel and tries to take the sender role.
func Join(ctx context.Context, client *goredis.Client, opts Options) (*Session, error) {
	opts.setDefaults()
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Room == "" {
		return nil, errors.New("room is required")
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}

	id := domain.ParticipantID(utils.NewParticipantID())
	channel := FramesChannel(opts.KeyPrefix, opts.Room)

	pubsub := client.Subscribe(ctx, channel)
	// Receive blocks until the subscription is confirmed, so nothing
	// published after Join returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client:     client,
		pubsub:     pubsub,
		lease:      distributed.NewLease(client, MasterKey(opts.KeyPrefix, opts.Room), string(id), opts.Lease),
		dispatcher: transport.NewDispatcher(),
		logger:     opts.Logger,
		id:         id,
		room:       opts.Room,
		channel:    channel,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.connected.Store(true)

	if err := s.elect(ctx); err != nil {
		s.logger.Warnw("master election failed", "room", s.room, "error", err)
	}

	s.logger.Infow("joined redis room",
		"participant_id", s.id,
		"name", opts.Name,
		"room", s.room,
		"master", s.master.Load(),
	)

	s.wg.Add(2)
	go s.readLoop()
	go s.leaseLoop(loopCtx)
	return s, nil
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	defer close(s.done)
	defer s.connected.Store(false)

	for msg := range s.pubsub.Channel() {
		code, from, payload, err := transport.ParseRoutedFrame([]byte(msg.Payload))
		if err != nil {
			s.logger.Warnw("malformed frame on room channel", "room", s.room, "error", err)
			continue
		}
		// Skip frames from this participant
		if from == s.id {
			continue
		}
		s.dispatcher.Dispatch(code, payload)
	}
}

// elect keeps or takes the sender role once.
func (s *Session) elect(ctx context.Context) error {
	if s.master.Load() {
		if err := s.lease.Renew(ctx); err != nil {
			s.master.Store(false)
			s.logger.Warnw("lost sender role", "participant_id", s.id, "room", s.room, "error", err)
			return nil
		}
		return nil
	}

	acquired, err := s.lease.TryAcquire(ctx)
	if err != nil {
		return err
	}
	if acquired {
		s.master.Store(true)
		s.logger.Infow("took sender role", "participant_id", s.id, "room", s.room)
	}
	return nil
}

func (s *Session) leaseLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.lease.RenewEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.elect(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warnw("master election failed", "room", s.room, "error", err)
			}
		}
	}
}

func (s *Session) ID() domain.ParticipantID { return s.id }

func (s *Session) Room() domain.RoomID { return s.room }

func (s *Session) IsConnected() bool { return s.connected.Load() }

func (s *Session) IsAuthorizedSender() bool { return s.master.Load() }

// Send publishes one frame to the room. Pub/sub delivery is at most once
// regardless of opts.Reliability.
func (s *Session) Send(ctx context.Context, code domain.EventCode, payload []byte, opts domain.SendOptions) error {
	if !s.connected.Load() {
		return domain.ErrNotConnected
	}

	s.writeMu.Lock()
	msg, err := transport.AppendRoutedFrame(s.wbuf[:0], code, s.id, payload)
	if err != nil {
		s.writeMu.Unlock()
		return err
	}
	s.wbuf = msg
	err = s.client.Publish(ctx, s.channel, msg).Err()
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	if opts.Receivers == domain.ReceiversAll {
		s.dispatcher.Dispatch(code, payload)
	}
	return nil
}

func (s *Session) Subscribe(code domain.EventCode, handler ports.MessageHandler) ports.Subscription {
	return s.dispatcher.Subscribe(code, handler)
}

// Done is closed when the subscription ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close leaves the room and hands back the sender role if held.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.connected.Store(false)
		s.cancel()

		if s.master.Swap(false) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if rerr := s.lease.Release(ctx); rerr != nil && !errors.Is(rerr, distributed.ErrNotHeld) {
				s.logger.Warnw("failed to release sender role", "room", s.room, "error", rerr)
			}
			cancel()
		}

		err = s.pubsub.Close()
		s.wg.Wait()
		s.dispatcher.Clear()

		s.logger.Infow("left redis room", "participant_id", s.id, "room", s.room)
	})
	return err
}
