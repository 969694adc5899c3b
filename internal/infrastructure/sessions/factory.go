// Package sessions opens the participant session selected by configuration.
package sessions

import (
	"context"
	"fmt"
	"sync"

	"texstream/internal/core/domain"
	"texstream/internal/core/ports"
	"texstream/internal/infrastructure/transport/memory"
	transportredis "texstream/internal/infrastructure/transport/redis"
	wstransport "texstream/internal/infrastructure/transport/websocket"
	"texstream/pkg/config"
	"texstream/pkg/retry"
	"texstream/pkg/utils"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory opens sessions for one process. It owns the shared Redis client
// when the redis transport is used.
type Factory struct {
	cfg    *config.Config
	hub    *memory.Hub
	logger *zap.SugaredLogger

	mu          sync.Mutex
	redisClient *goredis.Client
}

// NewFactory creates a factory. hub is only consulted for the memory
// transport; it may be nil otherwise.
func NewFactory(cfg *config.Config, hub *memory.Hub, logger *zap.SugaredLogger) *Factory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Factory{
		cfg:    cfg,
		hub:    hub,
		logger: logger,
	}
}

// Open joins the configured room as name.
func (f *Factory) Open(ctx context.Context, name string) (ports.Session, error) {
	room := domain.RoomID(f.cfg.Client.Room)

	switch f.cfg.Transport.Kind {
	case config.TransportWebSocket:
		rc := retry.DefaultConfig()
		if f.cfg.Client.DialAttempts > 0 {
			rc.MaxAttempts = f.cfg.Client.DialAttempts
		}
		if f.cfg.Client.DialInitialDelay > 0 {
			rc.InitialDelay = f.cfg.Client.DialInitialDelay
		}
		f.logger.Infow("dialing relay",
			"url", f.cfg.Client.RelayURL,
			"room", room,
			"token", utils.MaskSensitive(f.cfg.Client.Token, 6),
		)
		return wstransport.Dial(ctx, wstransport.Options{
			URL:          f.cfg.Client.RelayURL,
			Room:         room,
			Name:         name,
			Token:        f.cfg.Client.Token,
			Retry:        rc,
			WriteTimeout: f.cfg.Relay.WriteTimeout,
			Logger:       f.logger,
		})

	case config.TransportRedis:
		client, err := f.redis(ctx)
		if err != nil {
			return nil, err
		}
		return transportredis.Join(ctx, client, transportredis.Options{
			Room:   room,
			Name:   name,
			Lease:  f.cfg.Redis.MasterLease,
			Logger: f.logger,
		})

	case config.TransportMemory:
		if f.hub == nil {
			return nil, fmt.Errorf("memory transport needs an in-process hub")
		}
		return f.hub.Join(room, name), nil

	default:
		return nil, fmt.Errorf("unknown transport %q", f.cfg.Transport.Kind)
	}
}

func (f *Factory) redis(ctx context.Context) (*goredis.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.redisClient != nil {
		return f.redisClient, nil
	}
	client, err := transportredis.NewClient(ctx, transportredis.ClientConfig{
		Address:  f.cfg.Redis.Address,
		Password: f.cfg.Redis.Password,
		DB:       f.cfg.Redis.DB,
		PoolSize: f.cfg.Redis.PoolSize,
	}, f.logger)
	if err != nil {
		return nil, err
	}
	f.redisClient = client
	return client, nil
}

// RedisClient returns the shared client, or nil before a redis session was
// opened.
func (f *Factory) RedisClient() *goredis.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.redisClient
}

// Close releases the shared Redis client. Sessions are closed by their
// owners.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.redisClient == nil {
		return nil
	}
	err := f.redisClient.Close()
	f.redisClient = nil
	return err
}
