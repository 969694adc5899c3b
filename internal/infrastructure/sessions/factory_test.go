package sessions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"texstream/internal/core/domain"
	"texstream/internal/infrastructure/relay"
	"texstream/internal/infrastructure/transport/memory"
	"texstream/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFactory_Memory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transport.Kind = config.TransportMemory
	cfg.Client.Room = "lobby"

	f := NewFactory(cfg, memory.NewHub(0), nil)
	defer f.Close()

	first, err := f.Open(context.Background(), "streamer")
	require.NoError(t, err)
	defer first.Close()
	second, err := f.Open(context.Background(), "viewer")
	require.NoError(t, err)
	defer second.Close()

	assert.True(t, first.IsAuthorizedSender())
	assert.False(t, second.IsAuthorizedSender())
}

func TestFactory_MemoryWithoutHub(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transport.Kind = config.TransportMemory

	_, err := NewFactory(cfg, nil, nil).Open(context.Background(), "viewer")
	assert.Error(t, err)
}

func TestFactory_UnknownTransport(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transport.Kind = "carrier-pigeon"

	_, err := NewFactory(cfg, nil, nil).Open(context.Background(), "viewer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestFactory_WebSocket(t *testing.T) {
	srv := relay.NewServer(relay.DefaultConfig(), zap.NewNop().Sugar())
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	cfg := config.DefaultConfig()
	cfg.Transport.Kind = config.TransportWebSocket
	cfg.Client.RelayURL = "ws" + strings.TrimPrefix(ts.URL, "http")
	cfg.Client.Room = "lobby"
	cfg.Client.DialAttempts = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := NewFactory(cfg, nil, nil)
	s, err := f.Open(ctx, "streamer")
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.IsConnected())
	assert.True(t, s.IsAuthorizedSender())
	assert.NotEqual(t, domain.ParticipantID(""), s.ID())
	assert.Nil(t, f.RedisClient())
}

func TestFactory_RedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transport.Kind = config.TransportRedis
	cfg.Redis.Address = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	f := NewFactory(cfg, nil, nil)
	_, err := f.Open(ctx, "viewer")
	assert.Error(t, err)
	assert.Nil(t, f.RedisClient())
	assert.NoError(t, f.Close())
}
