package monitoring

import (
	"context"
	"time"

	"texstream/internal/core/domain"
	"texstream/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck probes the Redis server carrying the room.
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddSessionCheck reports unhealthy while the participant's transport
// session is disconnected.
func (h *HealthChecker) AddSessionCheck(session ports.Session, interval, timeout time.Duration) {
	h.AddCheck("session", func(ctx context.Context) (bool, error) {
		if !session.IsConnected() {
			return false, domain.ErrNotConnected
		}
		return true, nil
	}, interval, timeout)
}

// IsReady runs every probe and reports whether all passed.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}
