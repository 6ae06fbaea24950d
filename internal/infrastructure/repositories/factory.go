package repositories

import (
	"context"

	"syncroom/internal/core/ports"
	"syncroom/internal/infrastructure/repositories/memory"
	redisrepo "syncroom/internal/infrastructure/repositories/redis"
	"syncroom/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory selects the room registry backend. Redis is optional; a failed
// connection falls back to the in-memory registry rather than refusing to
// start.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	capacity    int
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) (*Factory, error) {
	f := &Factory{
		useRedis: cfg.Redis.Enabled,
		capacity: cfg.Rooms.Capacity,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory registry",
				"error", err,
			)
			f.useRedis = false
		} else {
			f.redisClient = client
			logger.Info("using Redis room registry")
		}
	}

	if !f.useRedis {
		logger.Info("using memory room registry")
	}

	return f, nil
}

func (f *Factory) CreateRoomRegistry() ports.RoomRegistry {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRoomRegistry(f.redisClient, f.capacity)
	}
	return memory.NewRoomRegistry(f.capacity)
}

// HealthCheck verifies the backing store connection.
func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

func (f *Factory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseClient(f.redisClient)
	}
	return nil
}
