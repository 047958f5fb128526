package outcome

import (
	"context"

	"SonicPilot/internal/config"
	xerrors "SonicPilot/internal/errors"
)

// Open 根据配置创建事件队列。
func Open(ctx context.Context, cfg config.OutcomeConfig) (Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryQueue(0), nil
	case "redis":
		return NewRedisQueue(ctx, RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Queue,
		})
	case "rabbitmq":
		return NewRabbitMQQueue(RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.Queue,
			Durable: cfg.RabbitMQ.Durable,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unsupported outcome driver: "+cfg.Driver)
	}
}
