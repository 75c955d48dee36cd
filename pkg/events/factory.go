package events

import (
	"strings"

	"github.com/redis/go-redis/v9"
)

// Config selects an event sink. AMQP wins when both are configured; with
// neither, events are dropped.
type Config struct {
	AMQPURL       string
	AMQPExchange  string
	RedisAddr     string
	RedisPassword string
	Stream        string
	StreamMaxLen  int64
}

// Open builds the configured publisher.
func Open(cfg Config) (Publisher, error) {
	switch {
	case strings.TrimSpace(cfg.AMQPURL) != "":
		p, err := NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, err
		}
		return p, nil
	case strings.TrimSpace(cfg.Stream) != "" && strings.TrimSpace(cfg.RedisAddr) != "":
		client := redis.NewClient(&redis.Options{Addr: strings.TrimSpace(cfg.RedisAddr), Password: cfg.RedisPassword})
		p, err := NewRedisStreamPublisher(client, cfg.Stream, cfg.StreamMaxLen)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return p, nil
	default:
		return NopPublisher{}, nil
	}
}
