package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultChannelPrefix = "taskboard:project:"

// RedisPublisher publishes messages on a pub/sub channel per project so
// listeners in other processes receive them.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

func NewRedisPublisher(client *redis.Client, prefix string, logger zerolog.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix, logger: logger}
}

// Dial parses a redis:// URL and returns a publisher for it.
func Dial(url, prefix string, logger zerolog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisPublisher(redis.NewClient(opts), prefix, logger), nil
}

func (p *RedisPublisher) Channel(projectID string) string {
	return p.prefix + projectID
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(msg.ProjectID), data).Err(); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	p.logger.Debug().
		Str("project_id", msg.ProjectID).
		Str("automation_id", msg.AutomationID).
		Str("task_id", msg.TaskID).
		Msg("broadcast published")
	return nil
}

// Subscribe streams messages for projectID until ctx is done. Malformed
// payloads are logged and skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context, projectID string) (<-chan Message, error) {
	ps := p.client.Subscribe(ctx, p.Channel(projectID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", p.Channel(projectID), err)
	}
	out := make(chan Message, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					p.logger.Warn().Err(err).Str("channel", raw.Channel).Msg("skipping malformed broadcast")
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
