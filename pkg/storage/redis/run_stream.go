package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"testbot/pkg/models"
	"testbot/pkg/storage"
)

// DefaultStreamKey is the stream finished runs are published to.
const DefaultStreamKey = "testbot:runs"

// RunStream publishes finished runs to a Redis stream for downstream
// consumers such as dashboards and chat bridges.
type RunStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

// RunStreamConfig holds Redis connection configuration
type RunStreamConfig struct {
	Addr         string
	Password     string
	Stream       string
	MaxLen       int64 // approximate cap on stream length
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRunStreamConfig returns defaults sized for a handful of runs a day.
func DefaultRunStreamConfig(addr string) RunStreamConfig {
	return RunStreamConfig{
		Addr:         addr,
		Stream:       DefaultStreamKey,
		MaxLen:       10000,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRunStream connects to Redis and verifies the connection.
func NewRunStream(cfg RunStreamConfig) (*RunStream, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		PoolSize:     4,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStreamKey
	}
	return &RunStream{client: client, stream: stream, maxLen: cfg.MaxLen}, nil
}

func (r *RunStream) Close() error {
	return r.client.Close()
}

// RecordRun appends the run to the stream.
func (r *RunStream) RecordRun(ctx context.Context, run *models.RunRecord) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	// XADD testbot:runs MAXLEN ~ n * payload {json}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: r.maxLen > 0,
		Values: map[string]interface{}{
			"payload": payload,
			"run_id":  run.ID.String(),
			"project": run.Project,
			"env":     run.Environment,
			"status":  string(run.Status),
		},
	}).Err()

	if err != nil {
		return fmt.Errorf("failed to publish run: %w", err)
	}
	return nil
}

// Recent reads the latest count runs from the stream, newest first.
func (r *RunStream) Recent(ctx context.Context, count int64) ([]models.RunRecord, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	runs := make([]models.RunRecord, 0, len(msgs))
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			return nil, fmt.Errorf("invalid payload format in %s", msg.ID)
		}
		var run models.RunRecord
		if err := json.Unmarshal([]byte(payload), &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

var _ storage.RunRecorder = (*RunStream)(nil)
