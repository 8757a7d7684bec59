// Package publish pushes finished run results to Redis: every result is
// published on a channel and prepended to a capped list of recent results.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/gotrs-io/recipe-e2e/internal/scenario"
)

// Config defines the publisher connection and keys.
type Config struct {
	Addr     string
	Password string
	DB       int

	Channel  string
	ListKey  string
	ListSize int64

	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// Message is the payload published for each run.
type Message struct {
	RunID      string          `json:"run_id"`
	ScenarioID string          `json:"scenario_id"`
	Title      string          `json:"title"`
	Status     scenario.Status `json:"status"`
	Phase      scenario.Phase  `json:"phase"`
	Error      string          `json:"error,omitempty"`
	Driver     string          `json:"driver,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMS int64           `json:"duration_ms"`
	Steps      int             `json:"steps"`
	Assertions int             `json:"assertions"`
}

// NewMessage summarizes res.
func NewMessage(res *scenario.Result) Message {
	return Message{
		RunID:      res.RunID,
		ScenarioID: res.ScenarioID,
		Title:      res.Title,
		Status:     res.Status,
		Phase:      res.Phase,
		Error:      res.Error,
		Driver:     res.Driver,
		StartedAt:  res.StartedAt,
		DurationMS: res.Duration.Milliseconds(),
		Steps:      len(res.Steps),
		Assertions: len(res.Assertions),
	}
}

// Metrics tracks publisher activity.
type Metrics struct {
	published prometheus.Counter
	errors    prometheus.Counter
	latency   prometheus.Histogram
}

// NewMetrics registers the publisher collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		published: factory.NewCounter(prometheus.CounterOpts{
			Name: "recipe_e2e_results_published_total",
			Help: "Total number of run results published to Redis",
		}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "recipe_e2e_publish_errors_total",
			Help: "Total number of failed Redis publications",
		}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recipe_e2e_publish_duration_seconds",
			Help:    "Redis publication latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Publisher writes results to Redis.
type Publisher struct {
	client   redis.UniversalClient
	channel  string
	listKey  string
	listSize int64
	metrics  *Metrics
}

// NewPublisher connects to Redis and verifies the connection. metrics may be nil.
func NewPublisher(ctx context.Context, config Config, metrics *Metrics) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client, config, metrics), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, config Config, metrics *Metrics) *Publisher {
	if config.Channel == "" {
		config.Channel = "recipe-e2e:results"
	}
	if config.ListKey == "" {
		config.ListKey = "recipe-e2e:latest"
	}
	if config.ListSize <= 0 {
		config.ListSize = 100
	}
	return &Publisher{
		client:   client,
		channel:  config.Channel,
		listKey:  config.ListKey,
		listSize: config.ListSize,
		metrics:  metrics,
	}
}

// Observe publishes res and records it in the latest list in one pipeline.
func (p *Publisher) Observe(ctx context.Context, res *scenario.Result) error {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.latency)
		defer timer.ObserveDuration()
	}

	payload, err := json.Marshal(NewMessage(res))
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, payload)
		pipe.LPush(ctx, p.listKey, payload)
		pipe.LTrim(ctx, p.listKey, 0, p.listSize-1)
		return nil
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.errors.Inc()
		}
		return fmt.Errorf("failed to publish run %s: %w", res.RunID, err)
	}
	if p.metrics != nil {
		p.metrics.published.Inc()
	}
	return nil
}

// Latest returns up to n recently published messages, newest first.
func (p *Publisher) Latest(ctx context.Context, n int64) ([]Message, error) {
	if n <= 0 || n > p.listSize {
		n = p.listSize
	}
	raw, err := p.client.LRange(ctx, p.listKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read latest results: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Subscribe streams messages from the channel until ctx is done.
func (p *Publisher) Subscribe(ctx context.Context) (<-chan Message, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", p.channel, err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					continue
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error { return p.client.Close() }
