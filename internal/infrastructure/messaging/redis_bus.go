package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/study-progress/internal/domain/shared"
)

// DefaultChannel carries progress events between instances.
const DefaultChannel = "study-progress:events"

// RedisClient is the Pub/Sub surface RedisEventBus depends on.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one Pub/Sub delivery or a subscription error.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig configures a RedisEventBus.
type RedisEventBusConfig struct {
	Client      RedisClient
	ChannelName string
	// InstanceID tags outgoing messages so the bus can skip its own echo.
	// A random one is generated when empty.
	InstanceID     string
	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus delivers every event locally and mirrors it to the channel.
// Events from other instances arrive with only the generic shared.Event view:
// numbers in Payload decode as float64.
type RedisEventBus struct {
	client   RedisClient
	local    *InMemoryEventBus
	channel  string
	instance string
	log      *slog.Logger

	ctx    context.Context
	stop   context.CancelFunc
	reader sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRedisEventBus subscribes to the channel before returning, so nothing
// published afterwards is missed.
func NewRedisEventBus(cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("messaging: redis client is required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = DefaultChannel
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	ctx, stop := context.WithCancel(context.Background())
	b := &RedisEventBus{
		client:   cfg.Client,
		local:    NewInMemoryEventBus(cfg.LocalBusConfig),
		channel:  cfg.ChannelName,
		instance: cfg.InstanceID,
		log:      cfg.Logger.With("component", "redis_event_bus", "instance_id", cfg.InstanceID),
		ctx:      ctx,
		stop:     stop,
	}

	incoming, err := b.client.Subscribe(ctx, b.channel)
	if err != nil {
		stop()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.reader.Add(1)
	go b.read(incoming)
	return b, nil
}

func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish never fails because of Redis: a publish error is logged and local
// delivery goes ahead.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(wrap(b.instance, event))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(b.ctx, b.channel, string(data)); err != nil {
		b.log.Error("redis publish failed", "event_type", event.EventType(), "error", err)
	}
	return b.local.Publish(event)
}

func (b *RedisEventBus) read(incoming <-chan RedisMessage) {
	defer b.reader.Done()
	for {
		var msg RedisMessage
		var ok bool
		select {
		case <-b.ctx.Done():
			return
		case msg, ok = <-incoming:
		}
		if !ok {
			return
		}
		if msg.Err != nil {
			b.log.Error("redis subscription error", "error", msg.Err)
			continue
		}
		b.relay(msg.Payload)
	}
}

// relay hands a remote event to local handlers. Own messages are skipped
// because Publish already delivered them.
func (b *RedisEventBus) relay(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.Error("undecodable event on channel", "error", err)
		return
	}
	if env.InstanceID == b.instance {
		return
	}
	if err := b.local.Publish(env.remote()); err != nil {
		b.log.Error("remote event not delivered", "event_id", env.EventID, "error", err)
	}
}

// Close stops the reader, then closes the subscription and the local bus.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.stop()
	b.reader.Wait()

	var errs []error
	if err := b.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close redis pubsub: %w", err))
	}
	errs = append(errs, b.local.Close())
	b.log.Info("redis event bus closed")
	return errors.Join(errs...)
}

func (b *RedisEventBus) Metrics() *EventBusMetrics {
	return b.local.Metrics()
}

// GoRedisPubSub implements RedisClient on go-redis. Close ends the
// subscription only; the client belongs to the snapshot cache.
type GoRedisPubSub struct {
	client redis.UniversalClient

	mu sync.Mutex
	ps *redis.PubSub
}

func NewGoRedisPubSub(client redis.UniversalClient) *GoRedisPubSub {
	return &GoRedisPubSub{client: client}
}

func (g *GoRedisPubSub) Publish(ctx context.Context, channel string, message string) error {
	return g.client.Publish(ctx, channel, message).Err()
}

// Subscribe waits for the server to confirm the subscription.
func (g *GoRedisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	ps := g.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	g.mu.Lock()
	g.ps = ps
	g.mu.Unlock()

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		for m := range ps.Channel() {
			select {
			case out <- RedisMessage{Channel: m.Channel, Payload: m.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (g *GoRedisPubSub) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ps == nil {
		return nil
	}
	err := g.ps.Close()
	g.ps = nil
	return err
}

// envelope is the wire form of an event on the channel.
type envelope struct {
	InstanceID  string                 `json:"instance_id"`
	EventID     string                 `json:"event_id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

func wrap(instance string, e shared.Event) envelope {
	return envelope{
		InstanceID:  instance,
		EventID:     e.EventID(),
		EventType:   e.EventType(),
		AggregateID: e.AggregateID(),
		OccurredAt:  e.OccurredAt(),
		Payload:     e.Payload(),
	}
}

func (e envelope) remote() remoteEvent { return remoteEvent{e} }

// remoteEvent exposes a decoded envelope as a shared.Event.
type remoteEvent struct{ env envelope }

func (r remoteEvent) EventID() string                 { return r.env.EventID }
func (r remoteEvent) EventType() shared.EventType     { return r.env.EventType }
func (r remoteEvent) AggregateID() string             { return r.env.AggregateID }
func (r remoteEvent) OccurredAt() time.Time           { return r.env.OccurredAt }
func (r remoteEvent) Payload() map[string]interface{} { return r.env.Payload }
