// Package eventbus relays room emits between hub processes over Redis
// pub/sub so a broadcast reaches clients connected anywhere.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/internal/metrics"
	"hecticradio.app/live/internal/transport"
)

const (
	DefaultChannel = "live:events"

	// DefaultOutbox bounds the envelopes waiting for the publisher goroutine.
	DefaultOutbox = 256

	publishTimeout = 2 * time.Second
)

// Envelope is one room emit as seen on the channel.
type Envelope struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	Except []string        `json:"except,omitempty"`
}

// LocalHub is the part of transport.Hub the bus drives.
type LocalHub interface {
	DeliverLocal(ctx context.Context, room, event string, data json.RawMessage, except []string)
	SetAdapter(a transport.Adapter)
}

type RedisBus struct {
	client  redis.UniversalClient
	channel string
	origin  string
	metrics *metrics.Collector

	mu    sync.RWMutex
	local LocalHub

	outbox    chan []byte
	failing   atomic.Bool
	dropping  atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
}

var _ transport.Adapter = (*RedisBus)(nil)

func NewRedisBus(client redis.UniversalClient, channel string, m *metrics.Collector) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		metrics: m,
		outbox:  make(chan []byte, DefaultOutbox),
		ready:   make(chan struct{}),
	}
}

// Attach installs the bus as the hub's adapter. Nothing else needs to know
// whether a bus exists.
func (b *RedisBus) Attach(hub LocalHub) {
	b.mu.Lock()
	b.local = hub
	b.mu.Unlock()
	hub.SetAdapter(b)
}

func (b *RedisBus) Origin() string {
	return b.origin
}

// Ready is closed once the subscription is confirmed.
func (b *RedisBus) Ready() <-chan struct{} {
	return b.ready
}

// Publish queues a local emit for the other processes and never blocks. When
// the outbox is full the emit is dropped and counted. Publish failures are
// logged once per outage and never reach the caller.
func (b *RedisBus) Publish(ctx context.Context, room, event string, data json.RawMessage, except []string) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "live.eventbus"})

	payload, err := json.Marshal(Envelope{
		Origin: b.origin,
		Room:   room,
		Event:  event,
		Data:   data,
		Except: except,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode envelope", "error", err, "event", event)
		return
	}

	select {
	case b.outbox <- payload:
		b.dropping.Store(false)
	default:
		b.metrics.BusPublishDropped()
		if b.dropping.CompareAndSwap(false, true) {
			slog.WarnContext(ctx, "event bus outbox full, dropping emits",
				"channel", b.channel,
				"event", event)
		}
	}
}

// Run starts the publisher, then subscribes and delivers envelopes from other
// processes to the local hub until ctx is done. go-redis re-establishes a
// dropped subscription.
func (b *RedisBus) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "live.eventbus"})

	go b.publishLoop(ctx)

	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.WarnContext(ctx, "event bus subscribe failed, will keep retrying",
			"error", err,
			"channel", b.channel)
	} else {
		b.readyOnce.Do(func() { close(b.ready) })
		slog.InfoContext(ctx, "event bus subscribed", "channel", b.channel, "origin", b.origin)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.readyOnce.Do(func() { close(b.ready) })
			b.deliver(ctx, msg.Payload)
		}
	}
}

func (b *RedisBus) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-b.outbox:
			b.send(ctx, payload)
		}
	}
}

func (b *RedisBus) send(ctx context.Context, payload []byte) {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := b.client.Publish(pubCtx, b.channel, payload).Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		b.metrics.BusPublishFailed()
		if b.failing.CompareAndSwap(false, true) {
			slog.WarnContext(ctx, "event bus publish failing, continuing local-only",
				"error", err,
				"channel", b.channel)
		}
		return
	}

	if b.failing.CompareAndSwap(true, false) {
		slog.InfoContext(ctx, "event bus publish recovered", "channel", b.channel)
	}
}

func (b *RedisBus) deliver(ctx context.Context, payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.WarnContext(ctx, "dropping malformed envelope", "error", err)
		return
	}
	if env.Origin == b.origin {
		return
	}

	b.mu.RLock()
	local := b.local
	b.mu.RUnlock()
	if local == nil {
		return
	}

	// DeliverLocal never re-publishes, so envelopes cannot loop.
	local.DeliverLocal(ctx, env.Room, env.Event, env.Data, env.Except)
}
