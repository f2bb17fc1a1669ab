// Package eventbus provides an in-process publish/subscribe broker for the
// gateway's cross-component signaling. It generalizes the fan-in pattern the
// channel registry uses to aggregate adapters (goroutine-per-subscriber,
// buffered channel, shared dispatch) to any publisher, with a fixed topic
// set and the idempotent-subscribe guard the gateway historically lacked.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Topic is a closed set of channel names publishers and subscribers agree on.
type Topic string

const (
	TopicInbound         Topic = "inbound"
	TopicOutbound        Topic = "outbound"
	TopicAgentStream     Topic = "agent.stream"
	TopicAgentToolCall   Topic = "agent.tool.call"
	TopicAgentToolResult Topic = "agent.tool.result"
	TopicAgentDone       Topic = "agent.done"
	TopicAgentError      Topic = "agent.error"
	TopicSessionCreated  Topic = "session.created"
	TopicSessionReset    Topic = "session.reset"
	TopicShutdown        Topic = "shutdown"
)

// knownTopics is the closed set from spec.md §4.1. Publish/Subscribe on any
// other topic is rejected so typos fail loudly instead of silently going
// nowhere.
var knownTopics = map[Topic]bool{
	TopicInbound: true, TopicOutbound: true, TopicAgentStream: true,
	TopicAgentToolCall: true, TopicAgentToolResult: true, TopicAgentDone: true,
	TopicAgentError: true, TopicSessionCreated: true, TopicSessionReset: true,
	TopicShutdown: true,
}

// Event is the envelope carried on every topic.
type Event struct {
	Topic   Topic
	Payload any
}

// Handler processes one event. Handlers run on their own goroutine per
// subscriber, so a slow handler on one topic never stalls another.
type Handler func(ctx context.Context, e Event)

// DefaultInboxSize is the bounded-inbox capacity for a subscriber before
// overflow policy kicks in (spec.md §4.1: default 256).
const DefaultInboxSize = 256

// outboundBlockDeadline bounds how long Publish blocks when an outbound
// subscriber's inbox is saturated, before the publisher gives up and
// records the drop.
const outboundBlockDeadline = 250 * time.Millisecond

// Bus is a single-process topic broker. The zero value is not usable; use New.
type Bus struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[Topic][]*subscription
	byIdentity  map[Topic]map[uintptr]*subscription

	droppedMu sync.Mutex
	dropped   map[Topic]uint64
}

type subscription struct {
	handler Handler
	inbox   chan Event
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// New creates a Bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:      logger.With("component", "eventbus"),
		subscribers: make(map[Topic][]*subscription),
		byIdentity:  make(map[Topic]map[uintptr]*subscription),
		dropped:     make(map[Topic]uint64),
	}
}

// handlerIdentity returns a stable identity for a handler value, used to
// detect duplicate subscription of the "same" handler (by underlying func
// pointer) to the same topic.
func handlerIdentity(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}

// Subscribe registers a handler for a topic. Subscription is idempotent on
// (topic, handler identity): re-subscribing the same handler is a no-op that
// emits a diagnostic, preventing the duplicate-listener bug that caused
// multi-delivery when a module was reinitialized without tearing down its
// prior subscription first.
func (b *Bus) Subscribe(topic Topic, h Handler) error {
	if !knownTopics[topic] {
		return fmt.Errorf("eventbus: unknown topic %q", topic)
	}
	if h == nil {
		return fmt.Errorf("eventbus: nil handler for topic %q", topic)
	}

	id := handlerIdentity(h)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.byIdentity[topic] == nil {
		b.byIdentity[topic] = make(map[uintptr]*subscription)
	}
	if _, exists := b.byIdentity[topic][id]; exists {
		b.logger.Warn("duplicate subscription ignored", "topic", string(topic))
		return nil
	}

	sub := &subscription{
		handler: h,
		inbox:   make(chan Event, DefaultInboxSize),
		done:    make(chan struct{}),
	}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.byIdentity[topic][id] = sub

	go b.deliverLoop(topic, sub)
	return nil
}

// Unsubscribe removes a previously subscribed handler from a topic. It is
// always safe to call, including on a handler never subscribed.
func (b *Bus) Unsubscribe(topic Topic, h Handler) {
	if h == nil {
		return
	}
	id := handlerIdentity(h)

	b.mu.Lock()
	sub, ok := b.byIdentity[topic][id]
	if ok {
		delete(b.byIdentity[topic], id)
		b.subscribers[topic] = removeSub(b.subscribers[topic], sub)
	}
	b.mu.Unlock()

	if ok {
		b.closeSub(sub)
	}
}

func removeSub(list []*subscription, target *subscription) []*subscription {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) closeSub(sub *subscription) {
	sub.closeMu.Lock()
	defer sub.closeMu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.done)
}

// deliverLoop runs on its own goroutine per subscriber: a slow or blocked
// handler only stalls that subscriber's own inbox, never another's.
func (b *Bus) deliverLoop(topic Topic, sub *subscription) {
	ctx := context.Background()
	for {
		select {
		case e, ok := <-sub.inbox:
			if !ok {
				return
			}
			sub.handler(ctx, e)
		case <-sub.done:
			return
		}
	}
}

// Publish delivers an event to every current subscriber of its topic.
// Delivery into each subscriber's inbox happens synchronously within this
// call (so Publish can report back-pressure), but handler execution itself
// runs on the subscriber's own goroutine and never blocks another
// subscriber's delivery.
//
// Non-outbound topics drop the oldest queued event on overflow and emit a
// warning. The outbound topic is never dropped outright: the publisher
// blocks up to outboundBlockDeadline, and only then records the drop and
// continues, per spec.md §4.1.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) error {
	if !knownTopics[topic] {
		return fmt.Errorf("eventbus: unknown topic %q", topic)
	}

	b.mu.Lock()
	subs := make([]*subscription, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	b.mu.Unlock()

	e := Event{Topic: topic, Payload: payload}
	for _, sub := range subs {
		b.deliverOne(ctx, topic, sub, e)
	}
	return nil
}

func (b *Bus) deliverOne(ctx context.Context, topic Topic, sub *subscription, e Event) {
	if topic == TopicOutbound {
		select {
		case sub.inbox <- e:
			return
		default:
		}
		timer := time.NewTimer(outboundBlockDeadline)
		defer timer.Stop()
		select {
		case sub.inbox <- e:
		case <-ctx.Done():
			b.recordDrop(topic)
		case <-timer.C:
			b.recordDrop(topic)
			b.logger.Warn("outbound subscriber saturated, dropping event", "topic", string(topic))
		}
		return
	}

	select {
	case sub.inbox <- e:
		return
	default:
	}

	// Overflow: drop the oldest queued event to make room, per policy.
	select {
	case <-sub.inbox:
		b.recordDrop(topic)
		b.logger.Warn("subscriber inbox overflow, dropped oldest event", "topic", string(topic))
	default:
	}
	select {
	case sub.inbox <- e:
	default:
		b.recordDrop(topic)
	}
}

func (b *Bus) recordDrop(topic Topic) {
	b.droppedMu.Lock()
	b.dropped[topic]++
	b.droppedMu.Unlock()
}

// DroppedCount returns how many events have been dropped for a topic.
func (b *Bus) DroppedCount(topic Topic) uint64 {
	b.droppedMu.Lock()
	defer b.droppedMu.Unlock()
	return b.dropped[topic]
}

// Shutdown publishes a final TopicShutdown event then detaches every
// subscriber across every topic, closing their delivery goroutines.
func (b *Bus) Shutdown(ctx context.Context) {
	_ = b.Publish(ctx, TopicShutdown, nil)

	b.mu.Lock()
	all := make([]*subscription, 0)
	for topic, subs := range b.subscribers {
		all = append(all, subs...)
		delete(b.subscribers, topic)
		delete(b.byIdentity, topic)
	}
	b.mu.Unlock()

	for _, sub := range all {
		b.closeSub(sub)
	}
}
