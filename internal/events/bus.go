// Package events provides the in-process notification bus connecting the
// HTTP-facing workflow services to the Discord bot. The moderator transition
// gate publishes request-updated events here instead of reaching for any
// global bot reference; subscribers (the bot) react by closing threads.
//
// The bus is a thin typed wrapper around a Watermill go-channel pub/sub.
package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

// TopicRequestUpdated carries moderator status changes on middleman requests.
const TopicRequestUpdated = "middleman.request-updated"

// RequestUpdated is published after a moderator (or the timeout teardown)
// changes a request's status.
type RequestUpdated struct {
	RequestID   int64  `json:"request_id"`
	Status      string `json:"status"`
	ThreadID    string `json:"thread_id,omitempty"`
	MiddlemanID string `json:"middleman_id,omitempty"`
	ActorID     string `json:"actor_id,omitempty"`
}

// Publisher is the narrow interface the status service depends on.
type Publisher interface {
	PublishRequestUpdated(ev RequestUpdated) error
}

// Bus is an in-process pub/sub for workflow events.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus constructs the bus. Events published with no live subscriber are
// dropped, matching the fire-and-forget semantics of the original notifier.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 16},
			zerologAdapter{log: log},
		),
	}
}

// PublishRequestUpdated emits ev on the request-updated topic.
func (b *Bus) PublishRequestUpdated(ev RequestUpdated) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.pubsub.Publish(TopicRequestUpdated, message.NewMessage(watermill.NewUUID(), payload))
}

// SubscribeRequestUpdated returns a typed stream of request-updated events.
// The stream closes when ctx is cancelled. Malformed payloads are dropped.
func (b *Bus) SubscribeRequestUpdated(ctx context.Context) (<-chan RequestUpdated, error) {
	msgs, err := b.pubsub.Subscribe(ctx, TopicRequestUpdated)
	if err != nil {
		return nil, err
	}
	out := make(chan RequestUpdated, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev RequestUpdated
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the underlying pub/sub down, closing all subscriber streams.
func (b *Bus) Close() error { return b.pubsub.Close() }

// zerologAdapter bridges Watermill's logger contract onto zerolog.
type zerologAdapter struct {
	log zerolog.Logger
}

func (a zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.event(a.log.Error().Err(err), msg, fields)
}

func (a zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.event(a.log.Info(), msg, fields)
}

func (a zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.event(a.log.Debug(), msg, fields)
}

func (a zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.event(a.log.Trace(), msg, fields)
}

func (a zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := a.log.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return zerologAdapter{log: ctx.Logger()}
}

func (a zerologAdapter) event(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
