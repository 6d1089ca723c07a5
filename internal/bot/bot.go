// Package bot glues the Discord gateway and the workflow event bus to the
// acceptance watcher. It forwards reaction dispatches into the watcher and
// reacts to moderator decisions: any terminal status releases the request's
// acceptance deadline, and a decline tears the thread down.
package bot

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/zrx-market/go-market-backend/internal/discord"
	"github.com/zrx-market/go-market-backend/internal/domain"
	"github.com/zrx-market/go-market-backend/internal/events"
)

// Supervisor is the watcher surface the bot drives.
type Supervisor interface {
	// HandleReaction feeds one gateway reaction into the acceptance flow.
	HandleReaction(ctx context.Context, ev discord.ReactionEvent)
	// Cancel releases the deadline for a request without side effects.
	Cancel(requestID int64)
}

// ChannelDeleter deletes Discord channels (threads are channels).
type ChannelDeleter interface {
	DeleteChannel(ctx context.Context, channelID string) error
}

// Subscriber is the event-bus surface the bot consumes.
type Subscriber interface {
	SubscribeRequestUpdated(ctx context.Context) (<-chan events.RequestUpdated, error)
}

// Bot connects gateway reactions and request-updated events to the watcher.
type Bot struct {
	Watcher Supervisor
	Discord ChannelDeleter
	Bus     Subscriber
	Log     zerolog.Logger
}

// New constructs a Bot.
func New(w Supervisor, d ChannelDeleter, bus Subscriber, log zerolog.Logger) *Bot {
	return &Bot{Watcher: w, Discord: d, Bus: bus, Log: log}
}

// ReactionHandler returns the gateway dispatch handler.
func (b *Bot) ReactionHandler() discord.ReactionHandler {
	return func(ctx context.Context, ev discord.ReactionEvent) {
		b.Watcher.HandleReaction(ctx, ev)
	}
}

// Run consumes request-updated events until ctx is cancelled. A terminal
// status releases the acceptance deadline; a decline additionally deletes the
// thread. The watcher's own timeout path deletes its thread itself and
// publishes without a thread id, so each thread is removed exactly once.
func (b *Bot) Run(ctx context.Context) error {
	evs, err := b.Bus.SubscribeRequestUpdated(ctx)
	if err != nil {
		return err
	}
	for ev := range evs {
		if !domain.TerminalStatus(ev.Status) {
			continue
		}
		b.Watcher.Cancel(ev.RequestID)

		if ev.Status == domain.StatusDeclined && ev.ThreadID != "" {
			if err := b.Discord.DeleteChannel(ctx, ev.ThreadID); err != nil && !discord.IsNotFound(err) {
				b.Log.Warn().Err(err).
					Int64("request_id", ev.RequestID).
					Str("thread_id", ev.ThreadID).
					Msg("failed to delete thread of declined request")
				continue
			}
			b.Log.Info().
				Int64("request_id", ev.RequestID).
				Str("thread_id", ev.ThreadID).
				Msg("thread removed after decline")
		}
	}
	return nil
}
