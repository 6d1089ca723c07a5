// Package services – AcceptanceWatcher
//
// This file implements the in-memory watcher that supervises live acceptance
// threads. Each tracked request gets a deadline goroutine; acceptance
// reactions arriving over the gateway flip the per-party accepted flags, and
// a request whose window elapses without both parties accepting is declined
// and its thread torn down exactly once.
//
// The watcher holds no durable state. After a restart it is rebuilt from the
// database via Rediscover, which re-arms a full window for every request that
// still has a live thread.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/zrx-market/go-market-backend/internal/discord"
	"github.com/zrx-market/go-market-backend/internal/domain"
	"github.com/zrx-market/go-market-backend/internal/events"
)

// WatcherRepo defines the repository contract required by AcceptanceWatcher.
type WatcherRepo interface {
	GetMiddlemanRequest(ctx context.Context, db *gorm.DB, id int64) (*domain.MiddlemanRequest, error)
	SetPartyAccepted(ctx context.Context, db *gorm.DB, id int64, party int) (bool, error)
	MarkDeclinedIfLive(ctx context.Context, db *gorm.DB, id int64) (bool, error)
	ListOpenThreads(ctx context.Context, db *gorm.DB) ([]domain.MiddlemanRequest, error)
}

// ThreadMessenger is the Discord surface the watcher needs: posting status
// notes inside a thread and deleting timed-out threads.
type ThreadMessenger interface {
	CreateMessage(ctx context.Context, channelID string, payload discord.MessagePayload) (*discord.Message, error)
	DeleteChannel(ctx context.Context, channelID string) error
}

// watch is one supervised acceptance thread.
type watch struct {
	requestID int64
	threadID  string
	messageID string
	cancel    chan struct{}
	once      sync.Once
}

func (w *watch) stop() { w.once.Do(func() { close(w.cancel) }) }

// AcceptanceWatcher supervises acceptance threads until both parties accept,
// the window elapses, or a moderator decision arrives.
type AcceptanceWatcher struct {
	DB      *gorm.DB
	Repo    WatcherRepo
	Discord ThreadMessenger
	Events  events.Publisher

	// Window is the acceptance deadline measured from Track.
	Window time.Duration
	// Emoji is the reaction that counts as acceptance.
	Emoji string

	Clock Clock
	Log   zerolog.Logger

	mu        sync.Mutex
	entries   map[int64]*watch  // request id -> watch
	byMessage map[string]int64  // accept message id -> request id
	wg        sync.WaitGroup
}

// NewAcceptanceWatcher constructs a watcher with the given deadline window.
func NewAcceptanceWatcher(db *gorm.DB, r WatcherRepo, d ThreadMessenger, window time.Duration, emoji string, log zerolog.Logger) *AcceptanceWatcher {
	return &AcceptanceWatcher{
		DB:        db,
		Repo:      r,
		Discord:   d,
		Window:    window,
		Emoji:     emoji,
		Clock:     RealClock(),
		Log:       log,
		entries:   make(map[int64]*watch),
		byMessage: make(map[string]int64),
	}
}

// Track starts supervising the request's acceptance thread. Tracking the same
// request again replaces the previous deadline.
func (a *AcceptanceWatcher) Track(ctx context.Context, requestID int64, threadID, messageID string) {
	w := &watch{requestID: requestID, threadID: threadID, messageID: messageID, cancel: make(chan struct{})}

	a.mu.Lock()
	if prev, ok := a.entries[requestID]; ok {
		prev.stop()
		delete(a.byMessage, prev.messageID)
	}
	a.entries[requestID] = w
	if messageID != "" {
		a.byMessage[messageID] = requestID
	}
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		select {
		case <-a.Clock.After(a.Window):
			a.expire(ctx, w)
		case <-w.cancel:
		case <-ctx.Done():
		}
	}()
}

// Cancel releases the request's deadline without touching the thread. Safe to
// call for untracked requests.
func (a *AcceptanceWatcher) Cancel(requestID int64) {
	a.mu.Lock()
	w, ok := a.entries[requestID]
	if ok {
		delete(a.entries, requestID)
		delete(a.byMessage, w.messageID)
	}
	a.mu.Unlock()
	if ok {
		w.stop()
	}
}

// Tracked reports whether the request currently has a live deadline.
func (a *AcceptanceWatcher) Tracked(requestID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[requestID]
	return ok
}

// Wait blocks until all deadline goroutines have finished. Test helper.
func (a *AcceptanceWatcher) Wait() { a.wg.Wait() }

// expire is the timeout path: decline the request unless a decision already
// landed, then tear the thread down exactly once.
func (a *AcceptanceWatcher) expire(ctx context.Context, w *watch) {
	a.mu.Lock()
	cur, ok := a.entries[w.requestID]
	if !ok || cur != w {
		a.mu.Unlock()
		return
	}
	delete(a.entries, w.requestID)
	delete(a.byMessage, w.messageID)
	a.mu.Unlock()

	changed, err := a.Repo.MarkDeclinedIfLive(ctx, a.DB, w.requestID)
	if err != nil {
		a.Log.Error().Err(err).Int64("request_id", w.requestID).Msg("failed to decline timed-out request")
		return
	}
	if !changed {
		// A moderator decision landed first; leave the thread alone.
		return
	}

	a.Log.Info().Int64("request_id", w.requestID).Str("thread_id", w.threadID).
		Msg("acceptance window elapsed, declining request")
	if a.Discord != nil && w.threadID != "" {
		if derr := a.Discord.DeleteChannel(ctx, w.threadID); derr != nil {
			a.Log.Warn().Err(derr).Str("thread_id", w.threadID).Msg("failed to delete expired thread")
		}
	}
	// The thread is already gone; the event carries no ThreadID so
	// subscribers do not tear it down a second time.
	a.publish(events.RequestUpdated{RequestID: w.requestID, Status: domain.StatusDeclined})
}

// HandleReaction processes a gateway reaction. Reactions on untracked
// messages, with the wrong emoji, or from non-participants are ignored.
func (a *AcceptanceWatcher) HandleReaction(ctx context.Context, ev discord.ReactionEvent) {
	if ev.Emoji.Name != a.Emoji {
		return
	}
	a.mu.Lock()
	requestID, ok := a.byMessage[ev.MessageID]
	a.mu.Unlock()
	if !ok {
		return
	}

	m, err := a.Repo.GetMiddlemanRequest(ctx, a.DB, requestID)
	if err != nil {
		a.Log.Error().Err(err).Int64("request_id", requestID).Msg("failed to load request for reaction")
		return
	}
	var party int
	switch ev.UserID {
	case m.User1:
		party = 1
	case m.User2:
		party = 2
	default:
		return
	}

	changed, err := a.Repo.SetPartyAccepted(ctx, a.DB, requestID, party)
	if err != nil {
		a.Log.Error().Err(err).Int64("request_id", requestID).Msg("failed to record acceptance")
		return
	}
	if !changed {
		return
	}
	a.Log.Info().Int64("request_id", requestID).Str("user_id", ev.UserID).Msg("party accepted trade")

	fresh, err := a.Repo.GetMiddlemanRequest(ctx, a.DB, requestID)
	if err != nil {
		a.Log.Error().Err(err).Int64("request_id", requestID).Msg("failed to reload request")
		return
	}
	if !fresh.BothAccepted() {
		return
	}

	// Both sides are in. Release the deadline, keep the thread for the
	// middleman, and let subscribers know.
	a.Cancel(requestID)
	if a.Discord != nil && fresh.ThreadID != "" {
		_, merr := a.Discord.CreateMessage(ctx, fresh.ThreadID, discord.MessagePayload{
			Content: "Both users have accepted the trade. A middleman will take it from here.",
		})
		if merr != nil {
			a.Log.Warn().Err(merr).Str("thread_id", fresh.ThreadID).Msg("failed to post acceptance note")
		}
	}
	a.publish(events.RequestUpdated{RequestID: requestID, Status: fresh.Status, ThreadID: fresh.ThreadID, ActorID: ev.UserID})
}

// Rediscover re-arms watchers for every request that still has a live thread.
// Each rediscovered request gets a full window; the original deadline is not
// reconstructed.
func (a *AcceptanceWatcher) Rediscover(ctx context.Context) error {
	open, err := a.Repo.ListOpenThreads(ctx, a.DB)
	if err != nil {
		return err
	}
	for i := range open {
		m := &open[i]
		a.Track(ctx, m.ID, m.ThreadID, m.AcceptMessageID)
	}
	if len(open) > 0 {
		a.Log.Info().Int("count", len(open)).Msg("rediscovered live acceptance threads")
	}
	return nil
}

func (a *AcceptanceWatcher) publish(ev events.RequestUpdated) {
	if a.Events == nil {
		return
	}
	if err := a.Events.PublishRequestUpdated(ev); err != nil {
		a.Log.Warn().Err(err).Int64("request_id", ev.RequestID).Msg("failed to publish request update")
	}
}
