// Package services – ThreadService
//
// This file implements the Discord side of the middleman workflow: announcing
// new requests in the middleman channel and orchestrating the private
// acceptance thread in which both trading parties confirm the deal.
//
// Thread creation is deliberately crash-safe: the thread id is persisted
// before any member is added or any prompt is posted, so a restart can always
// rediscover live threads from the database. Member adds are best-effort and
// never fail the workflow; a missing member is skipped, a permission problem
// is logged for the operator, and a rate limit is retried exactly once after
// a fixed backoff.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/zrx-market/go-market-backend/internal/discord"
	"github.com/zrx-market/go-market-backend/internal/domain"
)

// DiscordAPI is the REST surface the workflow needs from the Discord client.
type DiscordAPI interface {
	Configured() bool
	CreateMessage(ctx context.Context, channelID string, payload discord.MessagePayload) (*discord.Message, error)
	StartThreadFromMessage(ctx context.Context, channelID, messageID string, payload discord.ThreadPayload) (*discord.Channel, error)
	AddThreadMember(ctx context.Context, threadID, userID string) error
	CreateReaction(ctx context.Context, channelID, messageID, emoji string) error
	GetChannel(ctx context.Context, channelID string) (*discord.Channel, error)
	GetGuildMember(ctx context.Context, guildID, userID string) error
	DeleteChannel(ctx context.Context, channelID string) error
}

// ThreadRepo defines the repository contract required by ThreadService.
type ThreadRepo interface {
	GetMiddlemanRequest(ctx context.Context, db *gorm.DB, id int64) (*domain.MiddlemanRequest, error)
	SetThreadLinkage(ctx context.Context, db *gorm.DB, id int64, threadID, messageID string) (bool, error)
	SetAcceptMessage(ctx context.Context, db *gorm.DB, id int64, messageID string) (bool, error)
}

// ThreadService announces middleman requests and creates acceptance threads.
type ThreadService struct {
	DB      *gorm.DB
	Repo    ThreadRepo
	Discord DiscordAPI

	// ChannelID is the middleman channel requests are announced in and
	// acceptance threads are derived from.
	ChannelID string
	// GuildID, when set, enables a guild membership pre-check before thread
	// member adds.
	GuildID string
	// RoleID, when set, is mentioned in announcements.
	RoleID string

	// SettleDelay is the wait between thread creation and the visibility
	// verification read.
	SettleDelay time.Duration
	// MemberAddBackoff is the fixed wait before the single rate-limit retry
	// of a member add.
	MemberAddBackoff time.Duration
	// AcceptWindow is how long both parties have to react.
	AcceptWindow time.Duration
	// AcceptEmoji is the reaction that signals acceptance.
	AcceptEmoji string

	Clock Clock
	Log   zerolog.Logger
}

// ThreadResult describes an acceptance thread after CreateAcceptanceThread.
type ThreadResult struct {
	ThreadID        string        `json:"threadId"`
	AcceptMessageID string        `json:"acceptMessageId"`
	Existing        bool          `json:"existing"`
	AcceptWindow    time.Duration `json:"-"`
}

// CreateAcceptanceThread creates the private acceptance thread for the
// request: an anchor message in the middleman channel, a thread derived from
// it, both parties added, and the acceptance prompt with the reaction seeded.
// When the request already has a thread the existing linkage is returned and
// no Discord call is made.
func (s *ThreadService) CreateAcceptanceThread(ctx context.Context, requestID int64) (*ThreadResult, error) {
	m, err := s.Repo.GetMiddlemanRequest(ctx, s.DB, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if m.ThreadID != "" {
		return &ThreadResult{ThreadID: m.ThreadID, AcceptMessageID: m.AcceptMessageID, Existing: true}, nil
	}
	if s.Discord == nil || !s.Discord.Configured() || s.ChannelID == "" {
		return nil, ErrDiscordUnavailable
	}

	anchor, err := s.Discord.CreateMessage(ctx, s.ChannelID, discord.MessagePayload{
		Content: s.anchorContent(m),
	})
	if err != nil {
		return nil, err
	}
	thread, err := s.Discord.StartThreadFromMessage(ctx, s.ChannelID, anchor.ID, discord.ThreadPayload{
		Name:                fmt.Sprintf("mm-request-%d", m.ID),
		Type:                discord.ChannelTypePrivateThread,
		AutoArchiveDuration: discord.AutoArchiveMinutes,
	})
	if err != nil {
		return nil, err
	}

	// Persist the linkage before anything else touches the thread so a crash
	// here still leaves the thread rediscoverable.
	linked, err := s.Repo.SetThreadLinkage(ctx, s.DB, m.ID, thread.ID, "")
	if err != nil {
		return nil, err
	}
	if !linked {
		// A concurrent call won the linkage race; discard our thread.
		s.Log.Warn().Int64("request_id", m.ID).Str("thread_id", thread.ID).
			Msg("duplicate acceptance thread discarded")
		if derr := s.Discord.DeleteChannel(ctx, thread.ID); derr != nil {
			s.Log.Warn().Err(derr).Str("thread_id", thread.ID).Msg("failed to delete duplicate thread")
		}
		fresh, ferr := s.Repo.GetMiddlemanRequest(ctx, s.DB, m.ID)
		if ferr != nil {
			return nil, ferr
		}
		return &ThreadResult{ThreadID: fresh.ThreadID, AcceptMessageID: fresh.AcceptMessageID, Existing: true}, nil
	}

	s.settle(ctx, thread.ID)
	s.addParties(ctx, thread.ID, m)

	prompt, err := s.postPrompt(ctx, thread.ID, m)
	if err != nil {
		// The thread exists and is persisted; the prompt can be retried by
		// the operator, so surface the error without unwinding.
		return nil, err
	}
	if _, err := s.Repo.SetAcceptMessage(ctx, s.DB, m.ID, prompt.ID); err != nil {
		return nil, err
	}

	return &ThreadResult{ThreadID: thread.ID, AcceptMessageID: prompt.ID, AcceptWindow: s.AcceptWindow}, nil
}

// settle waits briefly and verifies the thread is visible. Verification
// failures are logged only; the workflow proceeds regardless.
func (s *ThreadService) settle(ctx context.Context, threadID string) {
	if s.SettleDelay > 0 {
		select {
		case <-s.Clock.After(s.SettleDelay):
		case <-ctx.Done():
			return
		}
	}
	if _, err := s.Discord.GetChannel(ctx, threadID); err != nil {
		s.Log.Warn().Err(err).Str("thread_id", threadID).Msg("thread visibility check failed")
	}
}

// addParties adds the requester and both trading parties to the thread,
// best-effort. The requester usually doubles as one of the parties and the
// dedupe keeps the add single.
func (s *ThreadService) addParties(ctx context.Context, threadID string, m *domain.MiddlemanRequest) {
	seen := map[string]bool{}
	for _, userID := range []string{m.RequesterID, m.User1, m.User2} {
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		s.addMember(ctx, threadID, userID)
	}
}

// addMember applies the member-add policy: pre-check guild membership when a
// guild id is configured, skip users Discord does not know, log permission
// problems with a diagnostic, and retry a rate-limited add exactly once.
func (s *ThreadService) addMember(ctx context.Context, threadID, userID string) {
	if s.GuildID != "" {
		if err := s.Discord.GetGuildMember(ctx, s.GuildID, userID); discord.IsNotFound(err) {
			s.Log.Info().Str("user_id", userID).Msg("user not in guild, skipping thread add")
			return
		}
	}

	err := s.Discord.AddThreadMember(ctx, threadID, userID)
	if discord.IsRateLimited(err) {
		select {
		case <-s.Clock.After(discord.RetryAfterOf(err, s.MemberAddBackoff)):
		case <-ctx.Done():
			return
		}
		err = s.Discord.AddThreadMember(ctx, threadID, userID)
	}
	switch {
	case err == nil:
	case discord.IsNotFound(err):
		s.Log.Info().Str("user_id", userID).Msg("user not found, skipping thread add")
	case discord.IsForbidden(err):
		s.Log.Warn().Err(err).Str("user_id", userID).Str("thread_id", threadID).
			Msg("missing permission to add thread member, check bot role and thread settings")
	default:
		s.Log.Warn().Err(err).Str("user_id", userID).Str("thread_id", threadID).
			Msg("failed to add thread member")
	}
}

// postPrompt posts the acceptance embed and prompt inside the thread and
// seeds the acceptance reaction.
func (s *ThreadService) postPrompt(ctx context.Context, threadID string, m *domain.MiddlemanRequest) (*discord.Message, error) {
	minutes := int(s.AcceptWindow / time.Minute)
	content := fmt.Sprintf("%s %s react with %s to accept this trade. This request expires in %d minutes.",
		discord.MentionUser(m.User1), discord.MentionUser(m.User2), s.AcceptEmoji, minutes)

	prompt, err := s.Discord.CreateMessage(ctx, threadID, discord.MessagePayload{
		Content: content,
		Embeds:  []discord.Embed{requestEmbed(m, "Middleman Request")},
	})
	if err != nil {
		return nil, err
	}
	if rerr := s.Discord.CreateReaction(ctx, threadID, prompt.ID, s.AcceptEmoji); rerr != nil {
		s.Log.Warn().Err(rerr).Str("thread_id", threadID).Msg("failed to seed acceptance reaction")
	}
	return prompt, nil
}

// AnnounceRequest posts a new-request embed to the middleman channel,
// mentioning the middleman role when configured.
func (s *ThreadService) AnnounceRequest(ctx context.Context, m *domain.MiddlemanRequest) error {
	if s.Discord == nil || !s.Discord.Configured() || s.ChannelID == "" {
		return ErrDiscordUnavailable
	}
	var content string
	if s.RoleID != "" {
		content = discord.MentionRole(s.RoleID) + " new middleman request"
	}
	_, err := s.Discord.CreateMessage(ctx, s.ChannelID, discord.MessagePayload{
		Content: content,
		Embeds:  []discord.Embed{requestEmbed(m, "New Middleman Request")},
	})
	return err
}

func (s *ThreadService) anchorContent(m *domain.MiddlemanRequest) string {
	return fmt.Sprintf("Acceptance thread for middleman request #%d between %s and %s",
		m.ID, discord.MentionUser(m.User1), discord.MentionUser(m.User2))
}

// requestEmbed renders a middleman request as an embed. The first proof image
// is shown inline; any further proofs are linked in a field.
func requestEmbed(m *domain.MiddlemanRequest, title string) discord.Embed {
	e := discord.Embed{
		Title: fmt.Sprintf("%s #%d", title, m.ID),
		Color: 0x5865F2,
		Fields: []discord.EmbedField{
			{Name: "Users", Value: discord.MentionUser(m.User1) + " & " + discord.MentionUser(m.User2), Inline: true},
			{Name: "Item", Value: orDash(m.Item), Inline: true},
			{Name: "Value", Value: orDash(m.Value), Inline: true},
		},
		Footer:    &discord.EmbedFooter{Text: "Requested by " + discord.MentionUser(m.RequesterID)},
		Timestamp: discord.Timestamp(m.CreatedAt),
	}
	if m.RobloxUsername != "" {
		e.Fields = append(e.Fields, discord.EmbedField{Name: "Roblox", Value: m.RobloxUsername, Inline: true})
	}
	if proofs := m.Proofs(); len(proofs) > 0 {
		e.Image = &discord.EmbedImage{URL: proofs[0]}
		if len(proofs) > 1 {
			var b strings.Builder
			for i, p := range proofs[1:] {
				fmt.Fprintf(&b, "[Proof %d](%s)\n", i+2, p)
			}
			e.Fields = append(e.Fields, discord.EmbedField{Name: "More proofs", Value: strings.TrimRight(b.String(), "\n")})
		}
	}
	return e
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
