// Package services – ConsentService
//
// This file implements the mutual-consent gate for chat-initiated middleman
// requests. A single user asking for a middleman never creates moderator work:
// the request sits in waiting_confirmation until the counterparty asks too, at
// which point it is atomically promoted to pending. Initiations are throttled
// per user by a persisted cooldown that only advances when a call genuinely
// records a new consent, so retries and double-clicks are free.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/zrx-market/go-market-backend/internal/domain"
)

// ConsentRepo defines the repository contract required by ConsentService.
type ConsentRepo interface {
	// GetTrade fetches the trade the consent request is anchored to.
	GetTrade(ctx context.Context, db *gorm.DB, id int64) (*domain.Trade, error)

	// FindCounterparty resolves the other participant of a trade from its
	// message history; returns "" when nobody else has written.
	FindCounterparty(ctx context.Context, db *gorm.DB, tradeID int64, userID string) (string, error)

	// GetCooldown returns the user's cooldown record, or nil when absent.
	GetCooldown(ctx context.Context, db *gorm.DB, userID string) (*domain.MiddlemanCooldown, error)

	// TouchCooldown upserts the user's cooldown timestamp.
	TouchCooldown(ctx context.Context, db *gorm.DB, userID string, at time.Time) error

	// FindRequestByTradePair returns the request for the trade between the
	// two users, matching the pair in either order.
	FindRequestByTradePair(ctx context.Context, db *gorm.DB, tradeID int64, userA, userB string) (*domain.MiddlemanRequest, error)

	// LatestRequestForTradeUser returns the newest request on the trade that
	// involves the user.
	LatestRequestForTradeUser(ctx context.Context, db *gorm.DB, tradeID int64, userID string) (*domain.MiddlemanRequest, error)

	// CreateMiddlemanRequest inserts a new request row.
	CreateMiddlemanRequest(ctx context.Context, db *gorm.DB, m *domain.MiddlemanRequest) error

	// GetMiddlemanRequest fetches a request by id.
	GetMiddlemanRequest(ctx context.Context, db *gorm.DB, id int64) (*domain.MiddlemanRequest, error)

	// SetPartyRequested flips the requested flag for party 1 or 2, reporting
	// whether the flag actually changed.
	SetPartyRequested(ctx context.Context, db *gorm.DB, id int64, party int) (bool, error)

	// PromoteIfBothRequested moves waiting_confirmation to pending once both
	// requested flags are set.
	PromoteIfBothRequested(ctx context.Context, db *gorm.DB, id int64) (bool, error)
}

// ConsentService implements the chat-initiated middleman consent workflow.
type ConsentService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the repository used by this service.
	Repo ConsentRepo
	// Announce notifies the middleman channel when both parties have asked.
	Announce Announcer

	// Cooldown is the minimum wait between genuinely new initiations by the
	// same user.
	Cooldown time.Duration
	// Clock supplies the current time; injectable for tests.
	Clock Clock
	// Log receives announcement failures, which never fail the call.
	Log zerolog.Logger
}

// NewConsentService constructs a ConsentService with the given cooldown window.
func NewConsentService(db *gorm.DB, r ConsentRepo, a Announcer, cooldown time.Duration, log zerolog.Logger) *ConsentService {
	return &ConsentService{DB: db, Repo: r, Announce: a, Cooldown: cooldown, Clock: RealClock(), Log: log}
}

// ConsentResult describes the outcome of a RequestConsent call.
type ConsentResult struct {
	// Request is the request row after this call's writes.
	Request *domain.MiddlemanRequest
	// Changed reports whether this call recorded a genuinely new consent.
	Changed bool
	// Promoted reports whether this call moved the request to pending,
	// making it visible to moderators.
	Promoted bool
	// BothRequested reports whether both parties have now asked.
	BothRequested bool
}

// RequestConsent records that userID wants a middleman for the trade. The
// first party's call creates the request in waiting_confirmation; the
// counterparty's call promotes it to pending. An explicit recipientID
// (the chat peer the caller named) takes precedence over counterparty
// resolution from the trade. Repeated calls by the same party are
// idempotent and do not advance the cooldown clock.
func (s *ConsentService) RequestConsent(ctx context.Context, tradeID int64, userID, recipientID string) (*ConsentResult, error) {
	trade, err := s.Repo.GetTrade(ctx, s.DB, tradeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}

	other, err := s.resolveOther(ctx, trade, userID, recipientID)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now().UTC()
	if err := s.checkCooldown(ctx, userID, now); err != nil {
		return nil, err
	}

	existing, err := s.Repo.FindRequestByTradePair(ctx, s.DB, tradeID, userID, other)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.initiate(ctx, trade, userID, other, now)
	case err != nil:
		return nil, err
	}

	party := 2
	if existing.User1 == userID {
		party = 1
	}
	changed, err := s.Repo.SetPartyRequested(ctx, s.DB, existing.ID, party)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := s.Repo.TouchCooldown(ctx, s.DB, userID, now); err != nil {
			return nil, err
		}
	}
	promoted, err := s.Repo.PromoteIfBothRequested(ctx, s.DB, existing.ID)
	if err != nil {
		return nil, err
	}
	fresh, err := s.Repo.GetMiddlemanRequest(ctx, s.DB, existing.ID)
	if err != nil {
		return nil, err
	}
	if promoted && s.Announce != nil {
		// Best effort: the promotion stands even when Discord is down.
		if err := s.Announce.AnnounceRequest(ctx, fresh); err != nil && !errors.Is(err, ErrDiscordUnavailable) {
			s.Log.Warn().Err(err).Int64("request_id", fresh.ID).Msg("promotion announcement failed")
		}
	}
	return &ConsentResult{Request: fresh, Changed: changed, Promoted: promoted, BothRequested: fresh.BothRequested()}, nil
}

// initiate creates the first half of a consent pair.
func (s *ConsentService) initiate(ctx context.Context, trade *domain.Trade, userID, other string, now time.Time) (*ConsentResult, error) {
	tradeID := trade.ID
	m := &domain.MiddlemanRequest{
		RequesterID:      userID,
		User1:            userID,
		User2:            other,
		Item:             tradeSummary(trade),
		Value:            trade.Value,
		TradeID:          &tradeID,
		User1RequestedMM: true,
		Status:           domain.StatusWaitingConfirmation,
		CreatedAt:        now,
	}
	if err := s.Repo.CreateMiddlemanRequest(ctx, s.DB, m); err != nil {
		return nil, err
	}
	if err := s.Repo.TouchCooldown(ctx, s.DB, userID, now); err != nil {
		return nil, err
	}
	return &ConsentResult{Request: m, Changed: true}, nil
}

// resolveOther picks the consent counterpart. An explicit recipient wins;
// otherwise it is derived from the trade, falling back to the pair of an
// already open request when the chat history yields nobody.
func (s *ConsentService) resolveOther(ctx context.Context, trade *domain.Trade, userID, recipientID string) (string, error) {
	if r := strings.TrimSpace(recipientID); r != "" && r != userID {
		return r, nil
	}
	other, err := s.counterparty(ctx, trade, userID)
	if err == nil {
		return other, nil
	}
	if !errors.Is(err, ErrCounterpartyUnknown) {
		return "", err
	}
	prior, perr := s.Repo.LatestRequestForTradeUser(ctx, s.DB, trade.ID, userID)
	if perr != nil {
		if errors.Is(perr, gorm.ErrRecordNotFound) {
			return "", ErrCounterpartyUnknown
		}
		return "", perr
	}
	if prior.User1 == userID {
		return prior.User2, nil
	}
	return prior.User1, nil
}

// counterparty resolves the other participant: the trade creator when the
// caller is not, otherwise whoever messaged the creator about the trade.
func (s *ConsentService) counterparty(ctx context.Context, trade *domain.Trade, userID string) (string, error) {
	if userID != trade.CreatorID {
		return trade.CreatorID, nil
	}
	other, err := s.Repo.FindCounterparty(ctx, s.DB, trade.ID, userID)
	if err != nil {
		return "", err
	}
	if other == "" {
		return "", ErrCounterpartyUnknown
	}
	return other, nil
}

// checkCooldown returns a *ThrottledError when the user initiated within the
// cooldown window. The remaining wait is rounded up to a whole second so a
// still-active cooldown never reads as zero.
func (s *ConsentService) checkCooldown(ctx context.Context, userID string, now time.Time) error {
	cd, err := s.Repo.GetCooldown(ctx, s.DB, userID)
	if err != nil {
		return err
	}
	if cd == nil {
		return nil
	}
	elapsed := now.Sub(cd.LastRequestAt)
	if elapsed >= s.Cooldown {
		return nil
	}
	return &ThrottledError{Remaining: ceilSeconds(s.Cooldown - elapsed)}
}

// ceilSeconds rounds d up to the next whole second.
func ceilSeconds(d time.Duration) time.Duration {
	if r := d % time.Second; r != 0 {
		d += time.Second - r
	}
	return d
}

// tradeSummary renders a trade's item lists as a single line for the request
// record and the Discord announcement.
func tradeSummary(t *domain.Trade) string {
	offered := itemNames(t.Offered)
	wanted := itemNames(t.Wanted)
	switch {
	case offered == "" && wanted == "":
		return "trade"
	case wanted == "":
		return offered
	case offered == "":
		return wanted
	}
	return offered + " for " + wanted
}

func itemNames(raw string) string {
	items := domain.Items(raw)
	names := make([]string, 0, len(items))
	for _, it := range items {
		if it.Name != "" {
			names = append(names, it.Name)
		}
	}
	return strings.Join(names, ", ")
}

// ChatStatusInfo is the consent state of a trade chat as shown to one of its
// participants.
type ChatStatusInfo struct {
	// Exists reports whether any middleman request involves this user on
	// this trade.
	Exists bool `json:"exists"`
	// Status is the request status when Exists is true.
	Status string `json:"status,omitempty"`
	// RequestID identifies the request when Exists is true.
	RequestID int64 `json:"requestId,omitempty"`
	// YouRequested reports whether the viewing user already asked.
	YouRequested bool `json:"youRequested"`
	// OtherRequested reports whether the counterparty already asked.
	OtherRequested bool `json:"otherRequested"`
	// CooldownRemaining is the viewing user's remaining initiation wait.
	CooldownRemaining time.Duration `json:"-"`
}

// ChatStatus reports the consent state of the trade as seen by userID,
// including the user's remaining cooldown.
func (s *ConsentService) ChatStatus(ctx context.Context, tradeID int64, userID string) (*ChatStatusInfo, error) {
	info := &ChatStatusInfo{}

	if cd, err := s.Repo.GetCooldown(ctx, s.DB, userID); err != nil {
		return nil, err
	} else if cd != nil {
		if elapsed := s.Clock.Now().UTC().Sub(cd.LastRequestAt); elapsed < s.Cooldown {
			info.CooldownRemaining = ceilSeconds(s.Cooldown - elapsed)
		}
	}

	m, err := s.Repo.LatestRequestForTradeUser(ctx, s.DB, tradeID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return info, nil
	}
	if err != nil {
		return nil, err
	}

	info.Exists = true
	info.Status = m.Status
	info.RequestID = m.ID
	if m.User1 == userID {
		info.YouRequested = m.User1RequestedMM
		info.OtherRequested = m.User2RequestedMM
	} else {
		info.YouRequested = m.User2RequestedMM
		info.OtherRequested = m.User1RequestedMM
	}
	return info, nil
}
