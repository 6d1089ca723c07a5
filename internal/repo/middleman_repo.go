// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for middleman
// escrow requests.
//
// Concurrency notes:
//   - Consent flags are flipped with single-column atomic UPDATEs guarded by
//     a WHERE clause on the flag's current value, never by reading the row,
//     mutating it in memory, and writing it back. Two parties consenting at
//     the same moment therefore cannot clobber each other's flag.
//   - The thread linkage is written with a WHERE thread_id = '' guard so it
//     is set at most once per request.
//   - RowsAffected is surfaced as a boolean so callers can distinguish a
//     genuinely new transition from an idempotent no-op (the consent gate
//     advances the cooldown clock only on the former).
//
// All functions route through the bounded busy-retry wrapper (see retry.go)
// and return other database errors unmodified.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/zrx-market/go-market-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// RequestWithUser is a middleman request joined with the requester's public
// profile, as served to moderators.
type RequestWithUser struct {
	domain.MiddlemanRequest
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// CreateMiddlemanRequest inserts m and populates its generated ID and
// CreatedAt. The status must be set by the caller (the consent gate creates
// requests in waiting_confirmation).
func CreateMiddlemanRequest(ctx context.Context, db *gorm.DB, m *domain.MiddlemanRequest) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return withBusyRetry(func() error {
		return db.WithContext(ctx).Create(m).Error
	})
}

// GetMiddlemanRequest fetches a request by id, or ErrNotFound.
func GetMiddlemanRequest(ctx context.Context, db *gorm.DB, id int64) (*domain.MiddlemanRequest, error) {
	var m domain.MiddlemanRequest
	err := withBusyRetry(func() error {
		return db.WithContext(ctx).First(&m, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindRequestByTradePair returns the request for tradeID between userA and
// userB, matching the pair in either order, or ErrNotFound.
func FindRequestByTradePair(ctx context.Context, db *gorm.DB, tradeID int64, userA, userB string) (*domain.MiddlemanRequest, error) {
	var m domain.MiddlemanRequest
	err := withBusyRetry(func() error {
		return db.WithContext(ctx).
			Where("trade_id = ? AND ((user1 = ? AND user2 = ?) OR (user1 = ? AND user2 = ?))",
				tradeID, userA, userB, userB, userA).
			First(&m).Error
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// LatestRequestForTradeUser returns the most recent request on tradeID in
// which userID is one of the two parties, or ErrNotFound.
func LatestRequestForTradeUser(ctx context.Context, db *gorm.DB, tradeID int64, userID string) (*domain.MiddlemanRequest, error) {
	var m domain.MiddlemanRequest
	err := withBusyRetry(func() error {
		return db.WithContext(ctx).
			Where("trade_id = ? AND (user1 = ? OR user2 = ?)", tradeID, userID, userID).
			Order("created_at desc").
			First(&m).Error
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListPendingRequests returns requests awaiting moderator attention (status
// pending or waiting_confirmation) joined with the requester profile, most
// recent first.
func ListPendingRequests(ctx context.Context, db *gorm.DB) ([]RequestWithUser, error) {
	var out []RequestWithUser
	err := withBusyRetry(func() error {
		return db.WithContext(ctx).
			Table("middleman_requests AS m").
			Select("m.*, u.username, u.avatar").
			Joins("JOIN users u ON m.requester_id = u.discord_id").
			Where("m.status = ? OR m.status = ?", domain.StatusPending, domain.StatusWaitingConfirmation).
			Order("m.created_at desc").
			Scan(&out).Error
	})
	return out, err
}

// ListRequests returns all requests joined with the requester profile,
// optionally filtered by status, most recent first.
func ListRequests(ctx context.Context, db *gorm.DB, status string) ([]RequestWithUser, error) {
	q := db.WithContext(ctx).
		Table("middleman_requests AS m").
		Select("m.*, u.username, u.avatar").
		Joins("JOIN users u ON m.requester_id = u.discord_id")
	if status != "" {
		q = q.Where("m.status = ?", status)
	}
	var out []RequestWithUser
	err := withBusyRetry(func() error {
		return q.Order("m.created_at desc").Scan(&out).Error
	})
	return out, err
}

// ListOpenThreads returns requests that have a live acceptance thread:
// a non-empty thread id and a status still short of a terminal state.
// Used at startup to rediscover acceptance watchers.
func ListOpenThreads(ctx context.Context, db *gorm.DB) ([]domain.MiddlemanRequest, error) {
	var out []domain.MiddlemanRequest
	err := withBusyRetry(func() error {
		return db.WithContext(ctx).
			Where("thread_id <> '' AND status IN ?",
				[]string{domain.StatusPending, domain.StatusWaitingConfirmation}).
			Find(&out).Error
	})
	return out, err
}

// partyColumn maps a party ordinal (1 or 2) to its column prefix.
func partyColumn(party int) string {
	if party == 1 {
		return "user1"
	}
	return "user2"
}

// SetPartyRequested sets the requested-middleman flag for party (1 or 2) on
// request id. It reports true only when the flag actually transitioned from
// false, so repeated calls are idempotent no-ops.
func SetPartyRequested(ctx context.Context, db *gorm.DB, id int64, party int) (bool, error) {
	col := partyColumn(party) + "_requested_mm"
	var changed bool
	err := withBusyRetry(func() error {
		res := db.WithContext(ctx).
			Model(&domain.MiddlemanRequest{}).
			Where("id = ? AND "+col+" = ?", id, false).
			Update(col, true)
		changed = res.RowsAffected > 0
		return res.Error
	})
	return changed, err
}

// SetPartyAccepted sets the accepted flag for party (1 or 2) on request id.
// It reports true only when the flag actually transitioned from false.
func SetPartyAccepted(ctx context.Context, db *gorm.DB, id int64, party int) (bool, error) {
	col := partyColumn(party) + "_accepted"
	var changed bool
	err := withBusyRetry(func() error {
		res := db.WithContext(ctx).
			Model(&domain.MiddlemanRequest{}).
			Where("id = ? AND "+col+" = ?", id, false).
			Update(col, true)
		changed = res.RowsAffected > 0
		return res.Error
	})
	return changed, err
}

// SetThreadLinkage records the acceptance thread and prompt message ids on
// request id. The write is guarded so the linkage is set at most once; it
// reports false when a thread id was already present.
func SetThreadLinkage(ctx context.Context, db *gorm.DB, id int64, threadID, messageID string) (bool, error) {
	var changed bool
	err := withBusyRetry(func() error {
		res := db.WithContext(ctx).
			Model(&domain.MiddlemanRequest{}).
			Where("id = ? AND thread_id = ''", id).
			Updates(map[string]any{
				"thread_id":         threadID,
				"accept_message_id": messageID,
			})
		changed = res.RowsAffected > 0
		return res.Error
	})
	return changed, err
}

// SetAcceptMessage records the acceptance prompt message id on request id.
// Guarded so it is set at most once.
func SetAcceptMessage(ctx context.Context, db *gorm.DB, id int64, messageID string) (bool, error) {
	var changed bool
	err := withBusyRetry(func() error {
		res := db.WithContext(ctx).
			Model(&domain.MiddlemanRequest{}).
			Where("id = ? AND accept_message_id = ''", id).
			Update("accept_message_id", messageID)
		changed = res.RowsAffected > 0
		return res.Error
	})
	return changed, err
}

// PromoteIfBothRequested atomically moves request id from
// waiting_confirmation to pending, but only when both requested flags are
// set. It reports whether the promotion happened in this call.
func PromoteIfBothRequested(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	var changed bool
	err := withBusyRetry(func() error {
		res := db.WithContext(ctx).
			Model(&domain.MiddlemanRequest{}).
			Where("id = ? AND status = ? AND user1_requested_mm = ? AND user2_requested_mm = ?",
				id, domain.StatusWaitingConfirmation, true, true).
			Update("status", domain.StatusPending)
		changed = res.RowsAffected > 0
		return res.Error
	})
	return changed, err
}

// UpdateRequestStatus sets the status (and, when non-empty, the assigned
// middleman) of request id. Returns ErrNotFound when the request is missing.
//
// The consent invariant is deliberately NOT checked here: the store accepts
// any of the five statuses, and the moderator transition gate is the single
// authority validating transitions.
func UpdateRequestStatus(ctx context.Context, db *gorm.DB, id int64, status, middlemanID string) error {
	values := map[string]any{"status": status}
	if middlemanID != "" {
		values["middleman_id"] = middlemanID
	}
	return withBusyRetry(func() error {
		res := db.WithContext(ctx).
			Model(&domain.MiddlemanRequest{}).
			Where("id = ?", id).
			Updates(values)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// MarkDeclinedIfLive moves request id to declined unless it already reached
// a terminal state. Used by the acceptance watcher on timeout so that a
// timed-out request is distinguishable from a live one, while a moderator
// decision that landed first is never overwritten.
func MarkDeclinedIfLive(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	var changed bool
	err := withBusyRetry(func() error {
		res := db.WithContext(ctx).
			Model(&domain.MiddlemanRequest{}).
			Where("id = ? AND status IN ?", id,
				[]string{domain.StatusPending, domain.StatusWaitingConfirmation}).
			Update("status", domain.StatusDeclined)
		changed = res.RowsAffected > 0
		return res.Error
	})
	return changed, err
}
