// Package repo implements the data persistence layer for domain entities.
// This file provides repository functions for trades and trade chat
// messages (the latter only as far as the middleman workflow needs them).
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/zrx-market/go-market-backend/internal/domain"
)

// CreateTrade inserts t and populates its generated ID.
func CreateTrade(ctx context.Context, db *gorm.DB, t *domain.Trade) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return withBusyRetry(func() error {
		return db.WithContext(ctx).Create(t).Error
	})
}

// GetTrade fetches a trade by id, or ErrNotFound.
func GetTrade(ctx context.Context, db *gorm.DB, id int64) (*domain.Trade, error) {
	var t domain.Trade
	err := withBusyRetry(func() error {
		return db.WithContext(ctx).First(&t, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTrades returns trades ordered by creation time descending. A non-empty
// creatorID restricts the result to that user's listings.
func ListTrades(ctx context.Context, db *gorm.DB, creatorID string, offset, limit int) ([]domain.Trade, error) {
	q := db.WithContext(ctx).Order("created_at desc")
	if creatorID != "" {
		q = q.Where("creator_id = ?", creatorID)
	}
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}
	var out []domain.Trade
	err := withBusyRetry(func() error {
		return q.Find(&out).Error
	})
	return out, err
}

// CountTrades returns the number of trades, optionally for one creator.
func CountTrades(ctx context.Context, db *gorm.DB, creatorID string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Trade{})
	if creatorID != "" {
		q = q.Where("creator_id = ?", creatorID)
	}
	var total int64
	err := withBusyRetry(func() error {
		return q.Count(&total).Error
	})
	return total, err
}

// DeleteTrade soft-deletes a trade. Returns ErrNotFound when absent.
func DeleteTrade(ctx context.Context, db *gorm.DB, id int64) error {
	return withBusyRetry(func() error {
		res := db.WithContext(ctx).Delete(&domain.Trade{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// FindCounterparty resolves the other participant of a trade conversation:
// the first user that exchanged a message with userID about tradeID.
// Returns "" when no conversation exists.
func FindCounterparty(ctx context.Context, db *gorm.DB, tradeID int64, userID string) (string, error) {
	var msg domain.TradeMessage
	err := withBusyRetry(func() error {
		return db.WithContext(ctx).
			Where("trade_id = ? AND (sender_id = ? OR recipient_id = ?)", tradeID, userID, userID).
			Order("created_at asc").
			First(&msg).Error
	})
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if msg.SenderID == userID {
		return msg.RecipientID, nil
	}
	return msg.SenderID, nil
}
