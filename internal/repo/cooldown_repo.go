// Package repo implements the data persistence layer for domain entities.
// This file provides repository functions for the per-user middleman
// request cooldown.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zrx-market/go-market-backend/internal/domain"
)

// GetCooldown returns the cooldown record for userID, or (nil, nil) when the
// user has never initiated a request.
func GetCooldown(ctx context.Context, db *gorm.DB, userID string) (*domain.MiddlemanCooldown, error) {
	var cd domain.MiddlemanCooldown
	err := withBusyRetry(func() error {
		return db.WithContext(ctx).First(&cd, "user_id = ?", userID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cd, nil
}

// TouchCooldown upserts the cooldown record for userID with the given
// timestamp, replacing any previous value.
func TouchCooldown(ctx context.Context, db *gorm.DB, userID string, at time.Time) error {
	cd := domain.MiddlemanCooldown{UserID: userID, LastRequestAt: at.UTC()}
	return withBusyRetry(func() error {
		return db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"last_request_at"}),
			}).
			Create(&cd).Error
	})
}
