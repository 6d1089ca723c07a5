// Package repo implements the data persistence layer for domain entities.
// This file provides repository functions for user profiles.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zrx-market/go-market-backend/internal/domain"
)

// GetUser fetches a user by Discord id, or (nil, nil) when unknown. The
// thread orchestrator tolerates missing profiles, so absence is not an error
// here.
func GetUser(ctx context.Context, db *gorm.DB, discordID string) (*domain.User, error) {
	var u domain.User
	err := withBusyRetry(func() error {
		return db.WithContext(ctx).First(&u, "discord_id = ?", discordID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser creates or refreshes a user profile keyed by Discord id.
func UpsertUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return withBusyRetry(func() error {
		return db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "discord_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"username", "avatar", "verified", "roles"}),
			}).
			Create(u).Error
	})
}
