// Package repo implements the data persistence layer for domain entities.
// This file provides the append-only moderator audit log.
package repo

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/zrx-market/go-market-backend/internal/domain"
)

// AppendAuditLog records a moderator action. details is serialized to JSON;
// a payload that cannot be serialized is stored as an empty string rather
// than failing the write.
func AppendAuditLog(ctx context.Context, db *gorm.DB, actorID, action, targetID string, details any) error {
	var payload string
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			payload = string(b)
		}
	}
	entry := domain.AuditLog{
		ActorID:   actorID,
		Action:    action,
		TargetID:  targetID,
		Details:   payload,
		CreatedAt: time.Now().UTC(),
	}
	return withBusyRetry(func() error {
		return db.WithContext(ctx).Create(&entry).Error
	})
}

// ListAuditLogs returns audit entries most recent first, optionally filtered
// by actor.
func ListAuditLogs(ctx context.Context, db *gorm.DB, actorID string, limit int) ([]domain.AuditLog, error) {
	q := db.WithContext(ctx).Order("created_at desc")
	if actorID != "" {
		q = q.Where("actor_id = ?", actorID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.AuditLog
	err := withBusyRetry(func() error {
		return q.Find(&out).Error
	})
	return out, err
}
