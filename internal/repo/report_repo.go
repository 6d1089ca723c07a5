package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/zrx-market/go-market-backend/internal/domain"
)

// CreateReport inserts r and populates its generated ID.
func CreateReport(ctx context.Context, db *gorm.DB, r *domain.Report) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = domain.StatusPending
	}
	return withBusyRetry(func() error {
		return db.WithContext(ctx).Create(r).Error
	})
}

// ListReports returns reports most recent first, optionally filtered by
// status.
func ListReports(ctx context.Context, db *gorm.DB, status string) ([]domain.Report, error) {
	q := db.WithContext(ctx).Order("created_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.Report
	err := withBusyRetry(func() error {
		return q.Find(&out).Error
	})
	return out, err
}
