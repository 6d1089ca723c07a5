// Package services – ReportService
//
// Scam reports filed by users against other traders, reviewed by moderators.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/zrx-market/go-market-backend/internal/domain"
)

// Report validation errors.
var (
	// ErrMissingAccused is returned when a report names no accused user.
	ErrMissingAccused = errors.New("accused user is required")
	// ErrMissingDetails is returned when a report carries no description.
	ErrMissingDetails = errors.New("report details are required")
)

// ReportRepo defines the repository contract required by ReportService.
type ReportRepo interface {
	CreateReport(ctx context.Context, db *gorm.DB, r *domain.Report) error
	ListReports(ctx context.Context, db *gorm.DB, status string) ([]domain.Report, error)
}

// ReportService provides scam report filing and review listings.
type ReportService struct {
	DB   *gorm.DB
	Repo ReportRepo
}

// NewReportService constructs a ReportService.
func NewReportService(db *gorm.DB, r ReportRepo) *ReportService {
	return &ReportService{DB: db, Repo: r}
}

// CreateReportInput is the payload for filing a report.
type CreateReportInput struct {
	ReporterID string
	AccusedID  string
	Details    string
	Evidence   []string
}

// Create files a new report in pending status.
func (s *ReportService) Create(ctx context.Context, in CreateReportInput) (*domain.Report, error) {
	in.AccusedID = strings.TrimSpace(in.AccusedID)
	in.Details = strings.TrimSpace(in.Details)
	if in.AccusedID == "" {
		return nil, ErrMissingAccused
	}
	if in.Details == "" {
		return nil, ErrMissingDetails
	}
	var evidence string
	if len(in.Evidence) > 0 {
		raw, err := json.Marshal(in.Evidence)
		if err != nil {
			return nil, err
		}
		evidence = string(raw)
	}
	r := &domain.Report{
		ReporterID:       in.ReporterID,
		AccusedDiscordID: in.AccusedID,
		Details:          in.Details,
		EvidenceLinks:    evidence,
		Status:           "pending",
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.Repo.CreateReport(ctx, s.DB, r); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns reports, optionally filtered by status.
func (s *ReportService) List(ctx context.Context, status string) ([]domain.Report, error) {
	return s.Repo.ListReports(ctx, s.DB, status)
}
