// Package services – StatusService
//
// This file implements the moderator transition gate, the single authority
// for status changes on middleman requests. Every transition is validated,
// audited, and broadcast on the event bus.
package services

import (
	"context"
	"errors"
	"strconv"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/zrx-market/go-market-backend/internal/domain"
	"github.com/zrx-market/go-market-backend/internal/events"
)

// StatusRepo defines the repository contract required by StatusService.
type StatusRepo interface {
	GetMiddlemanRequest(ctx context.Context, db *gorm.DB, id int64) (*domain.MiddlemanRequest, error)
	UpdateRequestStatus(ctx context.Context, db *gorm.DB, id int64, status, middlemanID string) error
	AppendAuditLog(ctx context.Context, db *gorm.DB, actorID, action, targetID string, details any) error
}

// StatusService applies moderator decisions to middleman requests.
type StatusService struct {
	DB     *gorm.DB
	Repo   StatusRepo
	Events events.Publisher
	Log    zerolog.Logger
}

// NewStatusService constructs a StatusService.
func NewStatusService(db *gorm.DB, r StatusRepo, ev events.Publisher, log zerolog.Logger) *StatusService {
	return &StatusService{DB: db, Repo: r, Events: ev, Log: log}
}

// SetStatus moves the request to status on behalf of actorID. Accepting a
// request that is still in waiting_confirmation requires both parties to have
// accepted in the thread first. Accepting assigns middlemanID when given,
// otherwise the acting moderator. The transition is audited and published.
func (s *StatusService) SetStatus(ctx context.Context, id int64, status, actorID, middlemanID string) (*domain.MiddlemanRequest, error) {
	if !domain.ValidStatus(status) {
		return nil, ErrInvalidStatus
	}

	m, err := s.Repo.GetMiddlemanRequest(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	if status == domain.StatusAccepted &&
		m.Status == domain.StatusWaitingConfirmation &&
		!m.BothAccepted() {
		return nil, ErrConsentNotMet
	}

	assigned := ""
	if status == domain.StatusAccepted {
		assigned = middlemanID
		if assigned == "" {
			assigned = actorID
		}
	}
	if err := s.Repo.UpdateRequestStatus(ctx, s.DB, id, status, assigned); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	if err := s.Repo.AppendAuditLog(ctx, s.DB, actorID, "middleman_status_update", requestTarget(id), map[string]any{
		"from": m.Status,
		"to":   status,
	}); err != nil {
		// The transition already happened; a lost audit row is logged, not
		// surfaced as a failure.
		s.Log.Error().Err(err).Int64("request_id", id).Msg("failed to append audit log")
	}

	fresh, err := s.Repo.GetMiddlemanRequest(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}

	if s.Events != nil {
		ev := events.RequestUpdated{
			RequestID:   id,
			Status:      status,
			ThreadID:    fresh.ThreadID,
			MiddlemanID: fresh.MiddlemanID,
			ActorID:     actorID,
		}
		if perr := s.Events.PublishRequestUpdated(ev); perr != nil {
			s.Log.Warn().Err(perr).Int64("request_id", id).Msg("failed to publish request update")
		}
	}
	return fresh, nil
}

func requestTarget(id int64) string {
	return "middleman_request:" + strconv.FormatInt(id, 10)
}
