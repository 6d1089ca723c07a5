// Package services – MiddlemanService
//
// This file implements the moderator-facing request operations: direct
// creation through the website form, lookups, and listings. Direct requests
// skip the chat consent gate and land pending immediately; the announcement
// to the middleman channel is best-effort so Discord downtime never loses a
// request.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/zrx-market/go-market-backend/internal/domain"
	"github.com/zrx-market/go-market-backend/internal/repo"
)

// Announcer posts a new-request notice to the middleman channel.
type Announcer interface {
	AnnounceRequest(ctx context.Context, m *domain.MiddlemanRequest) error
}

// ThreadCreator opens the private acceptance thread for a request.
type ThreadCreator interface {
	CreateAcceptanceThread(ctx context.Context, requestID int64) (*ThreadResult, error)
}

// DeadlineTracker arms the acceptance deadline for a freshly created thread.
type DeadlineTracker interface {
	Track(ctx context.Context, requestID int64, threadID, messageID string)
}

// MiddlemanRepo defines the repository contract required by MiddlemanService.
type MiddlemanRepo interface {
	CreateMiddlemanRequest(ctx context.Context, db *gorm.DB, m *domain.MiddlemanRequest) error
	GetMiddlemanRequest(ctx context.Context, db *gorm.DB, id int64) (*domain.MiddlemanRequest, error)
	ListPendingRequests(ctx context.Context, db *gorm.DB) ([]repo.RequestWithUser, error)
	ListRequests(ctx context.Context, db *gorm.DB, status string) ([]repo.RequestWithUser, error)
	UpsertUser(ctx context.Context, db *gorm.DB, u *domain.User) error
}

// MiddlemanService provides request CRUD for handlers.
type MiddlemanService struct {
	DB       *gorm.DB
	Repo     MiddlemanRepo
	Announce Announcer
	Threads  ThreadCreator
	Tracker  DeadlineTracker
	Log      zerolog.Logger
}

// NewMiddlemanService constructs a MiddlemanService.
func NewMiddlemanService(db *gorm.DB, r MiddlemanRepo, a Announcer, threads ThreadCreator, tracker DeadlineTracker, log zerolog.Logger) *MiddlemanService {
	return &MiddlemanService{DB: db, Repo: r, Announce: a, Threads: threads, Tracker: tracker, Log: log}
}

// Service-level validation errors for direct request creation.
var (
	// ErrMissingItem is returned when a direct request names no item.
	ErrMissingItem = errors.New("item is required")
	// ErrMissingParty is returned when a direct request names no counterparty.
	ErrMissingParty = errors.New("other user is required")
)

// CreateRequestInput is the payload for a direct middleman request.
type CreateRequestInput struct {
	RequesterID    string
	Username       string
	Avatar         string
	OtherUserID    string
	Item           string
	Value          string
	RobloxUsername string
	TradeID        *int64
	Proofs         []string
}

// Create inserts a direct middleman request, refreshes the requester's
// profile row, announces the request, and opens the acceptance thread. The
// request starts in waiting_confirmation so a moderator cannot accept it
// before both parties have accepted in the thread. Announcement and thread
// failures are logged and never fail the call.
func (s *MiddlemanService) Create(ctx context.Context, in CreateRequestInput) (*domain.MiddlemanRequest, error) {
	in.Item = strings.TrimSpace(in.Item)
	in.OtherUserID = strings.TrimSpace(in.OtherUserID)
	if in.Item == "" {
		return nil, ErrMissingItem
	}
	if in.OtherUserID == "" {
		return nil, ErrMissingParty
	}

	if in.Username != "" {
		u := &domain.User{DiscordID: in.RequesterID, Username: in.Username, Avatar: in.Avatar}
		if err := s.Repo.UpsertUser(ctx, s.DB, u); err != nil {
			return nil, err
		}
	}

	var proofs string
	if len(in.Proofs) > 0 {
		raw, err := json.Marshal(in.Proofs)
		if err != nil {
			return nil, err
		}
		proofs = string(raw)
	}

	m := &domain.MiddlemanRequest{
		RequesterID:      in.RequesterID,
		User1:            in.RequesterID,
		User2:            in.OtherUserID,
		Item:             in.Item,
		Value:            strings.TrimSpace(in.Value),
		TradeID:          in.TradeID,
		RobloxUsername:   strings.TrimSpace(in.RobloxUsername),
		ProofLinks:       proofs,
		User1RequestedMM: true,
		Status:           domain.StatusWaitingConfirmation,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.Repo.CreateMiddlemanRequest(ctx, s.DB, m); err != nil {
		return nil, err
	}

	if s.Announce != nil {
		if err := s.Announce.AnnounceRequest(ctx, m); err != nil && !errors.Is(err, ErrDiscordUnavailable) {
			s.Log.Warn().Err(err).Int64("request_id", m.ID).Msg("failed to announce request")
		}
	}
	s.openThread(ctx, m)
	return m, nil
}

// openThread creates the acceptance thread for a new request and arms its
// deadline. Failures keep the request; a moderator can retry through the
// create-thread endpoint.
func (s *MiddlemanService) openThread(ctx context.Context, m *domain.MiddlemanRequest) {
	if s.Threads == nil {
		return
	}
	res, err := s.Threads.CreateAcceptanceThread(ctx, m.ID)
	if err != nil {
		if errors.Is(err, ErrDiscordUnavailable) {
			s.Log.Debug().Int64("request_id", m.ID).Msg("discord unavailable, acceptance thread deferred")
		} else {
			s.Log.Warn().Err(err).Int64("request_id", m.ID).Msg("acceptance thread creation failed")
		}
		return
	}
	m.ThreadID = res.ThreadID
	if !res.Existing && s.Tracker != nil {
		// The acceptance deadline must outlive this request.
		s.Tracker.Track(context.Background(), m.ID, res.ThreadID, res.AcceptMessageID)
	}
}

// Get fetches a request by id.
func (s *MiddlemanService) Get(ctx context.Context, id int64) (*domain.MiddlemanRequest, error) {
	m, err := s.Repo.GetMiddlemanRequest(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	return m, err
}

// ListPending lists requests awaiting moderator attention.
func (s *MiddlemanService) ListPending(ctx context.Context) ([]repo.RequestWithUser, error) {
	return s.Repo.ListPendingRequests(ctx, s.DB)
}

// List lists all requests, optionally filtered by status. An unknown status
// value is rejected.
func (s *MiddlemanService) List(ctx context.Context, status string) ([]repo.RequestWithUser, error) {
	if status != "" && !domain.ValidStatus(status) {
		return nil, ErrInvalidStatus
	}
	return s.Repo.ListRequests(ctx, s.DB, status)
}
