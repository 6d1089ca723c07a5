// Package services – TradeService
//
// This file implements trade listing operations. Trades are the anchor for
// the chat-initiated consent workflow; the service itself stays thin and
// leaves consent logic to ConsentService.
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

// ErrEmptyOffer is returned when a trade offers nothing.
var ErrEmptyOffer = errors.New("trade must offer at least one item")

// TradeRepo defines the repository contract required by TradeService.
type TradeRepo interface {
	CreateTrade(ctx context.Context, db *gorm.DB, t *domain.Trade) error
	GetTrade(ctx context.Context, db *gorm.DB, id int64) (*domain.Trade, error)
	ListTrades(ctx context.Context, db *gorm.DB, creatorID string, offset, limit int) ([]domain.Trade, error)
	CountTrades(ctx context.Context, db *gorm.DB, creatorID string) (int64, error)
	DeleteTrade(ctx context.Context, db *gorm.DB, id int64) error
}

// TradeService provides trade listing CRUD.
type TradeService struct {
	DB   *gorm.DB
	Repo TradeRepo

	// PageSize caps list page lengths.
	PageSize int
}

// NewTradeService constructs a TradeService with a default page size.
func NewTradeService(db *gorm.DB, r TradeRepo) *TradeService {
	return &TradeService{DB: db, Repo: r, PageSize: 50}
}

// CreateTradeInput is the payload for a new trade listing.
type CreateTradeInput struct {
	CreatorID string
	Offered   []domain.TradeItem
	Wanted    []domain.TradeItem
	Value     string
}

// Create inserts a new active trade listing.
func (s *TradeService) Create(ctx context.Context, in CreateTradeInput) (*domain.Trade, error) {
	if len(in.Offered) == 0 {
		return nil, ErrEmptyOffer
	}
	offered, err := json.Marshal(in.Offered)
	if err != nil {
		return nil, err
	}
	wanted := []byte("[]")
	if len(in.Wanted) > 0 {
		if wanted, err = json.Marshal(in.Wanted); err != nil {
			return nil, err
		}
	}
	t := &domain.Trade{
		CreatorID: in.CreatorID,
		Offered:   string(offered),
		Wanted:    string(wanted),
		Value:     strings.TrimSpace(in.Value),
		Status:    "active",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Repo.CreateTrade(ctx, s.DB, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get fetches a trade by id.
func (s *TradeService) Get(ctx context.Context, id int64) (*domain.Trade, error) {
	t, err := s.Repo.GetTrade(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTradeNotFound
	}
	return t, err
}

// ListPage returns one page of trades plus the total count; creatorID narrows
// the listing to one user when non-empty.
func (s *TradeService) ListPage(ctx context.Context, creatorID string, page, perPage int) ([]domain.Trade, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > s.PageSize {
		perPage = s.PageSize
	}
	total, err := s.Repo.CountTrades(ctx, s.DB, creatorID)
	if err != nil {
		return nil, 0, err
	}
	items, err := s.Repo.ListTrades(ctx, s.DB, creatorID, (page-1)*perPage, perPage)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Delete removes a trade owned by userID. Only the creator may delete.
func (s *TradeService) Delete(ctx context.Context, id int64, userID string) error {
	t, err := s.Repo.GetTrade(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTradeNotFound
	}
	if err != nil {
		return err
	}
	if t.CreatorID != userID {
		return ErrTradeNotFound
	}
	if err := s.Repo.DeleteTrade(ctx, s.DB, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTradeNotFound
		}
		return err
	}
	return nil
}
