package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/zrx-market/go-market-backend/internal/domain"
)

// ----- Fake repo -----

type fakeTradeRepo struct {
	created *domain.Trade
	trade   *domain.Trade

	listOffset, listLimit int
	total                 int64

	deletedID int64
	deleteErr error
}

func (r *fakeTradeRepo) CreateTrade(ctx context.Context, db *gorm.DB, t *domain.Trade) error {
	t.ID = 42
	r.created = t
	return nil
}

func (r *fakeTradeRepo) GetTrade(ctx context.Context, db *gorm.DB, id int64) (*domain.Trade, error) {
	if r.trade == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return r.trade, nil
}

func (r *fakeTradeRepo) ListTrades(ctx context.Context, db *gorm.DB, creatorID string, offset, limit int) ([]domain.Trade, error) {
	r.listOffset, r.listLimit = offset, limit
	return []domain.Trade{{ID: 1}, {ID: 2}}, nil
}

func (r *fakeTradeRepo) CountTrades(ctx context.Context, db *gorm.DB, creatorID string) (int64, error) {
	return r.total, nil
}

func (r *fakeTradeRepo) DeleteTrade(ctx context.Context, db *gorm.DB, id int64) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.deletedID = id
	return nil
}

// ----- Tests -----

func TestTradeCreate_SerializesItems(t *testing.T) {
	r := &fakeTradeRepo{}
	s := NewTradeService(nil, r)

	tr, err := s.Create(context.Background(), CreateTradeInput{
		CreatorID: "u1",
		Offered:   []domain.TradeItem{{Name: "Frost Dragon"}},
		Value:     " 50k ",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if tr.ID != 42 || tr.Status != "active" || tr.Value != "50k" {
		t.Fatalf("trade unexpected: %+v", tr)
	}
	if got := domain.Items(tr.Offered); len(got) != 1 || got[0].Name != "Frost Dragon" {
		t.Fatalf("offered round trip failed: %q", tr.Offered)
	}
	if tr.Wanted != "[]" {
		t.Fatalf("empty wanted should serialize as []: %q", tr.Wanted)
	}
}

func TestTradeCreate_EmptyOffer(t *testing.T) {
	s := NewTradeService(nil, &fakeTradeRepo{})
	if _, err := s.Create(context.Background(), CreateTradeInput{CreatorID: "u1"}); !errors.Is(err, ErrEmptyOffer) {
		t.Fatalf("want ErrEmptyOffer, got %v", err)
	}
}

func TestTradeListPage_ClampsArguments(t *testing.T) {
	r := &fakeTradeRepo{total: 120}
	s := NewTradeService(nil, r)

	items, total, err := s.ListPage(context.Background(), "", 0, 500)
	if err != nil {
		t.Fatalf("ListPage error: %v", err)
	}
	if total != 120 || len(items) != 2 {
		t.Fatalf("result unexpected: total=%d items=%d", total, len(items))
	}
	if r.listOffset != 0 || r.listLimit != s.PageSize {
		t.Fatalf("page args not clamped: offset=%d limit=%d", r.listOffset, r.listLimit)
	}

	if _, _, err := s.ListPage(context.Background(), "", 3, 10); err != nil {
		t.Fatalf("ListPage error: %v", err)
	}
	if r.listOffset != 20 || r.listLimit != 10 {
		t.Fatalf("offset math wrong: offset=%d limit=%d", r.listOffset, r.listLimit)
	}
}

func TestTradeDelete_OwnershipEnforced(t *testing.T) {
	r := &fakeTradeRepo{trade: &domain.Trade{ID: 42, CreatorID: "owner"}}
	s := NewTradeService(nil, r)

	if err := s.Delete(context.Background(), 42, "intruder"); !errors.Is(err, ErrTradeNotFound) {
		t.Fatalf("foreign delete should read as not found, got %v", err)
	}
	if err := s.Delete(context.Background(), 42, "owner"); err != nil {
		t.Fatalf("owner delete error: %v", err)
	}
	if r.deletedID != 42 {
		t.Fatalf("delete not forwarded: %d", r.deletedID)
	}
}

func TestTradeGet_NotFound(t *testing.T) {
	s := NewTradeService(nil, &fakeTradeRepo{})
	if _, err := s.Get(context.Background(), 1); !errors.Is(err, ErrTradeNotFound) {
		t.Fatalf("want ErrTradeNotFound, got %v", err)
	}
}
