// Trade HTTP handlers.
//
// This file exposes REST endpoints for trade listings:
//   - POST   /trades        (create)
//   - GET    /trades        (list, paginated, optional creator filter)
//   - GET    /trades/{id}   (single trade)
//   - DELETE /trades/{id}   (creator only)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zrx-market/go-market-backend/internal/domain"
	"github.com/zrx-market/go-market-backend/internal/services"
	"github.com/zrx-market/go-market-backend/internal/utils"
)

// TradeService defines trade listing operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type TradeService interface {
	// Create inserts a new active trade for the creator.
	Create(ctx context.Context, in services.CreateTradeInput) (*domain.Trade, error)
	// Get returns a single trade by id.
	Get(ctx context.Context, id int64) (*domain.Trade, error)
	// ListPage returns a page of trades and the total count.
	ListPage(ctx context.Context, creatorID string, page, perPage int) ([]domain.Trade, int64, error)
	// Delete removes a trade owned by userID.
	Delete(ctx context.Context, id int64, userID string) error
}

//
// DTOs
//

// CreateTradeRequest is the JSON payload for creating a trade listing.
type CreateTradeRequest struct {
	// Offered lists the items the creator puts up.
	Offered []domain.TradeItem `json:"offered" binding:"required"`
	// Wanted lists the items the creator asks for.
	Wanted []domain.TradeItem `json:"wanted"`
	// Value optionally estimates the trade value.
	Value string `json:"value" example:"150k"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListTradesResponse wraps a page of trades and pagination information.
type ListTradesResponse struct {
	Trades     []domain.Trade `json:"trades"`
	Pagination Pagination     `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 50
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// CreateTrade godoc
// @ID          createTrade
// @Summary     Create a trade listing
// @Description Creates an active trade listing for the current user.
// @Tags        Trades
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false  "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateTradeRequest  true  "Trade payload"
//
// @Success     201  {object}  domain.Trade
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /trades [post]
func (h *Handlers) CreateTrade(c *gin.Context) {
	var req CreateTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "invalid JSON body")
		return
	}

	t, err := h.tradeSvc.Create(c.Request.Context(), services.CreateTradeInput{
		CreatorID: userID(c),
		Offered:   req.Offered,
		Wanted:    req.Wanted,
		Value:     req.Value,
	})
	if err != nil {
		if errors.Is(err, services.ErrEmptyOffer) {
			fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusCreated, t)
}

// ListTrades godoc
// @ID          listTrades
// @Summary     List trade listings (paginated)
// @Description Returns a page of active trades, optionally narrowed to one creator.
// @Tags        Trades
// @Produce     json
//
// @Param       creator    query  string  false  "Creator Discord ID"  example(user123)
// @Param       page       query  int     false  "Page number"         minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"      minimum(1) maximum(50) default(20)
//
// @Success     200  {object}  handlers.ListTradesResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /trades [get]
func (h *Handlers) ListTrades(c *gin.Context) {
	page, pageSize := clampPagination(c)
	creator := strings.TrimSpace(c.Query("creator"))

	items, total, err := h.tradeSvc.ListPage(c.Request.Context(), creator, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListTradesResponse{
		Trades: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetTrade godoc
// @ID          getTrade
// @Summary     Get a trade listing
// @Description Returns a single trade by id.
// @Tags        Trades
// @Produce     json
//
// @Param       id  path  int  true  "Trade ID"  example(42)
//
// @Success     200  {object}  domain.Trade
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /trades/{id} [get]
func (h *Handlers) GetTrade(c *gin.Context) {
	id, okID := pathID(c, "id")
	if !okID {
		return
	}
	t, err := h.tradeSvc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrTradeNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "trade not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, t)
}

// DeleteTrade godoc
// @ID          deleteTrade
// @Summary     Delete a trade listing
// @Description Removes a trade owned by the current user.
// @Tags        Trades
// @Produce     json
//
// @Param       X-User-ID  header  string  false  "User ID (demo header)"  example(user123)
// @Param       id         path    int     true   "Trade ID"               example(42)
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /trades/{id} [delete]
func (h *Handlers) DeleteTrade(c *gin.Context) {
	id, okID := pathID(c, "id")
	if !okID {
		return
	}
	if err := h.tradeSvc.Delete(c.Request.Context(), id, userID(c)); err != nil {
		if errors.Is(err, services.ErrTradeNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "trade not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
