// Middleman HTTP handlers.
//
// This file exposes REST endpoints for the middleman escrow workflow:
//   - GET    /middleman/pending                (moderator queue)
//   - GET    /middleman/all                    (moderator, optional status filter)
//   - GET    /middleman/{id}                   (single request)
//   - POST   /middleman                        (direct request)
//   - POST   /middleman/{id}/create-thread     (moderator, acceptance thread)
//   - PATCH  /middleman/{id}/status            (moderator, status transition)
//   - POST   /middleman/request-from-chat      (mutual-consent flow)
//   - GET    /middleman/chat-status/{tradeId}  (consent state for a trade)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zrx-market/go-market-backend/internal/discord"
	"github.com/zrx-market/go-market-backend/internal/domain"
	"github.com/zrx-market/go-market-backend/internal/repo"
	"github.com/zrx-market/go-market-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// ConsentService defines the chat-initiated consent operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ConsentService interface {
	// RequestConsent records that userID wants a middleman for the trade,
	// naming recipientID as the counterpart when the caller supplied one.
	RequestConsent(ctx context.Context, tradeID int64, userID, recipientID string) (*services.ConsentResult, error)
	// ChatStatus reports the consent state of the trade as seen by userID.
	ChatStatus(ctx context.Context, tradeID int64, userID string) (*services.ChatStatusInfo, error)
}

// RequestService defines middleman request lifecycle operations.
type RequestService interface {
	// Create inserts a direct middleman request and announces it.
	Create(ctx context.Context, in services.CreateRequestInput) (*domain.MiddlemanRequest, error)
	// Get returns a single request by id.
	Get(ctx context.Context, id int64) (*domain.MiddlemanRequest, error)
	// ListPending returns the moderator queue with requester profiles.
	ListPending(ctx context.Context) ([]repo.RequestWithUser, error)
	// List returns requests, optionally filtered by status.
	List(ctx context.Context, status string) ([]repo.RequestWithUser, error)
}

// ThreadService defines the acceptance-thread orchestration entry point.
type ThreadService interface {
	// CreateAcceptanceThread creates or returns the request's private thread.
	CreateAcceptanceThread(ctx context.Context, requestID int64) (*services.ThreadResult, error)
}

// StatusService defines moderator-driven status transitions.
type StatusService interface {
	// SetStatus moves the request to the given status on behalf of actorID,
	// assigning middlemanID when accepting (the actor when empty).
	SetStatus(ctx context.Context, id int64, status, actorID, middlemanID string) (*domain.MiddlemanRequest, error)
}

// ThreadTracker arms the acceptance deadline for a freshly created thread.
type ThreadTracker interface {
	Track(ctx context.Context, requestID int64, threadID, messageID string)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for middleman requests, trades, and reports.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	consentSvc ConsentService
	mmSvc      RequestService
	threadSvc  ThreadService
	statusSvc  StatusService
	tracker    ThreadTracker
	tradeSvc   TradeService
	reportSvc  ReportService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(consentSvc ConsentService, mmSvc RequestService, threadSvc ThreadService, statusSvc StatusService, tracker ThreadTracker, tradeSvc TradeService, reportSvc ReportService) *Handlers {
	return &Handlers{
		consentSvc: consentSvc,
		mmSvc:      mmSvc,
		threadSvc:  threadSvc,
		statusSvc:  statusSvc,
		tracker:    tracker,
		tradeSvc:   tradeSvc,
		reportSvc:  reportSvc,
	}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// isModerator reports whether the caller carries the moderator role, set by
// upstream middleware under "userRole" or via the "X-User-Role" header.
func isModerator(c *gin.Context) bool {
	if v, ok := c.Get("userRole"); ok {
		if s, ok := v.(string); ok {
			return s == "moderator"
		}
	}
	if c != nil && c.Request != nil {
		return strings.TrimSpace(c.GetHeader("X-User-Role")) == "moderator"
	}
	return false
}

// requireModerator aborts with 403 unless the caller is a moderator.
func requireModerator(c *gin.Context) bool {
	if isModerator(c) {
		return true
	}
	fail(c, http.StatusForbidden, ErrCodeForbidden, "moderator role required")
	return false
}

// pathID parses a positive int64 path parameter, aborting with 400 on failure.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

//
// DTOs
//

// CreateMiddlemanRequestBody is the JSON payload for a direct middleman request.
type CreateMiddlemanRequestBody struct {
	// OtherUser is the Discord id of the trade counterparty.
	OtherUser string `json:"otherUser" binding:"required" example:"447812398121484289"`
	// Item describes what is being traded.
	Item string `json:"item" binding:"required" example:"Frost Dragon for 2x Shadow Dragon"`
	// Value optionally estimates the trade value.
	Value string `json:"value" example:"150k"`
	// Username optionally refreshes the requester's profile.
	Username string `json:"username" example:"alice"`
	// Avatar optionally refreshes the requester's avatar hash.
	Avatar string `json:"avatar" example:"a_1269e74af4df7417b13759eae50c83bc"`
	// RobloxUsername is the requester's in-game name.
	RobloxUsername string `json:"robloxUsername" example:"alice_rblx"`
	// TradeID optionally links the request to a trade listing.
	TradeID *int64 `json:"tradeId" example:"42"`
	// Proofs lists evidence URLs (screenshots, recordings).
	Proofs []string `json:"proofs"`
}

// UpdateStatusRequest is the JSON payload for a status transition.
type UpdateStatusRequest struct {
	// Status is the target request status.
	Status string `json:"status" binding:"required" example:"accepted"`
	// MiddlemanID optionally names the middleman to assign when accepting;
	// defaults to the acting moderator.
	MiddlemanID string `json:"middlemanId" example:"mod123"`
}

// RequestFromChatBody is the JSON payload for the mutual-consent flow.
type RequestFromChatBody struct {
	// TradeID identifies the trade the caller wants a middleman for.
	TradeID int64 `json:"tradeId" binding:"required" example:"42"`
	// OtherUser optionally names the chat peer; mention decorations such as
	// <@...> are accepted and stripped.
	OtherUser string `json:"otherUser" example:"<@447812398121484289>"`
}

// ConsentResponse reports the consent state after a request-from-chat call.
type ConsentResponse struct {
	RequestID int64  `json:"requestId"`
	Status    string `json:"status"`
	// Changed is true when this call recorded a genuinely new consent.
	Changed bool `json:"changed"`
	// Promoted is true when this call made the request visible to moderators.
	Promoted bool `json:"promoted"`
	// BothRequested is true when both parties have now asked.
	BothRequested bool `json:"bothRequested"`
}

// CooldownResponse is the 429 envelope for consent calls inside the cooldown
// window. It extends the standard error envelope with the remaining wait.
type CooldownResponse struct {
	ErrorResponse
	// CooldownRemainingMS is the remaining wait in milliseconds.
	CooldownRemainingMS int64 `json:"cooldown_remaining_ms" example:"30000"`
}

// ChatStatusResponse reports the consent state of a trade for the caller.
type ChatStatusResponse struct {
	Exists         bool   `json:"exists"`
	Status         string `json:"status,omitempty"`
	RequestID      int64  `json:"requestId,omitempty"`
	YouRequested   bool   `json:"youRequested"`
	OtherRequested bool   `json:"otherRequested"`
	// CooldownRemainingMS is the caller's remaining initiation wait.
	CooldownRemainingMS int64 `json:"cooldown_remaining_ms"`
}

// ThreadResponse describes the acceptance thread for a request.
type ThreadResponse struct {
	ThreadID        string `json:"threadId"`
	AcceptMessageID string `json:"acceptMessageId"`
	// Existing is true when the thread predates this call.
	Existing bool `json:"existing"`
}

//
// Handlers
//

// ListPendingRequests godoc
// @ID          listPendingMiddlemanRequests
// @Summary     List pending middleman requests
// @Description Returns the moderator queue of pending requests with requester profiles.
// @Tags        Middleman
// @Produce     json
//
// @Param       X-User-Role  header  string  true  "Caller role"  example(moderator)
//
// @Success     200  {array}   repo.RequestWithUser
// @Failure     403  {object}  handlers.ErrorResponse  "Forbidden"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /middleman/pending [get]
func (h *Handlers) ListPendingRequests(c *gin.Context) {
	if !requireModerator(c) {
		return
	}
	items, err := h.mmSvc.ListPending(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, items)
}

// ListAllRequests godoc
// @ID          listAllMiddlemanRequests
// @Summary     List middleman requests
// @Description Returns all requests, optionally filtered by status.
// @Tags        Middleman
// @Produce     json
//
// @Param       X-User-Role  header  string  true   "Caller role"    example(moderator)
// @Param       status       query   string  false  "Status filter"  Enums(pending, waiting_confirmation, accepted, declined, completed)
//
// @Success     200  {array}   repo.RequestWithUser
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Forbidden"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /middleman/all [get]
func (h *Handlers) ListAllRequests(c *gin.Context) {
	if !requireModerator(c) {
		return
	}
	items, err := h.mmSvc.List(c.Request.Context(), strings.TrimSpace(c.Query("status")))
	if err != nil {
		if errors.Is(err, services.ErrInvalidStatus) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, items)
}

// GetRequest godoc
// @ID          getMiddlemanRequest
// @Summary     Get a middleman request
// @Description Returns a single middleman request by id. Only moderators and
// @Description the involved parties may read it.
// @Tags        Middleman
// @Produce     json
//
// @Param       X-User-ID  header  string  false  "User ID (demo header)"  example(user123)
// @Param       id         path    int     true   "Request ID"             example(7)
//
// @Success     200  {object}  domain.MiddlemanRequest
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Forbidden"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /middleman/{id} [get]
func (h *Handlers) GetRequest(c *gin.Context) {
	id, okID := pathID(c, "id")
	if !okID {
		return
	}
	m, err := h.mmSvc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrRequestNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "middleman request not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if uid := userID(c); !isModerator(c) && uid != m.RequesterID && uid != m.User1 && uid != m.User2 {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not a participant of this request")
		return
	}
	ok(c, http.StatusOK, m)
}

// CreateRequest godoc
// @ID          createMiddlemanRequest
// @Summary     Create a middleman request
// @Description Creates a direct middleman request awaiting in-thread
// @Description confirmation, announces it, and opens the acceptance thread.
// @Tags        Middleman
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false  "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateMiddlemanRequestBody  true  "Request payload"
//
// @Success     201  {object}  domain.MiddlemanRequest
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /middleman [post]
func (h *Handlers) CreateRequest(c *gin.Context) {
	var req CreateMiddlemanRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "invalid JSON body")
		return
	}

	m, err := h.mmSvc.Create(c.Request.Context(), services.CreateRequestInput{
		RequesterID:    userID(c),
		Username:       req.Username,
		Avatar:         req.Avatar,
		OtherUserID:    req.OtherUser,
		Item:           req.Item,
		Value:          req.Value,
		RobloxUsername: req.RobloxUsername,
		TradeID:        req.TradeID,
		Proofs:         req.Proofs,
	})
	if err != nil {
		if errors.Is(err, services.ErrMissingItem) || errors.Is(err, services.ErrMissingParty) {
			fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusCreated, m)
}

// CreateThread godoc
// @ID          createAcceptanceThread
// @Summary     Create the acceptance thread
// @Description Creates the private Discord acceptance thread for a request and
// @Description arms the acceptance deadline. Returns the existing thread when
// @Description one was already created.
// @Tags        Middleman
// @Produce     json
//
// @Param       X-User-Role  header  string  true  "Caller role"  example(moderator)
// @Param       id           path    int     true  "Request ID"   example(7)
//
// @Success     200  {object}  handlers.ThreadResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Forbidden"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     502  {object}  handlers.ErrorResponse  "Discord unavailable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /middleman/{id}/create-thread [post]
func (h *Handlers) CreateThread(c *gin.Context) {
	if !requireModerator(c) {
		return
	}
	id, okID := pathID(c, "id")
	if !okID {
		return
	}

	res, err := h.threadSvc.CreateAcceptanceThread(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRequestNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "middleman request not found")
		case errors.Is(err, services.ErrDiscordUnavailable):
			fail(c, http.StatusBadGateway, ErrCodeDiscordUnavailable, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	if !res.Existing {
		// The acceptance deadline must outlive this request.
		h.tracker.Track(context.Background(), id, res.ThreadID, res.AcceptMessageID)
	}

	ok(c, http.StatusOK, ThreadResponse{
		ThreadID:        res.ThreadID,
		AcceptMessageID: res.AcceptMessageID,
		Existing:        res.Existing,
	})
}

// UpdateStatus godoc
// @ID          updateMiddlemanStatus
// @Summary     Update request status
// @Description Moves a middleman request to a new status. Accepting a
// @Description chat-initiated request requires both parties to have accepted
// @Description in the thread first.
// @Tags        Middleman
// @Accept      json
// @Produce     json
//
// @Param       X-User-Role  header  string  true  "Caller role"  example(moderator)
// @Param       X-User-ID    header  string  false "Moderator ID" example(mod123)
// @Param       id           path    int     true  "Request ID"   example(7)
// @Param       body         body    handlers.UpdateStatusRequest true "Target status"
//
// @Success     200  {object}  domain.MiddlemanRequest
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Forbidden"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Consent required"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /middleman/{id}/status [patch]
func (h *Handlers) UpdateStatus(c *gin.Context) {
	if !requireModerator(c) {
		return
	}
	id, okID := pathID(c, "id")
	if !okID {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "status required")
		return
	}

	m, err := h.statusSvc.SetStatus(c.Request.Context(), id, req.Status, userID(c), strings.TrimSpace(req.MiddlemanID))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidStatus):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrRequestNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "middleman request not found")
		case errors.Is(err, services.ErrConsentNotMet):
			fail(c, http.StatusConflict, ErrCodeConsentRequired, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, m)
}

// RequestFromChat godoc
// @ID          requestMiddlemanFromChat
// @Summary     Request a middleman from trade chat
// @Description Records the caller's consent to involve a middleman in the
// @Description trade. The first party's call creates the request; the
// @Description counterparty's call promotes it to the moderator queue.
// @Tags        Middleman
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false  "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.RequestFromChatBody  true  "Trade reference"
//
// @Success     200  {object}  handlers.ConsentResponse
// @Failure     400  {object}  handlers.ErrorResponse    "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse    "Trade not found"
// @Failure     429  {object}  handlers.CooldownResponse "Cooldown active"
// @Failure     500  {object}  handlers.ErrorResponse    "Internal error"
// @Router      /middleman/request-from-chat [post]
func (h *Handlers) RequestFromChat(c *gin.Context) {
	var req RequestFromChatBody
	if err := c.ShouldBindJSON(&req); err != nil || req.TradeID <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "tradeId required")
		return
	}

	res, err := h.consentSvc.RequestConsent(c.Request.Context(), req.TradeID, userID(c), discord.StripMention(req.OtherUser))
	if err != nil {
		if te, throttled := services.Throttled(err); throttled {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, CooldownResponse{
				ErrorResponse: ErrorResponse{
					RequestID: c.Writer.Header().Get("X-Request-ID"),
					Code:      ErrCodeCooldownActive,
					Message:   te.Error(),
				},
				CooldownRemainingMS: te.Remaining.Milliseconds(),
			})
			return
		}
		switch {
		case errors.Is(err, services.ErrTradeNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "trade not found")
		case errors.Is(err, services.ErrCounterpartyUnknown):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, ConsentResponse{
		RequestID:     res.Request.ID,
		Status:        res.Request.Status,
		Changed:       res.Changed,
		Promoted:      res.Promoted,
		BothRequested: res.BothRequested,
	})
}

// ChatStatus godoc
// @ID          middlemanChatStatus
// @Summary     Consent state for a trade
// @Description Reports whether a middleman request exists for the trade, which
// @Description parties have asked for one, and the caller's remaining cooldown.
// @Tags        Middleman
// @Produce     json
//
// @Param       X-User-ID  header  string  false  "User ID (demo header)"  example(user123)
// @Param       tradeId    path    int     true   "Trade ID"               example(42)
//
// @Success     200  {object}  handlers.ChatStatusResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /middleman/chat-status/{tradeId} [get]
func (h *Handlers) ChatStatus(c *gin.Context) {
	tradeID, okID := pathID(c, "tradeId")
	if !okID {
		return
	}

	info, err := h.consentSvc.ChatStatus(c.Request.Context(), tradeID, userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	ok(c, http.StatusOK, ChatStatusResponse{
		Exists:              info.Exists,
		Status:              info.Status,
		RequestID:           info.RequestID,
		YouRequested:        info.YouRequested,
		OtherRequested:      info.OtherRequested,
		CooldownRemainingMS: info.CooldownRemaining.Milliseconds(),
	})
}
