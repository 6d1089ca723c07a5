package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zrx-market/go-market-backend/internal/domain"
	"github.com/zrx-market/go-market-backend/internal/repo"
	"github.com/zrx-market/go-market-backend/internal/services"
)

// ---------- service stubs ----------

type stubConsentSvc struct {
	request func(context.Context, int64, string, string) (*services.ConsentResult, error)
	status  func(context.Context, int64, string) (*services.ChatStatusInfo, error)
}

func (s stubConsentSvc) RequestConsent(ctx context.Context, tradeID int64, uid, recipient string) (*services.ConsentResult, error) {
	if s.request != nil {
		return s.request(ctx, tradeID, uid, recipient)
	}
	return &services.ConsentResult{Request: &domain.MiddlemanRequest{ID: 1, Status: domain.StatusWaitingConfirmation}}, nil
}

func (s stubConsentSvc) ChatStatus(ctx context.Context, tradeID int64, uid string) (*services.ChatStatusInfo, error) {
	if s.status != nil {
		return s.status(ctx, tradeID, uid)
	}
	return &services.ChatStatusInfo{}, nil
}

type stubRequestSvc struct {
	create      func(context.Context, services.CreateRequestInput) (*domain.MiddlemanRequest, error)
	get         func(context.Context, int64) (*domain.MiddlemanRequest, error)
	listPending func(context.Context) ([]repo.RequestWithUser, error)
	list        func(context.Context, string) ([]repo.RequestWithUser, error)
}

func (s stubRequestSvc) Create(ctx context.Context, in services.CreateRequestInput) (*domain.MiddlemanRequest, error) {
	if s.create != nil {
		return s.create(ctx, in)
	}
	return &domain.MiddlemanRequest{ID: 1, Status: domain.StatusPending}, nil
}

func (s stubRequestSvc) Get(ctx context.Context, id int64) (*domain.MiddlemanRequest, error) {
	if s.get != nil {
		return s.get(ctx, id)
	}
	return &domain.MiddlemanRequest{ID: id, Status: domain.StatusPending}, nil
}

func (s stubRequestSvc) ListPending(ctx context.Context) ([]repo.RequestWithUser, error) {
	if s.listPending != nil {
		return s.listPending(ctx)
	}
	return nil, nil
}

func (s stubRequestSvc) List(ctx context.Context, status string) ([]repo.RequestWithUser, error) {
	if s.list != nil {
		return s.list(ctx, status)
	}
	return nil, nil
}

type stubThreadSvc struct {
	create func(context.Context, int64) (*services.ThreadResult, error)
}

func (s stubThreadSvc) CreateAcceptanceThread(ctx context.Context, id int64) (*services.ThreadResult, error) {
	if s.create != nil {
		return s.create(ctx, id)
	}
	return &services.ThreadResult{ThreadID: "thread-1", AcceptMessageID: "msg-1"}, nil
}

type stubStatusSvc struct {
	set func(context.Context, int64, string, string, string) (*domain.MiddlemanRequest, error)
}

func (s stubStatusSvc) SetStatus(ctx context.Context, id int64, status, actor, middleman string) (*domain.MiddlemanRequest, error) {
	if s.set != nil {
		return s.set(ctx, id, status, actor, middleman)
	}
	if middleman == "" {
		middleman = actor
	}
	return &domain.MiddlemanRequest{ID: id, Status: status, MiddlemanID: middleman}, nil
}

type trackCall struct {
	requestID int64
	threadID  string
	messageID string
}

type stubTracker struct {
	mu    sync.Mutex
	calls []trackCall
}

func (s *stubTracker) Track(_ context.Context, requestID int64, threadID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, trackCall{requestID, threadID, messageID})
}

func (s *stubTracker) tracked() []trackCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]trackCall(nil), s.calls...)
}

type stubTradeSvc struct {
	create   func(context.Context, services.CreateTradeInput) (*domain.Trade, error)
	get      func(context.Context, int64) (*domain.Trade, error)
	listPage func(context.Context, string, int, int) ([]domain.Trade, int64, error)
	del      func(context.Context, int64, string) error
}

func (s stubTradeSvc) Create(ctx context.Context, in services.CreateTradeInput) (*domain.Trade, error) {
	if s.create != nil {
		return s.create(ctx, in)
	}
	return &domain.Trade{ID: 1, CreatorID: in.CreatorID}, nil
}

func (s stubTradeSvc) Get(ctx context.Context, id int64) (*domain.Trade, error) {
	if s.get != nil {
		return s.get(ctx, id)
	}
	return &domain.Trade{ID: id}, nil
}

func (s stubTradeSvc) ListPage(ctx context.Context, creator string, page, perPage int) ([]domain.Trade, int64, error) {
	if s.listPage != nil {
		return s.listPage(ctx, creator, page, perPage)
	}
	return nil, 0, nil
}

func (s stubTradeSvc) Delete(ctx context.Context, id int64, uid string) error {
	if s.del != nil {
		return s.del(ctx, id, uid)
	}
	return nil
}

type stubReportSvc struct {
	create func(context.Context, services.CreateReportInput) (*domain.Report, error)
	list   func(context.Context, string) ([]domain.Report, error)
}

func (s stubReportSvc) Create(ctx context.Context, in services.CreateReportInput) (*domain.Report, error) {
	if s.create != nil {
		return s.create(ctx, in)
	}
	return &domain.Report{ID: 1, ReporterID: in.ReporterID}, nil
}

func (s stubReportSvc) List(ctx context.Context, status string) ([]domain.Report, error) {
	if s.list != nil {
		return s.list(ctx, status)
	}
	return nil, nil
}

// newTestHandlers wires default stubs; tests override the ones they exercise.
func newTestHandlers(consent ConsentService, mm RequestService, thread ThreadService, status StatusService, tracker ThreadTracker) *Handlers {
	if consent == nil {
		consent = stubConsentSvc{}
	}
	if mm == nil {
		mm = stubRequestSvc{}
	}
	if thread == nil {
		thread = stubThreadSvc{}
	}
	if status == nil {
		status = stubStatusSvc{}
	}
	if tracker == nil {
		tracker = &stubTracker{}
	}
	return New(consent, mm, thread, status, tracker, stubTradeSvc{}, stubReportSvc{})
}

// ---------- helpers-only tests ----------

func Test_userID_isModerator_pathID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rc := gin.CreateTestContextOnly(httptest.NewRecorder(), gin.New())
	if got := userID(rc); got != "demo-user" {
		t.Fatalf("fallback userID = %q", got)
	}
	rc.Set("userID", "u1")
	if got := userID(rc); got != "u1" {
		t.Fatalf("ctx userID = %q", got)
	}
	if isModerator(rc) {
		t.Fatal("no role set should not be moderator")
	}
	rc.Set("userRole", "moderator")
	if !isModerator(rc) {
		t.Fatal("ctx role moderator not honored")
	}

	cH, _ := gin.CreateTestContext(httptest.NewRecorder())
	reqH := httptest.NewRequest("GET", "/", nil)
	reqH.Header.Set("X-User-ID", "u-123")
	reqH.Header.Set("X-User-Role", "moderator")
	cH.Request = reqH
	if got := userID(cH); got != "u-123" {
		t.Fatalf("header fallback userID = %q", got)
	}
	if !isModerator(cH) {
		t.Fatal("header role moderator not honored")
	}
}

func TestPathID_RejectsGarbage(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := newTestHandlers(nil, nil, nil, nil, nil)
	r := gin.New()
	r.GET("/middleman/:id", h.GetRequest)

	for _, bad := range []string{"abc", "-3", "0"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/middleman/"+bad, nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("id %q -> %d", bad, w.Code)
		}
	}
}

// ---------- RequestFromChat ----------

func TestRequestFromChat(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Bad JSON -> 400
	{
		h := newTestHandlers(nil, nil, nil, nil, nil)
		r := gin.New()
		r.POST("/middleman/request-from-chat", h.RequestFromChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/middleman/request-from-chat", bytes.NewBufferString("{bad"))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("bad json -> %d", w.Code)
		}
	}

	// Counterparty consent promotes -> 200 with promoted=true; the mention
	// around otherUser is stripped before it reaches the service.
	{
		svc := stubConsentSvc{
			request: func(_ context.Context, tradeID int64, uid, recipient string) (*services.ConsentResult, error) {
				if tradeID != 42 || uid != "u2" {
					t.Fatalf("unexpected args trade=%d uid=%s", tradeID, uid)
				}
				if recipient != "u1" {
					t.Fatalf("mention not stripped, recipient=%q", recipient)
				}
				return &services.ConsentResult{
					Request:       &domain.MiddlemanRequest{ID: 7, Status: domain.StatusPending},
					Changed:       true,
					Promoted:      true,
					BothRequested: true,
				}, nil
			},
		}
		h := newTestHandlers(svc, nil, nil, nil, nil)
		r := gin.New()
		r.POST("/middleman/request-from-chat", h.RequestFromChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/middleman/request-from-chat", bytes.NewBufferString(`{"tradeId":42,"otherUser":"<@!u1>"}`))
		req.Header.Set("X-User-ID", "u2")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("consent -> %d body=%s", w.Code, w.Body.String())
		}
		var out ConsentResponse
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.RequestID != 7 || out.Status != domain.StatusPending || !out.Promoted || !out.Changed || !out.BothRequested {
			t.Fatalf("unexpected response: %#v", out)
		}
	}

	// Cooldown -> 429 with cooldown_remaining_ms
	{
		svc := stubConsentSvc{
			request: func(context.Context, int64, string, string) (*services.ConsentResult, error) {
				return nil, &services.ThrottledError{Remaining: 30 * time.Second}
			},
		}
		h := newTestHandlers(svc, nil, nil, nil, nil)
		r := gin.New()
		r.POST("/middleman/request-from-chat", h.RequestFromChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/middleman/request-from-chat", bytes.NewBufferString(`{"tradeId":42}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("cooldown -> %d", w.Code)
		}
		var out CooldownResponse
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.Code != ErrCodeCooldownActive || out.CooldownRemainingMS != 30000 {
			t.Fatalf("unexpected cooldown body: %#v", out)
		}
	}

	// Unknown trade -> 404
	{
		svc := stubConsentSvc{
			request: func(context.Context, int64, string, string) (*services.ConsentResult, error) {
				return nil, services.ErrTradeNotFound
			},
		}
		h := newTestHandlers(svc, nil, nil, nil, nil)
		r := gin.New()
		r.POST("/middleman/request-from-chat", h.RequestFromChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/middleman/request-from-chat", bytes.NewBufferString(`{"tradeId":99}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("missing trade -> %d", w.Code)
		}
	}
}

// ---------- ChatStatus ----------

func TestChatStatus_MapsCooldownToMillis(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := stubConsentSvc{
		status: func(_ context.Context, tradeID int64, uid string) (*services.ChatStatusInfo, error) {
			if tradeID != 42 || uid != "u1" {
				t.Fatalf("unexpected args trade=%d uid=%s", tradeID, uid)
			}
			return &services.ChatStatusInfo{
				Exists:            true,
				Status:            domain.StatusWaitingConfirmation,
				RequestID:         7,
				YouRequested:      true,
				CooldownRemaining: 90 * time.Second,
			}, nil
		},
	}
	h := newTestHandlers(svc, nil, nil, nil, nil)
	r := gin.New()
	r.GET("/middleman/chat-status/:tradeId", h.ChatStatus)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/middleman/chat-status/42", nil)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("chat-status -> %d body=%s", w.Code, w.Body.String())
	}
	var out ChatStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !out.Exists || out.RequestID != 7 || !out.YouRequested || out.CooldownRemainingMS != 90000 {
		t.Fatalf("unexpected response: %#v", out)
	}
}

// ---------- CreateThread ----------

func TestCreateThread(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// No moderator role -> 403
	{
		h := newTestHandlers(nil, nil, nil, nil, nil)
		r := gin.New()
		r.POST("/middleman/:id/create-thread", h.CreateThread)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/middleman/7/create-thread", nil))
		if w.Code != http.StatusForbidden {
			t.Fatalf("no role -> %d", w.Code)
		}
	}

	// Fresh thread -> 200 and deadline armed
	{
		tracker := &stubTracker{}
		h := newTestHandlers(nil, nil, stubThreadSvc{}, nil, tracker)
		r := gin.New()
		r.POST("/middleman/:id/create-thread", h.CreateThread)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/middleman/7/create-thread", nil)
		req.Header.Set("X-User-Role", "moderator")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("create thread -> %d body=%s", w.Code, w.Body.String())
		}
		calls := tracker.tracked()
		if len(calls) != 1 || calls[0] != (trackCall{7, "thread-1", "msg-1"}) {
			t.Fatalf("tracker calls = %#v", calls)
		}
	}

	// Existing thread -> 200, deadline untouched
	{
		tracker := &stubTracker{}
		svc := stubThreadSvc{
			create: func(context.Context, int64) (*services.ThreadResult, error) {
				return &services.ThreadResult{ThreadID: "thread-old", AcceptMessageID: "msg-old", Existing: true}, nil
			},
		}
		h := newTestHandlers(nil, nil, svc, nil, tracker)
		r := gin.New()
		r.POST("/middleman/:id/create-thread", h.CreateThread)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/middleman/7/create-thread", nil)
		req.Header.Set("X-User-Role", "moderator")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("existing thread -> %d", w.Code)
		}
		var out ThreadResponse
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if !out.Existing || out.ThreadID != "thread-old" {
			t.Fatalf("unexpected response: %#v", out)
		}
		if len(tracker.tracked()) != 0 {
			t.Fatal("existing thread must not re-arm the deadline")
		}
	}

	// Discord not configured -> 502
	{
		svc := stubThreadSvc{
			create: func(context.Context, int64) (*services.ThreadResult, error) {
				return nil, services.ErrDiscordUnavailable
			},
		}
		h := newTestHandlers(nil, nil, svc, nil, nil)
		r := gin.New()
		r.POST("/middleman/:id/create-thread", h.CreateThread)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/middleman/7/create-thread", nil)
		req.Header.Set("X-User-Role", "moderator")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("unconfigured -> %d", w.Code)
		}
	}
}

// ---------- UpdateStatus ----------

func TestUpdateStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Consent not met -> 409 with consent_required
	{
		svc := stubStatusSvc{
			set: func(context.Context, int64, string, string, string) (*domain.MiddlemanRequest, error) {
				return nil, services.ErrConsentNotMet
			},
		}
		h := newTestHandlers(nil, nil, nil, svc, nil)
		r := gin.New()
		r.PATCH("/middleman/:id/status", h.UpdateStatus)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/middleman/7/status", bytes.NewBufferString(`{"status":"accepted"}`))
		req.Header.Set("X-User-Role", "moderator")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusConflict {
			t.Fatalf("consent gate -> %d", w.Code)
		}
		var out ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.Code != ErrCodeConsentRequired {
			t.Fatalf("code = %q", out.Code)
		}
	}

	// Success -> 200, moderator id recorded
	{
		h := newTestHandlers(nil, nil, nil, stubStatusSvc{}, nil)
		r := gin.New()
		r.PATCH("/middleman/:id/status", h.UpdateStatus)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/middleman/7/status", bytes.NewBufferString(`{"status":"accepted"}`))
		req.Header.Set("X-User-Role", "moderator")
		req.Header.Set("X-User-ID", "mod-1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("accept -> %d body=%s", w.Code, w.Body.String())
		}
		var out domain.MiddlemanRequest
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.Status != "accepted" || out.MiddlemanID != "mod-1" {
			t.Fatalf("unexpected request: %#v", out)
		}
	}

	// Explicit middlemanId in the body is forwarded
	{
		svc := stubStatusSvc{
			set: func(_ context.Context, _ int64, _ string, actor, middleman string) (*domain.MiddlemanRequest, error) {
				if actor != "mod-1" || middleman != "mod-9" {
					t.Fatalf("unexpected assignment actor=%q middleman=%q", actor, middleman)
				}
				return &domain.MiddlemanRequest{ID: 7, Status: domain.StatusAccepted, MiddlemanID: middleman}, nil
			},
		}
		h := newTestHandlers(nil, nil, nil, svc, nil)
		r := gin.New()
		r.PATCH("/middleman/:id/status", h.UpdateStatus)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/middleman/7/status", bytes.NewBufferString(`{"status":"accepted","middlemanId":"mod-9"}`))
		req.Header.Set("X-User-Role", "moderator")
		req.Header.Set("X-User-ID", "mod-1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("assign -> %d body=%s", w.Code, w.Body.String())
		}
		var out domain.MiddlemanRequest
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.MiddlemanID != "mod-9" {
			t.Fatalf("unexpected request: %#v", out)
		}
	}

	// Invalid status -> 400
	{
		svc := stubStatusSvc{
			set: func(context.Context, int64, string, string, string) (*domain.MiddlemanRequest, error) {
				return nil, services.ErrInvalidStatus
			},
		}
		h := newTestHandlers(nil, nil, nil, svc, nil)
		r := gin.New()
		r.PATCH("/middleman/:id/status", h.UpdateStatus)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/middleman/7/status", bytes.NewBufferString(`{"status":"bogus"}`))
		req.Header.Set("X-User-Role", "moderator")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("invalid status -> %d", w.Code)
		}
	}
}

// ---------- CreateRequest / GetRequest / listings ----------

func TestCreateRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Missing item -> 400
	{
		svc := stubRequestSvc{
			create: func(context.Context, services.CreateRequestInput) (*domain.MiddlemanRequest, error) {
				return nil, services.ErrMissingItem
			},
		}
		h := newTestHandlers(nil, svc, nil, nil, nil)
		r := gin.New()
		r.POST("/middleman", h.CreateRequest)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/middleman", bytes.NewBufferString(`{"otherUser":"u2","item":"  "}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("missing item -> %d", w.Code)
		}
	}

	// Success -> 201, requester taken from header
	{
		var got services.CreateRequestInput
		svc := stubRequestSvc{
			create: func(_ context.Context, in services.CreateRequestInput) (*domain.MiddlemanRequest, error) {
				got = in
				return &domain.MiddlemanRequest{ID: 11, Status: domain.StatusPending}, nil
			},
		}
		h := newTestHandlers(nil, svc, nil, nil, nil)
		r := gin.New()
		r.POST("/middleman", h.CreateRequest)

		body := `{"otherUser":"u2","item":"Frost Dragon","value":"150k","proofs":["https://example.com/a.png"]}`
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/middleman", bytes.NewBufferString(body))
		req.Header.Set("X-User-ID", "u1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("create -> %d body=%s", w.Code, w.Body.String())
		}
		if got.RequesterID != "u1" || got.OtherUserID != "u2" || got.Item != "Frost Dragon" || len(got.Proofs) != 1 {
			t.Fatalf("unexpected input: %#v", got)
		}
	}
}

func TestGetRequest_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := stubRequestSvc{
		get: func(context.Context, int64) (*domain.MiddlemanRequest, error) {
			return nil, services.ErrRequestNotFound
		},
	}
	h := newTestHandlers(nil, svc, nil, nil, nil)
	r := gin.New()
	r.GET("/middleman/:id", h.GetRequest)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/middleman/99", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing -> %d", w.Code)
	}
}

func TestGetRequest_ParticipantsOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := stubRequestSvc{
		get: func(_ context.Context, id int64) (*domain.MiddlemanRequest, error) {
			return &domain.MiddlemanRequest{ID: id, RequesterID: "u1", User1: "u1", User2: "u2"}, nil
		},
	}
	h := newTestHandlers(nil, svc, nil, nil, nil)
	r := gin.New()
	r.GET("/middleman/:id", h.GetRequest)

	// A stranger is rejected.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/middleman/7", nil)
	req.Header.Set("X-User-ID", "u9")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("stranger -> %d", w.Code)
	}

	// Parties and moderators may read.
	for _, reader := range []struct{ uid, role string }{
		{uid: "u2"},
		{uid: "u9", role: "moderator"},
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/middleman/7", nil)
		req.Header.Set("X-User-ID", reader.uid)
		if reader.role != "" {
			req.Header.Set("X-User-Role", reader.role)
		}
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("allowed reader %+v -> %d", reader, w.Code)
		}
	}
}

func TestListRequests_ModeratorGateAndFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Pending queue requires the role
	{
		h := newTestHandlers(nil, nil, nil, nil, nil)
		r := gin.New()
		r.GET("/middleman/pending", h.ListPendingRequests)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/middleman/pending", nil))
		if w.Code != http.StatusForbidden {
			t.Fatalf("no role -> %d", w.Code)
		}
	}

	// Status filter is forwarded
	{
		var gotStatus string
		svc := stubRequestSvc{
			list: func(_ context.Context, status string) ([]repo.RequestWithUser, error) {
				gotStatus = status
				return []repo.RequestWithUser{{MiddlemanRequest: domain.MiddlemanRequest{ID: 1}, Username: "alice"}}, nil
			},
		}
		h := newTestHandlers(nil, svc, nil, nil, nil)
		r := gin.New()
		r.GET("/middleman/all", h.ListAllRequests)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/middleman/all?status=accepted", nil)
		req.Header.Set("X-User-Role", "moderator")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("list all -> %d body=%s", w.Code, w.Body.String())
		}
		if gotStatus != "accepted" {
			t.Fatalf("status filter = %q", gotStatus)
		}
	}

	// Unknown status filter -> 400
	{
		svc := stubRequestSvc{
			list: func(context.Context, string) ([]repo.RequestWithUser, error) {
				return nil, services.ErrInvalidStatus
			},
		}
		h := newTestHandlers(nil, svc, nil, nil, nil)
		r := gin.New()
		r.GET("/middleman/all", h.ListAllRequests)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/middleman/all?status=bogus", nil)
		req.Header.Set("X-User-Role", "moderator")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("bogus filter -> %d", w.Code)
		}
	}
}
