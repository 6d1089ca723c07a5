// Package domain defines the persistence models for the trading marketplace:
// users, trades, middleman escrow requests, reports, and the moderator audit
// log. These types are mapped with GORM and form the core data layer of the
// backend.
package domain

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Middleman request statuses. A request moves from waiting_confirmation
// (parties still consenting) to pending (visible to moderators) to a terminal
// accepted/declined/completed state. The store itself does not forbid invalid
// states; every status-changing operation re-checks the consent invariant.
const (
	StatusPending             = "pending"
	StatusWaitingConfirmation = "waiting_confirmation"
	StatusAccepted            = "accepted"
	StatusDeclined            = "declined"
	StatusCompleted           = "completed"
)

// ValidStatus reports whether s is one of the five recognized middleman
// request statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusWaitingConfirmation, StatusAccepted, StatusDeclined, StatusCompleted:
		return true
	}
	return false
}

// TerminalStatus reports whether s is a state from which the acceptance
// workflow no longer runs (timers for such requests are released).
func TerminalStatus(s string) bool {
	switch s {
	case StatusAccepted, StatusDeclined, StatusCompleted:
		return true
	}
	return false
}

// User is a marketplace account keyed by its Discord snowflake.
type User struct {
	DiscordID string         `json:"discordId" gorm:"type:varchar(32);primaryKey"`
	Username  string         `json:"username"  gorm:"type:varchar(128);not null"`
	Avatar    string         `json:"avatar"    gorm:"type:varchar(255)"`
	Verified  bool           `json:"verified"  gorm:"not null;default:false"`
	Roles     string         `json:"-"         gorm:"type:text"` // JSON array of Discord role ids
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"         gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Trade is a listing offering one set of items for another. Offered and
// Wanted are JSON-serialized item lists; the middleman workflow only reads
// them to compose a human-readable summary.
type Trade struct {
	ID        int64          `json:"id"        gorm:"primaryKey;autoIncrement"`
	CreatorID string         `json:"creatorId" gorm:"type:varchar(32);not null;index"`
	Offered   string         `json:"offered"   gorm:"type:text;not null"`
	Wanted    string         `json:"wanted"    gorm:"type:text;not null"`
	Value     string         `json:"value"     gorm:"type:varchar(64)"`
	Status    string         `json:"status"    gorm:"type:varchar(32);not null;default:'active'"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"         gorm:"index"`
}

// TableName returns the database table name for Trade.
func (Trade) TableName() string { return "trades" }

// TradeItem is one entry of a trade's offered or wanted list.
type TradeItem struct {
	Name string `json:"name"`
}

// Items decodes a JSON-serialized item list, returning nil on malformed input.
func Items(raw string) []TradeItem {
	if raw == "" {
		return nil
	}
	var items []TradeItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}

// TradeMessage is a chat message exchanged between two parties about a trade.
// The consent gate uses these rows to resolve the counterparty when the
// requester is the trade creator.
type TradeMessage struct {
	ID          int64     `json:"id"          gorm:"primaryKey;autoIncrement"`
	TradeID     int64     `json:"tradeId"     gorm:"not null;index"`
	SenderID    string    `json:"senderId"    gorm:"type:varchar(32);not null;index"`
	RecipientID string    `json:"recipientId" gorm:"type:varchar(32);not null;index"`
	Content     string    `json:"content"     gorm:"type:text;not null"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for TradeMessage.
func (TradeMessage) TableName() string { return "trade_messages" }

// MiddlemanRequest is one escrow-brokering attempt between two trading
// parties. It carries two independent consent dimensions:
//
//   - User1RequestedMM / User2RequestedMM: set through the chat-initiated
//     flow; both must be true before the request becomes visible to
//     moderators (status pending).
//   - User1Accepted / User2Accepted: set when each party reacts to the
//     acceptance prompt in the Discord thread; both must be true before a
//     moderator may move the request from waiting_confirmation to accepted.
//
// ThreadID is set at most once per request; the linkage survives crashes
// because it is persisted before any member is added to the thread.
type MiddlemanRequest struct {
	ID          int64  `json:"id"          gorm:"primaryKey;autoIncrement"`
	RequesterID string `json:"requesterId" gorm:"type:varchar(32);not null;index:idx_mm_requester"`
	User1       string `json:"user1"       gorm:"type:varchar(32);not null"`
	User2       string `json:"user2"       gorm:"type:varchar(32);not null"`
	MiddlemanID string `json:"middlemanId" gorm:"type:varchar(32)"`

	Item           string `json:"item"           gorm:"type:text;not null"`
	Value          string `json:"value"          gorm:"type:varchar(64)"`
	TradeID        *int64 `json:"tradeId"        gorm:"index"`
	RobloxUsername string `json:"robloxUsername" gorm:"type:varchar(64)"`
	ProofLinks     string `json:"proofLinks"     gorm:"type:text"` // JSON array of URLs

	User1Accepted    bool `json:"user1Accepted"    gorm:"not null;default:false"`
	User2Accepted    bool `json:"user2Accepted"    gorm:"not null;default:false"`
	User1RequestedMM bool `json:"user1RequestedMM" gorm:"not null;default:false"`
	User2RequestedMM bool `json:"user2RequestedMM" gorm:"not null;default:false"`

	Status          string `json:"status"          gorm:"type:varchar(32);not null;default:'pending';index:idx_mm_status"`
	ThreadID        string `json:"threadId"        gorm:"type:varchar(32)"`
	AcceptMessageID string `json:"acceptMessageId" gorm:"type:varchar(32)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for MiddlemanRequest.
func (MiddlemanRequest) TableName() string { return "middleman_requests" }

// BothRequested reports whether both parties have asked for a middleman
// through the chat-initiated flow.
func (m *MiddlemanRequest) BothRequested() bool {
	return m.User1RequestedMM && m.User2RequestedMM
}

// BothAccepted reports whether both parties have accepted the trade in the
// Discord acceptance thread.
func (m *MiddlemanRequest) BothAccepted() bool {
	return m.User1Accepted && m.User2Accepted
}

// Proofs decodes the JSON-serialized proof image URL list, returning nil on
// malformed input.
func (m *MiddlemanRequest) Proofs() []string {
	if m.ProofLinks == "" {
		return nil
	}
	var links []string
	if err := json.Unmarshal([]byte(m.ProofLinks), &links); err != nil {
		return nil
	}
	return links
}

// MiddlemanCooldown throttles how often a single user may initiate a new
// consent request. It is a passive record: the remaining wait is computed
// from LastRequestAt at request time, never from an active timer.
type MiddlemanCooldown struct {
	UserID        string    `json:"userId"        gorm:"type:varchar(32);primaryKey"`
	LastRequestAt time.Time `json:"lastRequestAt" gorm:"not null"`
}

// TableName returns the database table name for MiddlemanCooldown.
func (MiddlemanCooldown) TableName() string { return "middleman_cooldowns" }

// AuditLog is an immutable record of a moderator action. Details holds a
// JSON-serialized payload describing the mutation.
type AuditLog struct {
	ID        int64     `json:"id"       gorm:"primaryKey;autoIncrement"`
	ActorID   string    `json:"actorId"  gorm:"type:varchar(32);not null;index"`
	Action    string    `json:"action"   gorm:"type:varchar(64);not null"`
	TargetID  string    `json:"targetId" gorm:"type:varchar(64)"`
	Details   string    `json:"details"  gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for AuditLog.
func (AuditLog) TableName() string { return "audit_logs" }

// Report is a scam report filed against another user. Evidence is a
// JSON-serialized list of URLs.
type Report struct {
	ID               int64     `json:"id"               gorm:"primaryKey;autoIncrement"`
	ReporterID       string    `json:"reporterId"       gorm:"type:varchar(32);not null;index"`
	AccusedDiscordID string    `json:"accusedDiscordId" gorm:"type:varchar(32);not null;index"`
	Details          string    `json:"details"          gorm:"type:text;not null"`
	EvidenceLinks    string    `json:"evidenceLinks"    gorm:"type:text"`
	Status           string    `json:"status"           gorm:"type:varchar(32);not null;default:'pending'"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for Report.
func (Report) TableName() string { return "reports" }
