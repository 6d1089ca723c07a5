// Package discord is a minimal client for the Discord REST and Gateway APIs,
// covering exactly the surface the middleman workflow needs: posting
// messages with embeds, deriving private threads, managing thread members
// and reactions, and receiving reaction events over the gateway.
//
// This file defines the wire types (API v10 JSON shapes).
package discord

import "time"

// Channel types used by the workflow.
const (
	// ChannelTypePrivateThread is a private thread derived from a message.
	ChannelTypePrivateThread = 12
)

// AutoArchiveMinutes is the thread auto-archive duration requested for
// acceptance threads.
const AutoArchiveMinutes = 60

// Message is a Discord message as returned by the API (subset).
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// Channel is a Discord channel or thread as returned by the API (subset).
type Channel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    int    `json:"type"`
	GuildID string `json:"guild_id"`
}

// MessagePayload is the request body for creating a message.
type MessagePayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// ThreadPayload is the request body for starting a thread from a message.
type ThreadPayload struct {
	Name                string `json:"name"`
	Type                int    `json:"type"`
	AutoArchiveDuration int    `json:"auto_archive_duration"`
}

// Embed is a rich message embed (subset of the API shape).
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField is one titled value inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedImage references an image shown inside an embed.
type EmbedImage struct {
	URL string `json:"url"`
}

// EmbedFooter is the small text line at the bottom of an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// Timestamp formats t the way embed timestamps expect.
func Timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// ReactionEvent is a MESSAGE_REACTION_ADD gateway dispatch (subset).
type ReactionEvent struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Emoji     Emoji  `json:"emoji"`
}

// Emoji identifies the reaction emoji; Name carries the literal character
// for unicode emoji.
type Emoji struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
