package core

import (
	"encoding/json"
	"time"
)

// MessageType enumerates the closed set of normalized chat event kinds.
// No other values are permitted on the wire.
type MessageType string

const (
	TypeText         MessageType = "text"
	TypeSuperchat    MessageType = "superchat"
	TypeSupersticker MessageType = "supersticker"
	TypeMembership   MessageType = "membership"
	TypeGift         MessageType = "gift"
	TypeSystem       MessageType = "system"
)

// BadgeType enumerates recognized author badge discriminators.
type BadgeType string

const (
	BadgeVerified  BadgeType = "verified"
	BadgeOwner     BadgeType = "owner"
	BadgeModerator BadgeType = "moderator"
	BadgeMember    BadgeType = "member"
)

// AuthorBadge is one badge attached to a message author.
type AuthorBadge struct {
	Type    BadgeType `json:"type"`
	Label   string    `json:"label,omitempty"`
	IconURL string    `json:"iconUrl,omitempty"`
}

// Emoji is one emoji reference inside a message run.
type Emoji struct {
	ID       string `json:"id"`
	Shortcut string `json:"shortcut,omitempty"`
	URL      string `json:"url,omitempty"`
	IsCustom bool   `json:"isCustom,omitempty"`
}

// MessageRun is one atomic segment of rendered message content.
// Exactly one of Text or Emoji is set.
type MessageRun struct {
	Text  string `json:"text,omitempty"`
	Emoji *Emoji `json:"emoji,omitempty"`
}

// PaidColors carries the hex-with-alpha theming colors of a paid message.
// Each field is a "#rrggbbaa" string or empty when the source omitted it.
type PaidColors struct {
	HeaderBackground string `json:"headerBackground,omitempty"`
	HeaderText       string `json:"headerText,omitempty"`
	BodyBackground   string `json:"bodyBackground,omitempty"`
	BodyText         string `json:"bodyText,omitempty"`
	AuthorName       string `json:"authorName,omitempty"`
}

// Empty reports whether no color was extracted at all.
func (p PaidColors) Empty() bool {
	return p.HeaderBackground == "" && p.HeaderText == "" &&
		p.BodyBackground == "" && p.BodyText == "" && p.AuthorName == ""
}

// ChatMessage is the normalized output unit of the acquisition engine.
// Timestamp is seconds relative to video start; live-path messages carry 0
// because the live endpoint reports wall-clock delivery, not video offset.
// Only fields consistent with Type are populated.
type ChatMessage struct {
	ID              string        `json:"id"`
	Type            MessageType   `json:"type"`
	Timestamp       float64       `json:"timestamp"`
	Author          string        `json:"author"`
	AuthorPhoto     string        `json:"authorPhoto,omitempty"`
	AuthorChannelID string        `json:"authorChannelId,omitempty"`
	Badges          []AuthorBadge `json:"badges,omitempty"`
	Message         string        `json:"message"`
	Runs            []MessageRun  `json:"messageRuns,omitempty"`
	TimestampText   string        `json:"timestampText,omitempty"`
	Amount          string        `json:"amount,omitempty"`
	Colors          *PaidColors   `json:"colors,omitempty"`
	StickerURL      string        `json:"stickerUrl,omitempty"`
	MembershipLevel string        `json:"membershipLevel,omitempty"`
	GiftCount       int           `json:"giftCount,omitempty"`

	// ReceivedAt is the wall-clock arrival time, kept for the export sink.
	ReceivedAt time.Time `json:"-"`
}

// Session is the ephemeral per-fetch credential bundle recovered from the
// watch page. It is owned by the fetch operation that created it and is never
// persisted.
type Session struct {
	APIKey        string
	ClientContext json.RawMessage
	ClientName    string
	ClientVersion string
	VisitorData   string
	Continuation  string
	IsLive        bool
}

// Segment is one worker's disjoint slice of the replay duration, in
// milliseconds. The final segment's end is padded past the nominal duration.
type Segment struct {
	Worker  int
	StartMs int64
	EndMs   int64
}
