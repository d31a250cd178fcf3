package models

import (
	"strings"
	"time"
)

// Invocation is a single user-issued command request as forwarded by the
// gateway. Prefix is the exact address form the user typed, Content the full
// message including it.
type Invocation struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	GuildID   int64     `json:"guild_id,omitempty"`
	ChannelID int64     `json:"channel_id"`
	MessageID int64     `json:"message_id"`
	Prefix    string    `json:"prefix"`
	Content   string    `json:"content"`
	Edited    bool      `json:"edited,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Body returns the content with the invoking prefix removed.
func (i Invocation) Body() string {
	return strings.TrimPrefix(i.Content, i.Prefix)
}
