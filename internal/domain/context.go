package domain

import (
	"fmt"
	"strings"
	"time"
)

type ChannelType int

const (
	ChannelText ChannelType = iota
	ChannelVoice
	ChannelAnnouncement
	ChannelThread
	ChannelForum
	ChannelDirect
)

func (c ChannelType) String() string {
	switch c {
	case ChannelText:
		return "text"
	case ChannelVoice:
		return "voice"
	case ChannelAnnouncement:
		return "announcement"
	case ChannelThread:
		return "thread"
	case ChannelForum:
		return "forum"
	case ChannelDirect:
		return "dm"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

func (c ChannelType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ChannelType) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "text", "":
		*c = ChannelText
	case "voice", "stage":
		*c = ChannelVoice
	case "announcement", "news":
		*c = ChannelAnnouncement
	case "thread":
		*c = ChannelThread
	case "forum":
		*c = ChannelForum
	case "dm":
		*c = ChannelDirect
	default:
		return fmt.Errorf("unknown channel type %q", text)
	}
	return nil
}

// ModerationContext describes one message under evaluation. It is built by
// the caller for a single Evaluate call and never retained.
type ModerationContext struct {
	UserID      string            `json:"user_id"`
	Username    string            `json:"username,omitempty"`
	GuildID     string            `json:"guild_id"`
	ChannelID   string            `json:"channel_id"`
	MessageID   string            `json:"message_id,omitempty"`
	Content     string            `json:"content"`
	ChannelType ChannelType       `json:"channel_type"`
	ChannelName string            `json:"channel_name,omitempty"`
	Roles       []string          `json:"roles,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// At returns the event time, falling back to now for callers that leave
// Timestamp unset.
func (c *ModerationContext) At() time.Time {
	if c.Timestamp.IsZero() {
		return time.Now()
	}
	return c.Timestamp
}

func (c *ModerationContext) HasRole(names ...string) bool {
	for _, r := range c.Roles {
		for _, n := range names {
			if strings.EqualFold(r, n) {
				return true
			}
		}
	}
	return false
}

// UserKey identifies state scoped to one user within one guild.
func UserKey(userID, guildID string) string {
	return guildID + "/" + userID
}
