package domain

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Size limits applied while decoding platform events.
const (
	MaxContentLength = 4000
	MaxRoleCount     = 250
	MaxMetadataCount = 32
	MaxRawLineLength = 16384
)

type EventKind int

const (
	EventMessage EventKind = iota
	EventJoin
	EventReaction
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventJoin:
		return "join"
	case EventReaction:
		return "reaction"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "message", "message_create", "":
		*k = EventMessage
	case "join", "member_join", "guild_member_add":
		*k = EventJoin
	case "reaction", "reaction_add", "message_reaction_add":
		*k = EventReaction
	default:
		return fmt.Errorf("unknown event kind %q", text)
	}
	return nil
}

// PlatformEvent is one decoded gateway event as produced by an EventSource.
// Events are pooled; use AcquirePlatformEvent/ReleasePlatformEvent on hot
// paths and Clone before retaining one.
type PlatformEvent struct {
	Kind        EventKind         `json:"kind"`
	GuildID     string            `json:"guild_id"`
	UserID      string            `json:"user_id"`
	Username    string            `json:"username,omitempty"`
	ChannelID   string            `json:"channel_id,omitempty"`
	ChannelName string            `json:"channel_name,omitempty"`
	ChannelType ChannelType       `json:"channel_type,omitempty"`
	MessageID   string            `json:"message_id,omitempty"`
	Content     string            `json:"content,omitempty"`
	Emoji       string            `json:"emoji,omitempty"`
	Roles       []string          `json:"roles,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
	AccountAge  time.Duration     `json:"account_age,omitempty"`
	HasAvatar   bool              `json:"has_avatar,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Truncated   bool              `json:"truncated,omitempty"`
	RawLine     string            `json:"-"`
}

var platformEventPool = sync.Pool{
	New: func() any {
		return &PlatformEvent{
			Roles:    make([]string, 0, 8),
			Metadata: make(map[string]string, 4),
		}
	},
}

func AcquirePlatformEvent() *PlatformEvent {
	return platformEventPool.Get().(*PlatformEvent)
}

func ReleasePlatformEvent(e *PlatformEvent) {
	if e == nil {
		return
	}
	roles := e.Roles[:0]
	meta := e.Metadata
	clear(meta)
	*e = PlatformEvent{Roles: roles, Metadata: meta}
	platformEventPool.Put(e)
}

func (e *PlatformEvent) Clone() *PlatformEvent {
	c := AcquirePlatformEvent()
	roles := append(c.Roles[:0], e.Roles...)
	meta := c.Metadata
	if meta == nil {
		meta = make(map[string]string, len(e.Metadata))
	}
	for k, v := range e.Metadata {
		meta[k] = v
	}
	*c = *e
	c.Roles = roles
	c.Metadata = meta
	c.Content = strings.Clone(e.Content)
	c.RawLine = strings.Clone(e.RawLine)
	return c
}

// SetContent stores content, truncating at MaxContentLength bytes on a rune
// boundary.
func (e *PlatformEvent) SetContent(content string) {
	if len(content) <= MaxContentLength {
		e.Content = content
		return
	}
	cut := MaxContentLength
	for cut > 0 && !isRuneStart(content[cut]) {
		cut--
	}
	e.Content = content[:cut]
	e.Truncated = true
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func (e *PlatformEvent) SetMetadata(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string, 4)
	}
	if _, exists := e.Metadata[key]; !exists && len(e.Metadata) >= MaxMetadataCount {
		e.Truncated = true
		return
	}
	e.Metadata[key] = value
}

func (e *PlatformEvent) At() time.Time {
	if e.Timestamp.IsZero() {
		return time.Now()
	}
	return e.Timestamp
}

func (e *PlatformEvent) ModerationContext() *ModerationContext {
	var meta map[string]string
	if len(e.Metadata) > 0 {
		meta = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = v
		}
	}
	return &ModerationContext{
		UserID:      e.UserID,
		Username:    e.Username,
		GuildID:     e.GuildID,
		ChannelID:   e.ChannelID,
		MessageID:   e.MessageID,
		Content:     e.Content,
		ChannelType: e.ChannelType,
		ChannelName: e.ChannelName,
		Roles:       slices.Clone(e.Roles),
		Timezone:    e.Timezone,
		Timestamp:   e.At(),
		Metadata:    meta,
	}
}

func (e *PlatformEvent) JoinEvent() JoinEvent {
	return JoinEvent{
		GuildID:    e.GuildID,
		UserID:     e.UserID,
		Username:   e.Username,
		AccountAge: e.AccountAge,
		HasAvatar:  e.HasAvatar,
		At:         e.At(),
	}
}

func (e *PlatformEvent) ReactionEvent() ReactionEvent {
	return ReactionEvent{
		GuildID:   e.GuildID,
		UserID:    e.UserID,
		ChannelID: e.ChannelID,
		MessageID: e.MessageID,
		Emoji:     e.Emoji,
		At:        e.At(),
	}
}
