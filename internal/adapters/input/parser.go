// Package input provides the event sources that feed the moderation core:
// a JSON lines file tailer, parsers for flat and gateway-envelope records,
// and a synthetic traffic generator.
package input

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

var (
	ErrInvalidEventFormat = errors.New("invalid event format")
	ErrLineTooLong        = errors.New("event line exceeds maximum length")
	ErrUnsupportedEvent   = errors.New("unsupported gateway event")
)

// discordEpoch is the first millisecond of 2015, the origin of snowflake
// timestamps.
const discordEpoch = 1420070400000

// SnowflakeTime extracts the creation time encoded in a platform ID.
func SnowflakeTime(id string) (time.Time, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(n>>22) + discordEpoch).UTC(), true
}

// EventRecord is the flat JSON lines format:
//
//	{"kind":"message","guild_id":"1","user_id":"2","channel_id":"3","content":"hi"}
//	{"kind":"join","guild_id":"1","user_id":"4","username":"bob","account_age":"72h"}
type EventRecord struct {
	Kind        string            `json:"kind"`
	Timestamp   string            `json:"timestamp,omitempty"`
	GuildID     string            `json:"guild_id"`
	UserID      string            `json:"user_id"`
	Username    string            `json:"username,omitempty"`
	ChannelID   string            `json:"channel_id,omitempty"`
	ChannelName string            `json:"channel_name,omitempty"`
	ChannelType string            `json:"channel_type,omitempty"`
	MessageID   string            `json:"message_id,omitempty"`
	Content     string            `json:"content,omitempty"`
	Emoji       string            `json:"emoji,omitempty"`
	Roles       []string          `json:"roles,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
	AccountAge  string            `json:"account_age,omitempty"` // Go duration; derived from the user ID when empty
	HasAvatar   bool              `json:"has_avatar,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type JSONEventParser struct {
	maxLineLength int
	now           func() time.Time
}

func NewJSONEventParser() *JSONEventParser {
	return &JSONEventParser{maxLineLength: domain.MaxRawLineLength, now: time.Now}
}

// Parse decodes one flat record.
//
// Returns:
//   - ErrLineTooLong for lines over domain.MaxRawLineLength
//   - ErrInvalidEventFormat for anything that is not a JSON object with a
//     known kind, a guild ID and a user ID
func (p *JSONEventParser) Parse(line string) (*domain.PlatformEvent, error) {
	if len(line) > p.maxLineLength {
		return nil, ErrLineTooLong
	}
	line = strings.TrimSpace(line)
	if len(line) < 2 || line[0] != '{' {
		return nil, ErrInvalidEventFormat
	}

	var rec EventRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEventFormat, err)
	}

	ev := domain.AcquirePlatformEvent()
	if err := p.fill(ev, &rec); err != nil {
		domain.ReleasePlatformEvent(ev)
		return nil, err
	}
	ev.RawLine = line
	return ev, nil
}

func (p *JSONEventParser) fill(ev *domain.PlatformEvent, rec *EventRecord) error {
	if err := ev.Kind.UnmarshalText([]byte(rec.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEventFormat, err)
	}
	if err := ev.ChannelType.UnmarshalText([]byte(rec.ChannelType)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEventFormat, err)
	}
	if rec.GuildID == "" || rec.UserID == "" {
		return fmt.Errorf("%w: guild_id and user_id are required", ErrInvalidEventFormat)
	}

	ev.GuildID = rec.GuildID
	ev.UserID = rec.UserID
	ev.Username = rec.Username
	ev.ChannelID = rec.ChannelID
	ev.ChannelName = rec.ChannelName
	ev.MessageID = rec.MessageID
	ev.Emoji = rec.Emoji
	ev.Timezone = rec.Timezone
	ev.HasAvatar = rec.HasAvatar
	ev.SetContent(rec.Content)
	setRoles(ev, rec.Roles)
	for k, v := range rec.Metadata {
		ev.SetMetadata(k, v)
	}

	ev.Timestamp = parseTimestamp(rec.Timestamp, p.now)
	if rec.AccountAge != "" {
		age, err := time.ParseDuration(rec.AccountAge)
		if err != nil || age < 0 {
			return fmt.Errorf("%w: account_age %q", ErrInvalidEventFormat, rec.AccountAge)
		}
		ev.AccountAge = age
	} else if created, ok := SnowflakeTime(rec.UserID); ok {
		ev.AccountAge = max(0, ev.Timestamp.Sub(created))
	}
	return nil
}

func (p *JSONEventParser) Format() string {
	return "jsonl"
}

func setRoles(ev *domain.PlatformEvent, roles []string) {
	if len(roles) > domain.MaxRoleCount {
		roles = roles[:domain.MaxRoleCount]
		ev.Truncated = true
	}
	ev.Roles = append(ev.Roles[:0], roles...)
}

// parseTimestamp accepts RFC 3339 or Unix milliseconds. Anything else is
// stamped with the current time.
func parseTimestamp(s string, now func() time.Time) time.Time {
	if s != "" {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil && !ts.IsZero() {
			return ts
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	}
	return now()
}

// Gateway dispatch payloads, reduced to the fields moderation needs.
type (
	gatewayEnvelope struct {
		Type string          `json:"t"`
		Data json.RawMessage `json:"d"`
	}

	gatewayUser struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
		Bot      bool   `json:"bot"`
	}

	gatewayMember struct {
		Roles []string `json:"roles"`
	}

	gatewayMessage struct {
		ID        string         `json:"id"`
		GuildID   string         `json:"guild_id"`
		ChannelID string         `json:"channel_id"`
		Content   string         `json:"content"`
		Timestamp string         `json:"timestamp"`
		Author    gatewayUser    `json:"author"`
		Member    *gatewayMember `json:"member"`
	}

	gatewayMemberAdd struct {
		GuildID  string      `json:"guild_id"`
		JoinedAt string      `json:"joined_at"`
		User     gatewayUser `json:"user"`
		Roles    []string    `json:"roles"`
	}

	gatewayReaction struct {
		UserID    string `json:"user_id"`
		GuildID   string `json:"guild_id"`
		ChannelID string `json:"channel_id"`
		MessageID string `json:"message_id"`
		Emoji     struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"emoji"`
	}
)

// GatewayParser decodes recorded gateway dispatches ({"t": ..., "d": ...}).
// MESSAGE_CREATE, GUILD_MEMBER_ADD and MESSAGE_REACTION_ADD are supported;
// bot authors and direct messages are skipped with ErrUnsupportedEvent.
type GatewayParser struct {
	maxLineLength int
	now           func() time.Time
}

func NewGatewayParser() *GatewayParser {
	return &GatewayParser{maxLineLength: domain.MaxRawLineLength, now: time.Now}
}

func (p *GatewayParser) Parse(line string) (*domain.PlatformEvent, error) {
	if len(line) > p.maxLineLength {
		return nil, ErrLineTooLong
	}
	line = strings.TrimSpace(line)
	if len(line) < 2 || line[0] != '{' {
		return nil, ErrInvalidEventFormat
	}

	var env gatewayEnvelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEventFormat, err)
	}

	ev := domain.AcquirePlatformEvent()
	var err error
	switch env.Type {
	case "MESSAGE_CREATE":
		err = p.message(ev, env.Data)
	case "GUILD_MEMBER_ADD":
		err = p.memberAdd(ev, env.Data)
	case "MESSAGE_REACTION_ADD":
		err = p.reaction(ev, env.Data)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedEvent, env.Type)
	}
	if err != nil {
		domain.ReleasePlatformEvent(ev)
		return nil, err
	}
	ev.RawLine = line
	return ev, nil
}

func (p *GatewayParser) message(ev *domain.PlatformEvent, data []byte) error {
	var msg gatewayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEventFormat, err)
	}
	if msg.Author.Bot {
		return fmt.Errorf("%w: bot author", ErrUnsupportedEvent)
	}
	if msg.GuildID == "" {
		return fmt.Errorf("%w: direct message", ErrUnsupportedEvent)
	}
	if msg.Author.ID == "" {
		return fmt.Errorf("%w: missing author", ErrInvalidEventFormat)
	}

	ev.Kind = domain.EventMessage
	ev.GuildID = msg.GuildID
	ev.ChannelID = msg.ChannelID
	ev.MessageID = msg.ID
	p.user(ev, msg.Author)
	ev.SetContent(msg.Content)
	if msg.Member != nil {
		setRoles(ev, msg.Member.Roles)
	}
	ev.Timestamp = parseTimestamp(msg.Timestamp, p.now)
	p.accountAge(ev)
	return nil
}

func (p *GatewayParser) memberAdd(ev *domain.PlatformEvent, data []byte) error {
	var add gatewayMemberAdd
	if err := json.Unmarshal(data, &add); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEventFormat, err)
	}
	if add.GuildID == "" || add.User.ID == "" {
		return fmt.Errorf("%w: guild and user are required", ErrInvalidEventFormat)
	}

	ev.Kind = domain.EventJoin
	ev.GuildID = add.GuildID
	p.user(ev, add.User)
	setRoles(ev, add.Roles)
	ev.Timestamp = parseTimestamp(add.JoinedAt, p.now)
	p.accountAge(ev)
	return nil
}

func (p *GatewayParser) reaction(ev *domain.PlatformEvent, data []byte) error {
	var r gatewayReaction
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEventFormat, err)
	}
	if r.GuildID == "" || r.UserID == "" {
		return fmt.Errorf("%w: guild and user are required", ErrInvalidEventFormat)
	}

	ev.Kind = domain.EventReaction
	ev.GuildID = r.GuildID
	ev.UserID = r.UserID
	ev.ChannelID = r.ChannelID
	ev.MessageID = r.MessageID
	ev.Emoji = r.Emoji.Name
	if r.Emoji.ID != "" {
		ev.Emoji = r.Emoji.Name + ":" + r.Emoji.ID
	}
	ev.Timestamp = p.now()
	return nil
}

func (p *GatewayParser) user(ev *domain.PlatformEvent, u gatewayUser) {
	ev.UserID = u.ID
	ev.Username = u.Username
	ev.HasAvatar = u.Avatar != ""
}

func (p *GatewayParser) accountAge(ev *domain.PlatformEvent) {
	if created, ok := SnowflakeTime(ev.UserID); ok {
		ev.AccountAge = max(0, ev.Timestamp.Sub(created))
	}
}

func (p *GatewayParser) Format() string {
	return "gateway"
}

// AutoDetectParser routes gateway envelopes to GatewayParser and everything
// else to JSONEventParser.
type AutoDetectParser struct {
	flat    *JSONEventParser
	gateway *GatewayParser
}

func NewAutoDetectParser() *AutoDetectParser {
	return &AutoDetectParser{
		flat:    NewJSONEventParser(),
		gateway: NewGatewayParser(),
	}
}

func (p *AutoDetectParser) Parse(line string) (*domain.PlatformEvent, error) {
	if isGatewayEnvelope(line) {
		return p.gateway.Parse(line)
	}
	return p.flat.Parse(line)
}

func (p *AutoDetectParser) Format() string {
	return "auto"
}

// isGatewayEnvelope reports whether line has a non-empty top-level "t" key.
func isGatewayEnvelope(line string) bool {
	var probe struct {
		Type string `json:"t"`
	}
	return json.Unmarshal([]byte(line), &probe) == nil && probe.Type != ""
}
