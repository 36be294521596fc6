package input

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// Incident is one kind of synthetic abuse the generator mixes into normal
// chat: a spam burst from one user, coordinated link spam from several,
// a raid of fresh accounts, reaction spam, or a single toxic message.
type Incident int

const (
	IncidentSpamBurst Incident = iota
	IncidentCoordinated
	IncidentRaid
	IncidentReactionSpam
	IncidentToxic
	incidentCount
)

func (i Incident) String() string {
	switch i {
	case IncidentSpamBurst:
		return "spam_burst"
	case IncidentCoordinated:
		return "coordinated"
	case IncidentRaid:
		return "raid"
	case IncidentReactionSpam:
		return "reaction_spam"
	case IncidentToxic:
		return "toxic"
	default:
		return "unknown"
	}
}

// DemoGenerator is an EventSource producing synthetic guild traffic for the
// console and for load testing.
type DemoGenerator struct {
	rate            int
	bufferSize      int
	incidentPercent int
	guilds          []string
	rawLines        bool
	seed            int64
	mu              sync.Mutex
	running         bool
	stopChan        chan struct{}
	generated       atomic.Uint64
	incidents       [incidentCount]atomic.Uint64

	channels     []demoChannel
	members      []demoMember
	chatter      []string
	spamMessages []string
	toxic        []string
	emoji        []string
	nextID       atomic.Uint64
}

type demoChannel struct {
	id, name string
	kind     domain.ChannelType
}

type demoMember struct {
	id, name string
	roles    []string
	age      time.Duration
}

type DemoConfig struct {
	Rate            int   `mapstructure:"rate" validate:"gte=0"`
	BufferSize      int   `mapstructure:"buffer_size" validate:"gte=0"`
	IncidentPercent int   `mapstructure:"incident_percent" validate:"gte=0,lte=100"`
	Guilds          int   `mapstructure:"guilds" validate:"gte=0"`
	RawLines        bool  `mapstructure:"raw_lines"` // Render each event as a flat JSON line
	Seed            int64 `mapstructure:"seed"`      // 0 seeds from the clock
}

func DefaultDemoConfig() DemoConfig {
	return DemoConfig{
		Rate:            200,
		BufferSize:      10000,
		IncidentPercent: 5,
		Guilds:          3,
	}
}

func NewDemoGenerator(config DemoConfig) *DemoGenerator {
	if config.Rate <= 0 {
		config.Rate = 200
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 10000
	}
	if config.Guilds <= 0 {
		config.Guilds = 1
	}

	guilds := make([]string, config.Guilds)
	for i := range guilds {
		guilds[i] = "90000000000000000" + strconv.Itoa(i)
	}

	members := make([]demoMember, 500)
	for i := range members {
		members[i] = demoMember{
			id:    strconv.Itoa(100000 + i),
			name:  "member" + strconv.Itoa(i),
			roles: []string{"member"},
			age:   time.Duration(30+i) * 24 * time.Hour,
		}
		if i%50 == 0 {
			members[i].roles = append(members[i].roles, "moderator")
		}
	}

	return &DemoGenerator{
		rate:            config.Rate,
		bufferSize:      config.BufferSize,
		incidentPercent: config.IncidentPercent,
		guilds:          guilds,
		rawLines:        config.RawLines,
		seed:            config.Seed,
		stopChan:        make(chan struct{}),
		channels: []demoChannel{
			{"2001", "general", domain.ChannelText},
			{"2002", "off-topic", domain.ChannelText},
			{"2003", "announcements", domain.ChannelAnnouncement},
			{"2004", "help", domain.ChannelForum},
			{"2005", "memes", domain.ChannelText},
		},
		members: members,
		chatter: []string{
			"hey everyone", "good morning!", "anyone up for a game tonight?",
			"lol that's great", "has anyone tried the new update?",
			"thanks for the help", "brb", "what time is the event?",
			"check the pinned messages for the rules", "gg",
			"I think the patch notes are out", "nice one",
			"does anyone know how to reset my settings?", "haha",
			"see you all tomorrow",
		},
		spamMessages: []string{
			"FREE NITRO claim now https://discord-gift.example/claim",
			"join my server https://discord.gg/freestuff",
			"CHEAP ACCOUNTS dm me https://shop.example/deal",
			"win a free steam gift card https://steam-gift.example/win",
		},
		toxic: []string{
			"WHY IS NOBODY ANSWERING ME THIS IS RIDICULOUS",
			"@everyone @here look at this NOW",
			"<@100001> <@100002> <@100003> <@100004> <@100005> <@100006> wake up",
			"you are all idiots",
			"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
		emoji: []string{"👍", "😂", "🔥", "❤️", "🎉"},
	}
}

func (g *DemoGenerator) Start(ctx context.Context) (<-chan *domain.PlatformEvent, <-chan error) {
	eventChan := make(chan *domain.PlatformEvent, g.bufferSize)
	errChan := make(chan error, 10)

	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		close(eventChan)
		close(errChan)
		return eventChan, errChan
	}
	g.running = true
	g.stopChan = make(chan struct{})
	stopChan := g.stopChan
	g.mu.Unlock()

	go func() {
		defer close(eventChan)
		defer close(errChan)

		log.Info().
			Int("rate", g.rate).
			Int("guilds", len(g.guilds)).
			Int("incident_percent", g.incidentPercent).
			Msg("Demo generator started")

		batchesPerSecond := 20
		batchSize := max(1, g.rate/batchesPerSecond)
		ticker := time.NewTicker(time.Second / time.Duration(batchesPerSecond))
		defer ticker.Stop()

		seed := g.seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewSource(seed))

		for {
			select {
			case <-ctx.Done():
				log.Info().Uint64("total_generated", g.generated.Load()).Msg("Demo generator stopped (context cancelled)")
				return
			case <-stopChan:
				log.Info().Uint64("total_generated", g.generated.Load()).Msg("Demo generator stopped")
				return
			case <-ticker.C:
				for i := 0; i < batchSize; i++ {
					for _, ev := range g.generate(rng) {
						select {
						case eventChan <- ev:
							g.generated.Add(1)
						default:
							domain.ReleasePlatformEvent(ev)
						}
					}
				}
			}
		}
	}()

	return eventChan, errChan
}

// generate returns one chat message, or the events of one incident.
func (g *DemoGenerator) generate(rng *rand.Rand) []*domain.PlatformEvent {
	guild := g.guilds[rng.Intn(len(g.guilds))]
	if rng.Intn(100) >= g.incidentPercent {
		m := g.members[rng.Intn(len(g.members))]
		if rng.Intn(10) == 0 {
			return []*domain.PlatformEvent{g.reaction(guild, m, g.emoji[rng.Intn(len(g.emoji))])}
		}
		return []*domain.PlatformEvent{g.message(rng, guild, m, g.chatter[rng.Intn(len(g.chatter))])}
	}

	incident := Incident(rng.Intn(int(incidentCount)))
	g.incidents[incident].Add(1)
	return g.Incident(rng, guild, incident)
}

// Incident renders one incident of the given kind in guild.
func (g *DemoGenerator) Incident(rng *rand.Rand, guild string, kind Incident) []*domain.PlatformEvent {
	var events []*domain.PlatformEvent
	switch kind {
	case IncidentSpamBurst:
		m := g.members[rng.Intn(len(g.members))]
		text := g.spamMessages[rng.Intn(len(g.spamMessages))]
		for range 8 {
			events = append(events, g.message(rng, guild, m, text))
		}
	case IncidentCoordinated:
		text := g.spamMessages[rng.Intn(len(g.spamMessages))]
		for range 6 {
			events = append(events, g.message(rng, guild, g.newcomer(rng), text))
		}
	case IncidentRaid:
		for range 12 {
			events = append(events, g.join(guild, g.newcomer(rng)))
		}
	case IncidentReactionSpam:
		emoji := g.emoji[rng.Intn(len(g.emoji))]
		for range 10 {
			events = append(events, g.reaction(guild, g.newcomer(rng), emoji))
		}
	case IncidentToxic:
		m := g.members[rng.Intn(len(g.members))]
		events = append(events, g.message(rng, guild, m, g.toxic[rng.Intn(len(g.toxic))]))
	}
	return events
}

// newcomer invents a fresh account with no avatar and no roles.
func (g *DemoGenerator) newcomer(rng *rand.Rand) demoMember {
	n := g.nextID.Add(1)
	return demoMember{
		id:   strconv.FormatUint(500000+n, 10),
		name: "user" + strconv.FormatUint(n, 10),
		age:  time.Duration(rng.Intn(72)) * time.Hour,
	}
}

func (g *DemoGenerator) message(rng *rand.Rand, guild string, m demoMember, content string) *domain.PlatformEvent {
	ch := g.channels[rng.Intn(len(g.channels))]
	ev := g.base(domain.EventMessage, guild, m)
	ev.ChannelID = ch.id
	ev.ChannelName = ch.name
	ev.ChannelType = ch.kind
	ev.MessageID = strconv.FormatUint(g.nextID.Add(1), 10)
	ev.SetContent(content)
	g.render(ev)
	return ev
}

func (g *DemoGenerator) join(guild string, m demoMember) *domain.PlatformEvent {
	ev := g.base(domain.EventJoin, guild, m)
	g.render(ev)
	return ev
}

func (g *DemoGenerator) reaction(guild string, m demoMember, emoji string) *domain.PlatformEvent {
	ev := g.base(domain.EventReaction, guild, m)
	ev.ChannelID = g.channels[0].id
	ev.MessageID = "3000"
	ev.Emoji = emoji
	g.render(ev)
	return ev
}

func (g *DemoGenerator) base(kind domain.EventKind, guild string, m demoMember) *domain.PlatformEvent {
	ev := domain.AcquirePlatformEvent()
	ev.Kind = kind
	ev.GuildID = guild
	ev.UserID = m.id
	ev.Username = m.name
	ev.Roles = append(ev.Roles[:0], m.roles...)
	ev.AccountAge = m.age
	ev.HasAvatar = len(m.roles) > 0
	ev.Timestamp = time.Now()
	return ev
}

// render fills RawLine with the flat JSON form of ev.
func (g *DemoGenerator) render(ev *domain.PlatformEvent) {
	if !g.rawLines {
		return
	}
	rec := EventRecord{
		Kind:        ev.Kind.String(),
		Timestamp:   ev.Timestamp.Format(time.RFC3339Nano),
		GuildID:     ev.GuildID,
		UserID:      ev.UserID,
		Username:    ev.Username,
		ChannelID:   ev.ChannelID,
		ChannelName: ev.ChannelName,
		MessageID:   ev.MessageID,
		Content:     ev.Content,
		Emoji:       ev.Emoji,
		Roles:       ev.Roles,
		AccountAge:  ev.AccountAge.String(),
		HasAvatar:   ev.HasAvatar,
	}
	if ev.Kind == domain.EventMessage {
		rec.ChannelType = ev.ChannelType.String()
	}
	if data, err := json.Marshal(rec); err == nil {
		ev.RawLine = string(data)
	}
}

func (g *DemoGenerator) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return nil
	}
	close(g.stopChan)
	g.running = false
	return nil
}

func (g *DemoGenerator) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *DemoGenerator) Generated() uint64 {
	return g.generated.Load()
}

// Incidents returns how many incidents of each kind were generated.
func (g *DemoGenerator) Incidents() map[Incident]uint64 {
	out := make(map[Incident]uint64, incidentCount)
	for i := range g.incidents {
		out[Incident(i)] = g.incidents[i].Load()
	}
	return out
}
