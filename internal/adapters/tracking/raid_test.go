package tracking

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingStore struct {
	mu    sync.Mutex
	added []string
}

func (s *recordingStore) Add(content string) error {
	s.mu.Lock()
	s.added = append(s.added, content)
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) Contains(content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.added {
		if a == content {
			return true
		}
	}
	return false
}

func (s *recordingStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.added)
}

func newTestDetector(clock *fakeClock) *RaidDetector {
	cfg := DefaultRaidConfig()
	cfg.Now = clock.Now
	return NewRaidDetector(cfg, nil)
}

func establishedJoin(guild string, i int, at time.Time) domain.JoinEvent {
	return domain.JoinEvent{
		GuildID:    guild,
		UserID:     fmt.Sprintf("member-%d", i),
		Username:   fmt.Sprintf("member_%c", 'a'+rune(i%26)),
		AccountAge: 400 * 24 * time.Hour,
		HasAvatar:  true,
		At:         at,
	}
}

func freshJoin(guild string, i int, at time.Time) domain.JoinEvent {
	return domain.JoinEvent{
		GuildID:    guild,
		UserID:     fmt.Sprintf("fresh-%d", i),
		Username:   fmt.Sprintf("user%05d", i),
		AccountAge: time.Hour,
		At:         at,
	}
}

func TestRaidDetector_JoinFloodOnThreshold(t *testing.T) {
	clock := newFakeClock(t0)
	d := newTestDetector(clock)

	for i := 0; i < 4; i++ {
		a := d.RecordJoin(establishedJoin("g1", i, t0.Add(time.Duration(i)*10*time.Second)))
		assert.Nil(t, a.Raid, "join %d", i)
		assert.False(t, a.GuildUnderRaid)
	}

	a := d.RecordJoin(establishedJoin("g1", 4, t0.Add(40*time.Second)))
	require.NotNil(t, a.Raid)
	assert.Equal(t, domain.RaidJoinFlood, a.Raid.RaidType)
	assert.Equal(t, domain.ResponseMonitor, a.Raid.Response)
	assert.True(t, a.Raid.NewlyActivated)
	assert.Equal(t, 5, a.Raid.JoinCount)
	assert.Len(t, a.Raid.InvolvedUsers, 5)
	assert.Empty(t, a.Raid.UsersToKick)
	assert.InDelta(t, 0.5, a.Raid.Confidence, 1e-9)
	assert.Equal(t, domain.ActionAllow, a.Action)
	assert.True(t, a.GuildUnderRaid)

	// Every further qualifying join reports the raid, but only once as new.
	a = d.RecordJoin(establishedJoin("g1", 5, t0.Add(50*time.Second)))
	require.NotNil(t, a.Raid)
	assert.False(t, a.Raid.NewlyActivated)

	status, ok := d.RaidStatus("g1")
	require.True(t, ok)
	assert.Len(t, status.InvolvedUsers, 6)
	assert.Equal(t, t0.Add(40*time.Second), status.StartTime)
}

func TestRaidDetector_SlowJoinsAreNotARaid(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))

	for i := 0; i < 10; i++ {
		a := d.RecordJoin(establishedJoin("g1", i, t0.Add(time.Duration(i)*2*time.Minute)))
		assert.Nil(t, a.Raid, "join %d", i)
	}
}

func TestRaidDetector_NewAccountWaveLocksDown(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))

	var a domain.JoinAssessment
	for i := 0; i < 5; i++ {
		a = d.RecordJoin(freshJoin("g1", i, t0.Add(time.Duration(i)*time.Second)))
	}
	require.NotNil(t, a.Raid)
	assert.Equal(t, domain.RaidNewAccountWave, a.Raid.RaidType)
	assert.Equal(t, domain.ResponseLockdown, a.Raid.Response)
	assert.Len(t, a.Raid.UsersToKick, 5)
	assert.InDelta(t, 1.0, a.Raid.Confidence, 1e-9)
	assert.Equal(t, domain.ActionKick, a.Action)

	status, ok := d.RaidStatus("g1")
	require.True(t, ok)
	assert.True(t, status.Lockdown)
	assert.True(t, status.EnhancedVerification)
}

func TestRaidDetector_SuspiciousNamesRequireVerification(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))

	var a domain.JoinAssessment
	for i := 0; i < 5; i++ {
		ev := establishedJoin("g1", i, t0.Add(time.Duration(i)*time.Second))
		ev.Username = fmt.Sprintf("x%d", i)
		a = d.RecordJoin(ev)
	}
	require.NotNil(t, a.Raid)
	assert.Equal(t, domain.RaidSuspiciousNames, a.Raid.RaidType)
	assert.Equal(t, domain.ResponseEnhancedVerification, a.Raid.Response)
	assert.True(t, a.Raid.Suspicious)

	status, ok := d.RaidStatus("g1")
	require.True(t, ok)
	assert.True(t, status.EnhancedVerification)
	assert.False(t, status.Lockdown)
}

func TestRaidDetector_LaterDetectionRaisesResponse(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))

	for i := 0; i < 5; i++ {
		d.RecordJoin(establishedJoin("g1", i, t0.Add(time.Duration(i)*10*time.Second)))
	}
	status, _ := d.RaidStatus("g1")
	require.Equal(t, domain.ResponseMonitor, status.Response)

	var a domain.JoinAssessment
	for i := 0; i < 25; i++ {
		a = d.RecordJoin(freshJoin("g1", i, t0.Add(time.Minute+time.Duration(i)*time.Second)))
	}
	require.NotNil(t, a.Raid)
	assert.False(t, a.Raid.NewlyActivated)
	assert.Equal(t, domain.ResponseLockdown, a.Raid.Response)

	status, ok := d.RaidStatus("g1")
	require.True(t, ok)
	assert.Equal(t, domain.ResponseLockdown, status.Response)
	assert.Equal(t, domain.RaidNewAccountWave, status.RaidType)
	assert.Len(t, status.InvolvedUsers, 30)
	assert.Equal(t, t0.Add(40*time.Second), status.StartTime)
}

func TestRaidDetector_SuspiciousJoinDuringRaidIsKicked(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))

	for i := 0; i < 5; i++ {
		d.RecordJoin(establishedJoin("g1", i, t0.Add(time.Duration(i)*time.Second)))
	}

	a := d.RecordJoin(domain.JoinEvent{
		GuildID:    "g1",
		UserID:     "sketchy",
		Username:   "bot48213",
		AccountAge: 2 * time.Hour,
		At:         t0.Add(10 * time.Second),
	})
	assert.True(t, a.Suspicious)
	assert.Equal(t, 4, a.SuspicionScore)
	assert.Equal(t, domain.ActionKick, a.Action)
	assert.Contains(t, a.Reasons, "suspicious join during raid")

	// The same account outside a raid is only flagged.
	a = d.RecordJoin(domain.JoinEvent{
		GuildID:    "g2",
		UserID:     "sketchy",
		Username:   "bot48213",
		AccountAge: 2 * time.Hour,
		At:         t0.Add(10 * time.Second),
	})
	assert.True(t, a.Suspicious)
	assert.Equal(t, domain.ActionAllow, a.Action)
}

func TestRaidDetector_RaidExpires(t *testing.T) {
	clock := newFakeClock(t0)
	d := newTestDetector(clock)

	for i := 0; i < 5; i++ {
		d.RecordJoin(establishedJoin("g1", i, t0))
	}
	require.True(t, d.IsGuildUnderRaidAlert("g1"))

	clock.Advance(29 * time.Minute)
	assert.True(t, d.IsGuildUnderRaidAlert("g1"))
	assert.Equal(t, 1, d.ActiveRaids())

	clock.Advance(time.Minute)
	assert.False(t, d.IsGuildUnderRaidAlert("g1"))
	_, ok := d.RaidStatus("g1")
	assert.False(t, ok)
	assert.Equal(t, 0, d.ActiveRaids())

	assert.Positive(t, d.Sweep())
	assert.Equal(t, 0, d.Stats().ActiveRaids)
}

func TestRaidDetector_ManualControls(t *testing.T) {
	clock := newFakeClock(t0)
	d := newTestDetector(clock)

	assert.False(t, d.DeactivateRaidMode("g1"))
	assert.False(t, d.ExtendRaidMode("g1"))

	status := d.ActivateLockdown("g1", "moderator request")
	assert.True(t, status.Active)
	assert.True(t, status.Lockdown)
	assert.True(t, status.EnhancedVerification)
	assert.Equal(t, domain.RaidManual, status.RaidType)
	assert.Equal(t, "moderator request", status.Reason)

	clock.Advance(20 * time.Minute)
	require.True(t, d.ExtendRaidMode("g1"))
	clock.Advance(20 * time.Minute)
	assert.True(t, d.IsGuildUnderRaidAlert("g1"))

	assert.True(t, d.DeactivateRaidMode("g1"))
	assert.False(t, d.IsGuildUnderRaidAlert("g1"))
	assert.False(t, d.DeactivateRaidMode("g1"))
}

func TestRaidDetector_GuildSettings(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))

	var cfgErr *domain.ConfigValidationError
	require.ErrorAs(t, d.SetGuildSettings("g1", GuildSettings{JoinThreshold: 1, RaidWindow: time.Minute}), &cfgErr)
	assert.Equal(t, "raid.guilds.g1.join_threshold", cfgErr.Field)
	require.ErrorAs(t, d.SetGuildSettings("g1", GuildSettings{JoinThreshold: 3}), &cfgErr)
	require.ErrorAs(t, d.SetGuildSettings("g1", GuildSettings{JoinThreshold: 3, RaidWindow: 48 * time.Hour}), &cfgErr)
	assert.Equal(t, "raid.guilds.g1.raid_window", cfgErr.Field)

	assert.Equal(t, GuildSettings{JoinThreshold: 5, RaidWindow: 5 * time.Minute}, d.GuildSettings("g1"))

	require.NoError(t, d.SetGuildSettings("g1", GuildSettings{JoinThreshold: 2, RaidWindow: time.Minute}))
	assert.Nil(t, d.RecordJoin(establishedJoin("g1", 0, t0)).Raid)
	assert.NotNil(t, d.RecordJoin(establishedJoin("g1", 1, t0.Add(30*time.Second))).Raid)

	// Other guilds keep the defaults.
	assert.Nil(t, d.RecordJoin(establishedJoin("g2", 0, t0)).Raid)
	assert.Nil(t, d.RecordJoin(establishedJoin("g2", 1, t0)).Raid)
}

func spamMessage(user string, at time.Time) domain.MessageEvent {
	return domain.MessageEvent{
		GuildID:   "g1",
		UserID:    user,
		ChannelID: "c-" + user,
		Content:   "Free followers at example dot com",
		At:        at,
	}
}

func TestRaidDetector_CoordinatedSpamNeedsDistinctUsers(t *testing.T) {
	spam := &recordingStore{}
	cfg := DefaultRaidConfig()
	cfg.Now = newFakeClock(t0).Now
	d := NewRaidDetector(cfg, spam)

	users := []string{"u1", "u2"}
	for i := 0; i < 6; i++ {
		r := d.RecordMessageForRaid(spamMessage(users[i%2], t0.Add(time.Duration(i)*time.Second)))
		assert.Nil(t, r, "message %d", i)
	}

	r := d.RecordMessageForRaid(spamMessage("u3", t0.Add(7*time.Second)))
	require.NotNil(t, r)
	assert.True(t, r.FirstDetection)
	assert.Equal(t, 7, r.MessageCount)
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, r.InvolvedUsers)
	assert.ElementsMatch(t, r.InvolvedUsers, r.UsersToTimeout)
	assert.Len(t, r.Channels, 3)
	require.NotNil(t, r.Pattern)
	assert.Equal(t, domain.PatternCoordinatedSpam, r.Pattern.Type)
	assert.InDelta(t, 0.7, r.Pattern.Confidence, 1e-9)
	assert.Equal(t, 1, spam.Count())

	// Case and spacing variants are the same content.
	next := spamMessage("u4", t0.Add(8*time.Second))
	next.Content = "FREE followers   at example dot com"
	r2 := d.RecordMessageForRaid(next)
	require.NotNil(t, r2)
	assert.False(t, r2.FirstDetection)
	assert.Equal(t, r.Pattern.ID, r2.Pattern.ID)
	assert.Len(t, r2.InvolvedUsers, 4)
	assert.Equal(t, 1, spam.Count())

	patterns := d.RecentPatterns("g1")
	require.Len(t, patterns, 1)
	assert.Len(t, patterns[0].Users, 4)
}

func TestRaidDetector_CoordinationWindow(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))

	users := []string{"u1", "u2", "u3", "u4", "u5"}
	for i, u := range users {
		r := d.RecordMessageForRaid(spamMessage(u, t0.Add(time.Duration(i)*time.Minute)))
		assert.Nil(t, r, "message %d", i)
	}
	assert.Nil(t, d.RecordMessageForRaid(domain.MessageEvent{GuildID: "g1", UserID: "u6", Content: "   "}))
}

func TestRaidDetector_ReactionBurst(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))

	react := func(user string, i int) *domain.CoordinatedPattern {
		return d.RecordReaction(domain.ReactionEvent{
			GuildID:   "g1",
			UserID:    user,
			ChannelID: "c1",
			MessageID: "m1",
			Emoji:     "🔥",
			At:        t0.Add(time.Duration(i) * time.Second),
		})
	}

	// One user reacting repeatedly is not a burst.
	for i := 0; i < 15; i++ {
		assert.Nil(t, react("solo", i))
	}

	for i := 0; i < 8; i++ {
		assert.Nil(t, react(fmt.Sprintf("u%d", i), 15+i))
	}
	p := react("u8", 30)
	require.NotNil(t, p)
	assert.Equal(t, domain.PatternReactionBurst, p.Type)
	assert.Len(t, p.Users, 10)
	assert.Equal(t, "m1", p.Evidence["message_id"])

	assert.Nil(t, react("u9", 31))
	assert.Len(t, d.RecentPatterns("g1"), 1)
}

func TestRaidDetector_ThreatAssessment(t *testing.T) {
	clock := newFakeClock(t0)
	d := newTestDetector(clock)

	quiet := d.ThreatAssessment("g1")
	assert.Equal(t, domain.ThreatNone, quiet.Level)
	assert.Zero(t, quiet.Score)

	d.ActivateLockdown("g1", "manual")
	locked := d.ThreatAssessment("g1")
	assert.Equal(t, 70.0, locked.Score)
	assert.Equal(t, domain.ThreatHigh, locked.Level)

	for i := 0; i < 5; i++ {
		d.RecordJoin(establishedJoin("g1", i, t0))
	}
	full := d.ThreatAssessment("g1")
	assert.Equal(t, 90.0, full.Score)
	assert.Equal(t, domain.ThreatCritical, full.Level)
	assert.NotEmpty(t, full.Recommendation)
	assert.Len(t, full.Factors, 2)
}

func TestThreatLevelForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.ThreatLevel
	}{
		{0, domain.ThreatNone},
		{9.9, domain.ThreatNone},
		{10, domain.ThreatLow},
		{35, domain.ThreatElevated},
		{60, domain.ThreatHigh},
		{79.9, domain.ThreatHigh},
		{80, domain.ThreatCritical},
		{100, domain.ThreatCritical},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, threatLevelForScore(tc.score), "score %v", tc.score)
	}
}

func TestRaidDetector_Concurrency(t *testing.T) {
	d := newTestDetector(newFakeClock(t0))

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			guild := fmt.Sprintf("g%d", g)
			for i := 0; i < 200; i++ {
				at := t0.Add(time.Duration(i) * time.Second)
				d.RecordJoin(freshJoin(guild, i, at))
				d.RecordMessageForRaid(spamMessage(fmt.Sprintf("u%d", i%7), at))
				d.RecordReaction(domain.ReactionEvent{GuildID: guild, UserID: fmt.Sprintf("u%d", i), MessageID: "m", At: at})
				d.ThreatAssessment(guild)
			}
		}(g)
	}
	wg.Wait()

	stats := d.Stats()
	assert.Equal(t, 4, stats.TrackedGuilds)
	assert.Equal(t, 4, stats.ActiveRaids)
}
