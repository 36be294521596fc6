package output

import (
	"context"
	"time"

	"github.com/RussellLuo/slidingwindow"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/internal/ports"
)

func localWindow() (slidingwindow.Window, slidingwindow.StopFunc) {
	return slidingwindow.NewLocalWindow()
}

type guildLimiter struct {
	limiter *slidingwindow.Limiter
	stop    slidingwindow.StopFunc
	dropped *xsync.Counter
}

// ThrottledAlerter limits how many alerts per guild reach next within a
// sliding window, so a spam wave cannot flood a guild's log channel.
// Critical alerts always pass.
type ThrottledAlerter struct {
	next   ports.Alerter
	limit  int64
	window time.Duration
	guilds *xsync.MapOf[string, *guildLimiter]
}

// NewThrottledAlerter wraps next. limit <= 0 disables throttling; window
// defaults to one minute.
func NewThrottledAlerter(next ports.Alerter, limit int64, window time.Duration) *ThrottledAlerter {
	if window <= 0 {
		window = time.Minute
	}
	return &ThrottledAlerter{
		next:   next,
		limit:  limit,
		window: window,
		guilds: xsync.NewMapOf[string, *guildLimiter](),
	}
}

func (t *ThrottledAlerter) Send(ctx context.Context, alert *domain.Alert) error {
	if t.limit <= 0 || alert.Level == domain.AlertLevelCritical {
		return t.next.Send(ctx, alert)
	}

	gl, _ := t.guilds.LoadOrCompute(alert.GuildID, func() *guildLimiter {
		lim, stop := slidingwindow.NewLimiter(t.window, t.limit, localWindow)
		return &guildLimiter{limiter: lim, stop: stop, dropped: xsync.NewCounter()}
	})
	if !gl.limiter.Allow() {
		gl.dropped.Inc()
		if n := gl.dropped.Value(); n == 1 || n%100 == 0 {
			log.Warn().
				Str("guild_id", alert.GuildID).
				Int64("dropped", n).
				Msg("Alert rate limit reached for guild")
		}
		return nil
	}
	return t.next.Send(ctx, alert)
}

// Dropped returns the number of alerts suppressed for guildID.
func (t *ThrottledAlerter) Dropped(guildID string) int64 {
	gl, ok := t.guilds.Load(guildID)
	if !ok {
		return 0
	}
	return gl.dropped.Value()
}

func (t *ThrottledAlerter) Flush() error {
	return t.next.Flush()
}

func (t *ThrottledAlerter) Close() error {
	t.guilds.Range(func(_ string, gl *guildLimiter) bool {
		gl.stop()
		return true
	})
	return t.next.Close()
}
