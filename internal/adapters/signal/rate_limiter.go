package signal

import (
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/roomhub/internal/core"
)

const dropReportEvery = time.Second

// EventLimiter throttles inbound events of a single connection. It is owned by
// the connection's read loop and is not safe for concurrent use.
type EventLimiter struct {
	sid      core.SessionID
	lim      *rate.Limiter
	dropped  int
	reported time.Time
	now      func() time.Time
}

// NewEventLimiter returns a limiter allowing perSecond events with the given
// burst. A non-positive rate disables limiting.
func NewEventLimiter(sid core.SessionID, perSecond float64, burst int) *EventLimiter {
	l := &EventLimiter{sid: sid, now: time.Now}
	if perSecond > 0 {
		l.lim = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
	return l
}

func (l *EventLimiter) Allow() bool {
	if l.lim == nil {
		return true
	}
	now := l.now()
	if l.lim.AllowN(now, 1) {
		return true
	}
	l.dropped++
	if now.Sub(l.reported) >= dropReportEvery {
		log.Warn().Str("module", "signal").Str("sid", string(l.sid)).Int("dropped", l.dropped).Msg("rate limited")
		l.reported = now
		l.dropped = 0
	}
	return false
}
