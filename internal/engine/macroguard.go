package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/logging"
)

// MacroEvent is a scheduled macro release (CPI, FOMC, NFP, ...).
type MacroEvent struct {
	Name string
	Tier int // 1 = highest impact
	Time time.Time
}

// EventSource supplies upcoming macro events. Live mode reads the
// calendar file; backtests plug in an empty source.
type EventSource interface {
	Events(ctx context.Context) ([]MacroEvent, error)
}

// GuardVerdict is the macro guard's answer for the current instant.
type GuardVerdict struct {
	Blocked           bool
	Reason            string
	EventName         string
	HoursUntil        float64
	Tier              int
	PostEventCooldown bool
}

// MacroGuard blocks new directional entries around high-impact macro
// events. Tier decides the pre-event lead; every event carries a fixed
// post-event cooldown.
type MacroGuard struct {
	source   EventSource
	clock    clock.Clock
	log      zerolog.Logger
	leads    map[int]time.Duration
	cooldown time.Duration
}

func NewMacroGuard(source EventSource, clk clock.Clock, tier1Lead, tier2Lead, cooldown time.Duration) *MacroGuard {
	return &MacroGuard{
		source: source,
		clock:  clk,
		log:    logging.Component("macro_guard"),
		leads: map[int]time.Duration{
			1: tier1Lead,
			2: tier2Lead,
			3: 0,
		},
		cooldown: cooldown,
	}
}

// Check evaluates all known events against the current time and returns
// the verdict for the nearest blocking event. Errors from the event
// source degrade to "not blocked": a broken calendar must not freeze the
// strategy.
func (g *MacroGuard) Check(ctx context.Context) GuardVerdict {
	events, err := g.source.Events(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("event source failed, guard open")
		return GuardVerdict{}
	}

	now := g.clock.Now()
	verdict := GuardVerdict{}
	nearest := time.Duration(1<<62 - 1)

	for _, ev := range events {
		until := ev.Time.Sub(now)

		// Post-event cooldown window.
		if until <= 0 && until >= -g.cooldown {
			if -until < nearest {
				nearest = -until
				verdict = GuardVerdict{
					Blocked:           true,
					Reason:            "post_event_cooldown",
					EventName:         ev.Name,
					HoursUntil:        0,
					Tier:              ev.Tier,
					PostEventCooldown: true,
				}
			}
			continue
		}

		lead := g.leads[ev.Tier]
		if until > 0 && until <= lead {
			if until < nearest {
				nearest = until
				verdict = GuardVerdict{
					Blocked:    true,
					Reason:     "upcoming_event",
					EventName:  ev.Name,
					HoursUntil: until.Hours(),
					Tier:       ev.Tier,
				}
			}
		}
	}
	return verdict
}
