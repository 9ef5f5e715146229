package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubEvents struct {
	events []MacroEvent
	err    error
}

func (s stubEvents) Events(ctx context.Context) ([]MacroEvent, error) {
	return s.events, s.err
}

func TestGuardOpenWithoutEvents(t *testing.T) {
	clk := testClock()
	g := NewMacroGuard(stubEvents{}, clk, 4*time.Hour, 2*time.Hour, time.Hour)

	if v := g.Check(context.Background()); v.Blocked {
		t.Error("guard blocked with an empty calendar")
	}
}

func TestGuardDegradesOnSourceError(t *testing.T) {
	clk := testClock()
	g := NewMacroGuard(stubEvents{err: errors.New("calendar unreachable")}, clk, 4*time.Hour, 2*time.Hour, time.Hour)

	if v := g.Check(context.Background()); v.Blocked {
		t.Error("a broken calendar must not block the strategy")
	}
}

func TestGuardTierLeads(t *testing.T) {
	clk := testClock()
	now := clk.Now()

	cases := []struct {
		name    string
		event   MacroEvent
		blocked bool
	}{
		{"tier1 inside lead", MacroEvent{Name: "FOMC", Tier: 1, Time: now.Add(3 * time.Hour)}, true},
		{"tier1 outside lead", MacroEvent{Name: "FOMC", Tier: 1, Time: now.Add(5 * time.Hour)}, false},
		{"tier2 inside lead", MacroEvent{Name: "CPI", Tier: 2, Time: now.Add(90 * time.Minute)}, true},
		{"tier2 outside lead", MacroEvent{Name: "CPI", Tier: 2, Time: now.Add(3 * time.Hour)}, false},
		{"tier3 never blocks ahead", MacroEvent{Name: "Minor", Tier: 3, Time: now.Add(10 * time.Minute)}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			g := NewMacroGuard(stubEvents{events: []MacroEvent{c.event}}, clk, 4*time.Hour, 2*time.Hour, time.Hour)
			v := g.Check(context.Background())
			if v.Blocked != c.blocked {
				t.Errorf("blocked = %v, want %v", v.Blocked, c.blocked)
			}
			if c.blocked && v.Reason != "upcoming_event" {
				t.Errorf("reason = %s, want upcoming_event", v.Reason)
			}
		})
	}
}

func TestGuardPostEventCooldown(t *testing.T) {
	clk := testClock()
	now := clk.Now()
	g := NewMacroGuard(stubEvents{events: []MacroEvent{
		{Name: "NFP", Tier: 1, Time: now.Add(-30 * time.Minute)},
	}}, clk, 4*time.Hour, 2*time.Hour, time.Hour)

	v := g.Check(context.Background())
	if !v.Blocked || !v.PostEventCooldown {
		t.Fatalf("verdict = %+v, want a post-event block", v)
	}
	if v.Reason != "post_event_cooldown" {
		t.Errorf("reason = %s", v.Reason)
	}

	// Beyond the cooldown the guard reopens.
	g = NewMacroGuard(stubEvents{events: []MacroEvent{
		{Name: "NFP", Tier: 1, Time: now.Add(-2 * time.Hour)},
	}}, clk, 4*time.Hour, 2*time.Hour, time.Hour)
	if v := g.Check(context.Background()); v.Blocked {
		t.Error("guard still blocked after the cooldown elapsed")
	}
}

func TestGuardNearestEventWins(t *testing.T) {
	clk := testClock()
	now := clk.Now()
	g := NewMacroGuard(stubEvents{events: []MacroEvent{
		{Name: "FOMC", Tier: 1, Time: now.Add(3 * time.Hour)},
		{Name: "CPI", Tier: 2, Time: now.Add(1 * time.Hour)},
	}}, clk, 4*time.Hour, 2*time.Hour, time.Hour)

	v := g.Check(context.Background())
	if !v.Blocked {
		t.Fatal("expected a block")
	}
	if v.EventName != "CPI" {
		t.Errorf("event = %s, want the nearest (CPI)", v.EventName)
	}
}
