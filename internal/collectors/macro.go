package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cascade-trader/internal/engine"
	"cascade-trader/internal/logging"
)

// MacroCalendar loads scheduled macro events (CPI, FOMC, NFP, ...) from
// a JSON file and serves them to the macro guard. The file is re-read on
// Refresh so the calendar can be updated without a restart.
type MacroCalendar struct {
	path string
	log  zerolog.Logger

	mu     sync.RWMutex
	events []engine.MacroEvent
}

func NewMacroCalendar(path string) *MacroCalendar {
	return &MacroCalendar{path: path, log: logging.Component("macro_calendar")}
}

type calendarEntry struct {
	Name      string `json:"name"`
	Tier      int    `json:"tier"` // 1|2|3
	Timestamp int64  `json:"timestamp"`
	Time      string `json:"time,omitempty"` // RFC 3339, legacy files
}

// eventTime resolves the entry's scheduled time: epoch seconds, with an
// RFC 3339 fallback for hand-written calendars.
func (e calendarEntry) eventTime() (time.Time, error) {
	if e.Timestamp > 0 {
		return time.Unix(e.Timestamp, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, e.Time)
}

// Refresh re-reads the calendar file. A missing file clears the
// calendar; a malformed one keeps the previous events.
func (c *MacroCalendar) Refresh(ctx context.Context) error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.mu.Lock()
			c.events = nil
			c.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read calendar: %w", err)
	}

	var entries []calendarEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]engine.MacroEvent, 0, len(entries))
	for _, e := range entries {
		ts, err := e.eventTime()
		if err != nil {
			c.log.Warn().Str("event", e.Name).Msg("bad event time, skipped")
			continue
		}
		tier := e.Tier
		if tier < 1 || tier > 3 {
			tier = 3
		}
		events = append(events, engine.MacroEvent{Name: e.Name, Tier: tier, Time: ts})
	}

	c.mu.Lock()
	c.events = events
	c.mu.Unlock()
	c.log.Debug().Int("events", len(events)).Msg("macro calendar refreshed")
	return nil
}

// Events serves the cached calendar; it never blocks on I/O.
func (c *MacroCalendar) Events(ctx context.Context) ([]engine.MacroEvent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]engine.MacroEvent, len(c.events))
	copy(out, c.events)
	return out, nil
}

// EmptyCalendar is the backtest event source: no macro events, the guard
// stays open.
type EmptyCalendar struct{}

func (EmptyCalendar) Events(ctx context.Context) ([]engine.MacroEvent, error) {
	return nil, nil
}
