package clock

import "time"

// Clock abstracts time for the engines and the paper trader so the same
// code runs live (system time) and in backtest (virtual time).
type Clock interface {
	Now() time.Time
	Unix() int64
	// Today returns the current date in UTC, formatted YYYY-MM-DD.
	Today() string
}

// System is the live-mode clock.
type System struct{}

func NewSystem() *System { return &System{} }

func (s *System) Now() time.Time { return time.Now().UTC() }
func (s *System) Unix() int64    { return time.Now().Unix() }
func (s *System) Today() string  { return time.Now().UTC().Format("2006-01-02") }

// Virtual is the backtest clock. It only moves when Advance is called.
type Virtual struct {
	now time.Time
}

func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start.UTC()}
}

func (v *Virtual) Now() time.Time { return v.now }
func (v *Virtual) Unix() int64    { return v.now.Unix() }
func (v *Virtual) Today() string  { return v.now.Format("2006-01-02") }

// Advance moves the clock forward by d.
func (v *Virtual) Advance(d time.Duration) {
	v.now = v.now.Add(d)
}
