package collectors

import (
	"time"

	"github.com/sony/gobreaker"
)

// newProviderBreaker guards a third-party provider endpoint: five
// consecutive failures open the circuit for a minute so a dead provider
// stops burning every poll on timeouts.
func newProviderBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
}
