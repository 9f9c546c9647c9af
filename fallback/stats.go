package fallback

import (
	"sync"
)

// StatsSnapshot is a point-in-time read of Stats, safe to copy and log.
type StatsSnapshot struct {
	TotalExtractions      uint64
	LibrarySuccesses      uint64
	XMLSuccesses          uint64
	FallbackUsed          uint64
	CircuitBreakerTrips   uint64
	SuccessRatePercentage float64
}

// Stats accumulates running counters under a sync.Mutex, but every update
// uses TryLock and silently drops the update on contention rather than
// blocking the extraction hot path — a stats counter lagging by one
// increment under load is cheaper than serializing every extraction on a
// single mutex.
type Stats struct {
	mu sync.Mutex

	totalExtractions    uint64
	librarySuccesses    uint64
	xmlSuccesses        uint64
	fallbackUsed        uint64
	circuitBreakerTrips uint64
}

func newStats() *Stats {
	return &Stats{}
}

func (s *Stats) tryUpdate(fn func()) {
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()
	fn()
}

func (s *Stats) incrTotal()               { s.tryUpdate(func() { s.totalExtractions++ }) }
func (s *Stats) incrLibrarySuccess()      { s.tryUpdate(func() { s.librarySuccesses++ }) }
func (s *Stats) incrXMLSuccess()          { s.tryUpdate(func() { s.xmlSuccesses++ }) }
func (s *Stats) incrFallbackUsed()        { s.tryUpdate(func() { s.fallbackUsed++ }) }
func (s *Stats) incrCircuitBreakerTrips() { s.tryUpdate(func() { s.circuitBreakerTrips++ }) }

func (s *Stats) snapshot() StatsSnapshot {
	var out StatsSnapshot
	s.tryUpdate(func() {
		out = StatsSnapshot{
			TotalExtractions:    s.totalExtractions,
			LibrarySuccesses:    s.librarySuccesses,
			XMLSuccesses:        s.xmlSuccesses,
			FallbackUsed:        s.fallbackUsed,
			CircuitBreakerTrips: s.circuitBreakerTrips,
		}
		if out.TotalExtractions > 0 {
			out.SuccessRatePercentage = 100 * float64(out.LibrarySuccesses+out.XMLSuccesses) / float64(out.TotalExtractions)
		}
	})
	return out
}
