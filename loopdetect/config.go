// Package loopdetect tracks per-resource access frequency, concurrency, and
// cyclic visitation patterns so that a runaway re-scan of the same directory
// (or any other repeatedly-visited resource) is aborted before it consumes
// the system. It is a leaf package; within this module only cmd/readur-sync
// constructs and calls a Detector (the webdavsync and fallback packages do
// not import it).
package loopdetect

import "time"

// Config tunes the five detection rules and the detector's own
// self-protection (bounds, cleanup cadence, internal circuit breaker).
type Config struct {
	Enabled bool

	MaxAccessCount    int
	TimeWindow        time.Duration
	MaxScanDuration   time.Duration
	MinScanInterval   time.Duration
	MaxPatternDepth   int

	EnablePatternAnalysis bool

	MaxTrackedDirectories int

	CircuitBreakerFailureThreshold int
	CircuitBreakerTimeout          time.Duration
	EnableGracefulDegradation      bool

	MutexTimeout time.Duration
}

// DefaultConfig mirrors the library-default profile.
func DefaultConfig() Config {
	return Config{
		Enabled:                        true,
		MaxAccessCount:                 3,
		TimeWindow:                     300 * time.Second,
		MaxScanDuration:                60 * time.Second,
		MinScanInterval:                5 * time.Second,
		MaxPatternDepth:                10,
		EnablePatternAnalysis:          true,
		MaxTrackedDirectories:          1000,
		CircuitBreakerFailureThreshold: 5,
		CircuitBreakerTimeout:          300 * time.Second,
		EnableGracefulDegradation:      true,
		MutexTimeout:                   100 * time.Millisecond,
	}
}

// ProductionConfig trades leniency for tighter resource bounds.
func ProductionConfig() Config {
	return Config{
		Enabled:                        true,
		MaxAccessCount:                 3,
		TimeWindow:                     300 * time.Second,
		MaxScanDuration:                120 * time.Second,
		MinScanInterval:                10 * time.Second,
		MaxPatternDepth:                5,
		EnablePatternAnalysis:          true,
		MaxTrackedDirectories:          500,
		CircuitBreakerFailureThreshold: 3,
		CircuitBreakerTimeout:          300 * time.Second,
		EnableGracefulDegradation:      true,
		MutexTimeout:                   200 * time.Millisecond,
	}
}

// DevelopmentConfig is more lenient and logs more, for local iteration.
func DevelopmentConfig() Config {
	return Config{
		Enabled:                        true,
		MaxAccessCount:                 5,
		TimeWindow:                     180 * time.Second,
		MaxScanDuration:                60 * time.Second,
		MinScanInterval:                2 * time.Second,
		MaxPatternDepth:                10,
		EnablePatternAnalysis:          true,
		MaxTrackedDirectories:          100,
		CircuitBreakerFailureThreshold: 5,
		CircuitBreakerTimeout:          60 * time.Second,
		EnableGracefulDegradation:      true,
		MutexTimeout:                   500 * time.Millisecond,
	}
}

// MinimalConfig disables pattern analysis and keeps the detector's own
// footprint small, for constrained deployments.
func MinimalConfig() Config {
	return Config{
		Enabled:                        true,
		MaxAccessCount:                 10,
		TimeWindow:                     600 * time.Second,
		MaxScanDuration:                300 * time.Second,
		MinScanInterval:                1 * time.Second,
		MaxPatternDepth:                3,
		EnablePatternAnalysis:          false,
		MaxTrackedDirectories:          50,
		CircuitBreakerFailureThreshold: 10,
		CircuitBreakerTimeout:          600 * time.Second,
		EnableGracefulDegradation:      true,
		MutexTimeout:                   50 * time.Millisecond,
	}
}
