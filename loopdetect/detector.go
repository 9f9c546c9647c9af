package loopdetect

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LoopType identifies which of the five detection rules fired.
type LoopType string

const (
	LoopImmediateReScan  LoopType = "immediate_rescan"
	LoopConcurrentAccess LoopType = "concurrent_access"
	LoopFrequentReAccess LoopType = "frequent_reaccess"
	LoopCircularPattern  LoopType = "circular_pattern"
	LoopStuckScan        LoopType = "stuck_scan"
)

// Error is returned by StartAccess (or surfaced by CompleteAccess for
// StuckScan, which is only known at completion time) when a detection rule
// fires.
type Error struct {
	Type     LoopType
	Resource string
	Detail   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("loop detection: %s on %q: %s", e.Type, e.Resource, e.Detail)
}

// ErrMutexTimeout is returned internally when the bounded mutex cannot be
// acquired within Config.MutexTimeout and graceful degradation is disabled.
type ErrMutexTimeout struct{}

func (ErrMutexTimeout) Error() string { return "loop detector: mutex acquisition timed out" }

type accessRecord struct {
	id          uuid.UUID
	resource    string
	operation   string
	startedAt   time.Time
	completedAt time.Time
	filesFound  *int
	subdirs     *int
	errMsg      *string
}

// Metrics is a read-only snapshot of detection activity, surfaced to callers
// for structured logging (no metrics/HTTP surface is implemented here).
type Metrics struct {
	TotalAccessesStarted   int
	TotalAccessesCompleted int
	RuleFireCounts         map[LoopType]int
	AvgScanDuration        time.Duration
	selfBreakerTrips       int
}

// Result is returned by StartAccess on success, and carries the diagnostic
// context CompleteAccess needs.
type Result struct {
	AccessID      uuid.UUID
	Degraded      bool // true if returned via graceful-degradation fail-open
}

// Detector implements the five-rule loop detection algorithm described in
// the component design, including its own bounded caches, cleanup sweep, and
// internal circuit breaker protecting the detector itself from its own
// bookkeeping errors.
type Detector struct {
	cfg Config

	lock chan struct{} // capacity-1 channel used as a bounded-timeout mutex

	active   map[string]*accessRecord
	history  []*accessRecord // bounded FIFO of completed accesses
	patterns []string        // global recency-ordered sequence of resources visited
	lastSeen map[string]time.Time

	metrics Metrics

	selfBreaker selfBreaker

	lastCleanup time.Time
}

type selfBreaker struct {
	consecutiveFailures int
	open                bool
	openedAt            time.Time
}

// New constructs a Detector. Pass ProductionConfig(), DevelopmentConfig(),
// MinimalConfig(), or DefaultConfig().
func New(cfg Config) *Detector {
	return &Detector{
		cfg:      cfg,
		lock:     make(chan struct{}, 1),
		active:   make(map[string]*accessRecord),
		lastSeen: make(map[string]time.Time),
		metrics:  Metrics{RuleFireCounts: make(map[LoopType]int)},
	}
}

func (d *Detector) tryLock(timeout time.Duration) bool {
	select {
	case d.lock <- struct{}{}:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (d *Detector) unlock() {
	<-d.lock
}

// StartAccess evaluates the four start-time rules (ImmediateReScan,
// ConcurrentAccess, FrequentReAccess, CircularPattern) in order and, if none
// fire, registers the access and returns its id. If the internal mutex
// cannot be acquired within Config.MutexTimeout, this fails open (returns a
// synthetic access id with Degraded=true) when graceful degradation is
// enabled; otherwise it returns ErrMutexTimeout.
func (d *Detector) StartAccess(resource, operation string) (Result, error) {
	if !d.cfg.Enabled || d.selfBreakerOpen() {
		return Result{AccessID: uuid.New(), Degraded: true}, nil
	}

	if !d.tryLock(d.cfg.MutexTimeout) {
		if d.cfg.EnableGracefulDegradation {
			return Result{AccessID: uuid.New(), Degraded: true}, nil
		}
		return Result{}, ErrMutexTimeout{}
	}
	defer d.unlock()

	d.maybeCleanup()

	now := time.Now()

	if last, ok := d.lastSeen[resource]; ok && now.Sub(last) < d.cfg.MinScanInterval {
		d.recordRuleFire(LoopImmediateReScan)
		return Result{}, &Error{Type: LoopImmediateReScan, Resource: resource, Detail: "re-scanned before MinScanInterval elapsed"}
	}

	if _, inFlight := d.active[resource]; inFlight {
		d.recordRuleFire(LoopConcurrentAccess)
		return Result{}, &Error{Type: LoopConcurrentAccess, Resource: resource, Detail: "resource already has an active access"}
	}

	count := d.completedWithinWindow(resource, now)
	if count >= d.cfg.MaxAccessCount {
		d.recordRuleFire(LoopFrequentReAccess)
		return Result{}, &Error{Type: LoopFrequentReAccess, Resource: resource, Detail: fmt.Sprintf("%d completed accesses within window", count)}
	}

	if d.cfg.EnablePatternAnalysis {
		if d.hasCycleEndingAt(resource) {
			d.recordRuleFire(LoopCircularPattern)
			return Result{}, &Error{Type: LoopCircularPattern, Resource: resource, Detail: "cyclic visitation pattern detected"}
		}
	}

	id := uuid.New()
	d.active[resource] = &accessRecord{id: id, resource: resource, operation: operation, startedAt: now}
	d.lastSeen[resource] = now
	d.appendPattern(resource)
	d.evictIfOverCapacity()
	d.metrics.TotalAccessesStarted++

	return Result{AccessID: id}, nil
}

// CompleteAccess finalizes an access, moving it from active to history (the
// resource was already appended to the pattern by StartAccess). If the access ran longer than
// Config.MaxScanDuration it is reported as StuckScan via the returned error,
// though the record is still finalized (the caller's work is already done by
// the time completion is observed).
func (d *Detector) CompleteAccess(resource string, accessID uuid.UUID, filesFound, subdirsFound *int, accessErr error) error {
	if !d.tryLock(d.cfg.MutexTimeout) {
		if d.cfg.EnableGracefulDegradation {
			return nil
		}
		return ErrMutexTimeout{}
	}
	defer d.unlock()

	rec, ok := d.active[resource]
	if !ok || rec.id != accessID {
		return nil
	}
	delete(d.active, resource)

	rec.completedAt = time.Now()
	rec.filesFound = filesFound
	rec.subdirs = subdirsFound
	if accessErr != nil {
		msg := accessErr.Error()
		rec.errMsg = &msg
		d.recordSelfFailure()
	} else {
		d.recordSelfSuccess()
	}

	d.history = append(d.history, rec)
	d.trimHistory()
	d.metrics.TotalAccessesCompleted++
	d.updateAvgDuration(rec.completedAt.Sub(rec.startedAt))

	duration := rec.completedAt.Sub(rec.startedAt)
	if duration > d.cfg.MaxScanDuration {
		d.recordRuleFire(LoopStuckScan)
		return &Error{Type: LoopStuckScan, Resource: resource, Detail: fmt.Sprintf("scan took %s, exceeding %s", duration, d.cfg.MaxScanDuration)}
	}
	return nil
}

// Metrics returns a snapshot of detection counters, for structured logging.
func (d *Detector) Metrics() Metrics {
	if !d.tryLock(d.cfg.MutexTimeout) {
		return Metrics{}
	}
	defer d.unlock()
	cp := d.metrics
	cp.RuleFireCounts = make(map[LoopType]int, len(d.metrics.RuleFireCounts))
	for k, v := range d.metrics.RuleFireCounts {
		cp.RuleFireCounts[k] = v
	}
	return cp
}

func (d *Detector) completedWithinWindow(resource string, now time.Time) int {
	count := 0
	for _, rec := range d.history {
		if rec.resource != resource {
			continue
		}
		if now.Sub(rec.completedAt) <= d.cfg.TimeWindow {
			count++
		}
	}
	return count
}

// hasCycleEndingAt reports whether resource appears anywhere in the last
// MaxPatternDepth entries of the global visitation sequence, which would
// mean starting a new access to it closes a cycle A -> ... -> A.
func (d *Detector) hasCycleEndingAt(resource string) bool {
	depth := d.cfg.MaxPatternDepth
	n := len(d.patterns)
	start := n - depth
	if start < 0 {
		start = 0
	}
	for i := start; i < n; i++ {
		if d.patterns[i] == resource {
			return true
		}
	}
	return false
}

func (d *Detector) appendPattern(resource string) {
	d.patterns = append(d.patterns, resource)
	maxKeep := d.cfg.MaxPatternDepth * 4
	if maxKeep > 0 && len(d.patterns) > maxKeep {
		d.patterns = d.patterns[len(d.patterns)-maxKeep:]
	}
}

func (d *Detector) trimHistory() {
	maxKeep := d.cfg.MaxTrackedDirectories
	if maxKeep > 0 && len(d.history) > maxKeep {
		d.history = d.history[len(d.history)-maxKeep:]
	}
}

// evictIfOverCapacity removes the least-recently-accessed resources from
// lastSeen (and consequently they become eligible for re-tracking) once the
// tracked set exceeds MaxTrackedDirectories.
func (d *Detector) evictIfOverCapacity() {
	if d.cfg.MaxTrackedDirectories <= 0 || len(d.lastSeen) <= d.cfg.MaxTrackedDirectories {
		return
	}
	oldestResource := ""
	var oldestTime time.Time
	for r, t := range d.lastSeen {
		if _, inFlight := d.active[r]; inFlight {
			continue
		}
		if oldestResource == "" || t.Before(oldestTime) {
			oldestResource = r
			oldestTime = t
		}
	}
	if oldestResource != "" {
		delete(d.lastSeen, oldestResource)
	}
}

// maybeCleanup prunes history entries older than the time window, at most
// once every 60 seconds (time-based, not per-operation).
func (d *Detector) maybeCleanup() {
	now := time.Now()
	if now.Sub(d.lastCleanup) < 60*time.Second {
		return
	}
	d.lastCleanup = now

	cutoff := now.Add(-d.cfg.TimeWindow)
	kept := d.history[:0]
	for _, rec := range d.history {
		if rec.completedAt.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	d.history = kept
}

func (d *Detector) recordRuleFire(t LoopType) {
	d.metrics.RuleFireCounts[t]++
}

func (d *Detector) updateAvgDuration(sample time.Duration) {
	if d.metrics.TotalAccessesCompleted <= 1 {
		d.metrics.AvgScanDuration = sample
		return
	}
	n := time.Duration(d.metrics.TotalAccessesCompleted)
	d.metrics.AvgScanDuration = (d.metrics.AvgScanDuration*(n-1) + sample) / n
}

// --- self-protection circuit breaker (distinct from package breaker; see
// SPEC_FULL.md §11.4: the loop detector must remain independently operable
// even if the general-purpose circuit breaker harness itself is unhealthy).

func (d *Detector) recordSelfFailure() {
	d.selfBreaker.consecutiveFailures++
	if d.selfBreaker.consecutiveFailures >= d.cfg.CircuitBreakerFailureThreshold {
		d.selfBreaker.open = true
		d.selfBreaker.openedAt = time.Now()
		d.metrics.selfBreakerTrips++
	}
}

func (d *Detector) recordSelfSuccess() {
	d.selfBreaker.consecutiveFailures = 0
}

func (d *Detector) selfBreakerOpen() bool {
	if !d.selfBreaker.open {
		return false
	}
	if time.Since(d.selfBreaker.openedAt) >= d.cfg.CircuitBreakerTimeout {
		d.selfBreaker.open = false
		d.selfBreaker.consecutiveFailures = 0
		return false
	}
	return true
}
