// Package fallback implements the extraction fallback strategy: a
// library-vs-XML method selector with per-method circuit breakers, retries,
// a learning cache of which method tends to win per document type, and a
// compare-always mode that runs both and keeps the better result.
package fallback

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/readur/readur/breaker"
)

// Mode selects which extraction strategy to run.
type Mode string

const (
	ModeLibraryFirst Mode = "library_first"
	ModeXMLFirst     Mode = "xml_first"
	ModeCompareAlways Mode = "compare_always"
	ModeLibraryOnly  Mode = "library_only"
	ModeXMLOnly      Mode = "xml_only"
)

const (
	methodLibrary = "library"
	methodXML     = "xml"
)

// Result is one method's extraction outcome, comparable across methods by
// word count and processing time.
type Result struct {
	Text           string
	Confidence     float64
	WordCount      int
	ProcessingTime time.Duration
	MethodName     string
}

// Extractor runs one extraction method against a document's bytes.
type Extractor func(ctx context.Context, data []byte, mimeType string) (Result, error)

// Config configures one Strategy instance.
type Config struct {
	Mode              Mode
	Breaker           breaker.Config
	Retry             breaker.RetryConfig
	LearningTTL       time.Duration // 0 disables expiry; negative disables the learning cache
	TimeImprovementOverride       float64 // switch preference if old-average/new time ratio exceeds this
	ConfidenceImprovementOverride float64 // switch preference if new/old confidence ratio exceeds this
}

// DefaultConfig mirrors the spec's defaults: 3 retries/1s initial backoff,
// breaker trips after 5 consecutive failures with a 60s recovery window,
// 24h learning cache TTL, and the 1.2x/1.1x preference-switch thresholds.
func DefaultConfig(mode Mode) Config {
	return Config{
		Mode: mode,
		Breaker: breaker.Config{
			FailureThreshold:        5,
			RecoveryTimeout:         60 * time.Second,
			SuccessThresholdPercent: 50,
			MinProbes:               10,
		},
		Retry: breaker.RetryConfig{
			MaxRetries:        3,
			InitialDelay:      time.Second,
			BackoffMultiplier: 2,
			MaxDelay:          30 * time.Second,
			RateLimitBackoff:  2 * time.Second,
		},
		LearningTTL:                   24 * time.Hour,
		TimeImprovementOverride:       1.2,
		ConfidenceImprovementOverride: 1.1,
	}
}

// Strategy runs extraction with library/XML fallback, per the configured
// Mode, protecting each method behind its own circuit breaker and retry
// policy and recording outcomes into a learning cache and running stats.
type Strategy struct {
	cfg     Config
	log     *logrus.Logger
	library Extractor
	xml     Extractor

	breakersMu sync.Mutex
	breakers   map[string]*breaker.CircuitBreaker

	cache *learningCache
	stats *Stats
}

// New constructs a Strategy. library and xml are the two extraction
// backends this strategy chooses between; either may be nil if the caller's
// Mode never invokes it (e.g. ModeLibraryOnly never calls xml).
func New(cfg Config, library, xml Extractor, log *logrus.Logger) *Strategy {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Strategy{
		cfg:      cfg,
		log:      log,
		library:  library,
		xml:      xml,
		breakers: make(map[string]*breaker.CircuitBreaker),
		cache:    newLearningCache(cfg.LearningTTL),
		stats:    newStats(),
	}
}

// Extract runs the configured Mode for one document.
func (s *Strategy) Extract(ctx context.Context, data []byte, mimeType string) (Result, error) {
	docType := documentType(mimeType)
	s.stats.incrTotal()

	if rand.Intn(100) == 0 {
		s.cache.cleanupExpired()
	}

	var result Result
	var err error

	switch s.cfg.Mode {
	case ModeLibraryFirst:
		result, err = s.libraryFirst(ctx, data, mimeType, docType)
	case ModeXMLFirst:
		result, err = s.xmlFirst(ctx, data, mimeType, docType)
	case ModeCompareAlways:
		result, err = s.compareAlways(ctx, data, mimeType, docType)
	case ModeLibraryOnly:
		result, err = s.tryMethod(ctx, methodLibrary, s.library, data, mimeType)
		if err == nil {
			s.stats.incrLibrarySuccess()
			s.cache.recordSuccess(docType, result, s.cfg)
		}
	case ModeXMLOnly:
		result, err = s.tryMethod(ctx, methodXML, s.xml, data, mimeType)
		if err == nil {
			s.stats.incrXMLSuccess()
			s.cache.recordSuccess(docType, result, s.cfg)
		}
	default:
		return Result{}, fmt.Errorf("fallback: unknown mode %q", s.cfg.Mode)
	}

	return result, err
}

func (s *Strategy) libraryFirst(ctx context.Context, data []byte, mimeType, docType string) (Result, error) {
	if pref, ok := s.cache.preferredMethod(docType); ok && pref == methodXML {
		if r, err := s.tryMethod(ctx, methodXML, s.xml, data, mimeType); err == nil {
			s.stats.incrXMLSuccess()
			s.cache.recordSuccess(docType, r, s.cfg)
			return r, nil
		}
		s.log.WithField("document_type", docType).Debug("learned XML preference failed, falling back to library")
	}

	r, err := s.tryMethod(ctx, methodLibrary, s.library, data, mimeType)
	if err == nil {
		s.stats.incrLibrarySuccess()
		s.cache.recordSuccess(docType, r, s.cfg)
		return r, nil
	}

	libraryErr := err
	s.stats.incrFallbackUsed()
	r, err = s.tryMethod(ctx, methodXML, s.xml, data, mimeType)
	if err != nil {
		return Result{}, fmt.Errorf("all extraction methods failed: library: %v, xml: %w", libraryErr, err)
	}
	s.stats.incrXMLSuccess()
	s.cache.recordSuccess(docType, r, s.cfg)
	return r, nil
}

func (s *Strategy) xmlFirst(ctx context.Context, data []byte, mimeType, docType string) (Result, error) {
	if pref, ok := s.cache.preferredMethod(docType); ok && pref == methodLibrary {
		if r, err := s.tryMethod(ctx, methodLibrary, s.library, data, mimeType); err == nil {
			s.stats.incrLibrarySuccess()
			s.cache.recordSuccess(docType, r, s.cfg)
			return r, nil
		}
		s.log.WithField("document_type", docType).Debug("learned library preference failed, falling back to xml")
	}

	r, err := s.tryMethod(ctx, methodXML, s.xml, data, mimeType)
	if err == nil {
		s.stats.incrXMLSuccess()
		s.cache.recordSuccess(docType, r, s.cfg)
		return r, nil
	}

	xmlErr := err
	s.stats.incrFallbackUsed()
	r, err = s.tryMethod(ctx, methodLibrary, s.library, data, mimeType)
	if err != nil {
		return Result{}, fmt.Errorf("all extraction methods failed: xml: %v, library: %w", xmlErr, err)
	}
	s.stats.incrLibrarySuccess()
	s.cache.recordSuccess(docType, r, s.cfg)
	return r, nil
}

func (s *Strategy) compareAlways(ctx context.Context, data []byte, mimeType, docType string) (Result, error) {
	libResult, libErr := s.tryMethod(ctx, methodLibrary, s.library, data, mimeType)
	xmlResult, xmlErr := s.tryMethod(ctx, methodXML, s.xml, data, mimeType)

	switch {
	case libErr == nil && xmlErr == nil:
		s.stats.incrLibrarySuccess()
		s.stats.incrXMLSuccess()
		chosen := libResult
		if xmlResult.WordCount > libResult.WordCount ||
			(xmlResult.WordCount == libResult.WordCount && xmlResult.ProcessingTime < libResult.ProcessingTime) {
			chosen = xmlResult
		}
		s.cache.recordSuccess(docType, chosen, s.cfg)
		return chosen, nil
	case libErr == nil:
		s.stats.incrLibrarySuccess()
		s.cache.recordSuccess(docType, libResult, s.cfg)
		return libResult, nil
	case xmlErr == nil:
		s.stats.incrXMLSuccess()
		s.cache.recordSuccess(docType, xmlResult, s.cfg)
		return xmlResult, nil
	default:
		return Result{}, fmt.Errorf("all extraction methods failed: library: %v, xml: %v", libErr, xmlErr)
	}
}

// tryMethod runs fn under method's circuit breaker and retry policy.
func (s *Strategy) tryMethod(ctx context.Context, method string, fn Extractor, data []byte, mimeType string) (Result, error) {
	if fn == nil {
		return Result{}, fmt.Errorf("fallback: method %q has no extractor configured", method)
	}

	cb := s.breakerFor(method)
	if err := cb.Allow(); err != nil {
		return Result{}, fmt.Errorf("circuit breaker open for %s extraction: %w", method, err)
	}

	var result Result
	execErr := breaker.Execute(ctx, s.cfg.Retry, func(ctx context.Context) error {
		r, err := fn(ctx, data, mimeType)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	if execErr != nil {
		cb.RecordFailure()
		if cb.State() == breaker.StateOpen {
			s.stats.incrCircuitBreakerTrips()
		}
		return Result{}, execErr
	}

	cb.RecordSuccess()
	return result, nil
}

func (s *Strategy) breakerFor(method string) *breaker.CircuitBreaker {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()
	cb, ok := s.breakers[method]
	if !ok {
		cb = breaker.New(s.cfg.Breaker)
		s.breakers[method] = cb
	}
	return cb
}

// Stats returns a read-only snapshot of the running statistics.
func (s *Strategy) Stats() StatsSnapshot {
	return s.stats.snapshot()
}

func documentType(mimeType string) string {
	switch mimeType {
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return "xlsx"
	case "application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return "pptx"
	case "application/msword":
		return "doc"
	case "application/vnd.ms-excel":
		return "xls"
	case "application/vnd.ms-powerpoint":
		return "ppt"
	case "application/pdf":
		return "pdf"
	default:
		return "unknown"
	}
}
