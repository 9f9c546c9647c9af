// Package sourceerrors implements the Source Error Tracker (C6): a
// persisted per-resource failure ledger with a skip/retry policy, so that
// repeat scans of a remote source do not keep re-hitting the same bad paths.
package sourceerrors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/readur/readur/model"
)

// Repository is the persistence boundary this tracker needs from C2.
type Repository interface {
	GetActiveError(ctx context.Context, owner uuid.UUID, kind model.SourceKind, sourceID *uuid.UUID, path string) (*model.SourceErrorRecord, error)
	UpsertError(ctx context.Context, rec *model.SourceErrorRecord) error
	ResolveError(ctx context.Context, owner uuid.UUID, kind model.SourceKind, sourceID *uuid.UUID, path string) error
}

// Tracker classifies failures, decides retry/skip policy, and persists the
// resulting ledger through Repository.
type Tracker struct {
	repo       Repository
	maxRetries int
}

// New constructs a Tracker. maxRetries bounds lifetime attempts before a
// resource is treated as excluded until the user intervenes.
func New(repo Repository, maxRetries int) *Tracker {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return &Tracker{repo: repo, maxRetries: maxRetries}
}

// Classify maps a raw error into a FailureType and Severity per the
// component's classification table. statusCode is 0 when not an HTTP error.
func Classify(err error, statusCode int) (model.FailureType, model.Severity) {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "path too long") || strings.Contains(msg, "name too long"):
		return model.FailurePathTooLong, model.SeverityCritical
	case strings.Contains(msg, "invalid character"):
		return model.FailureInvalidCharacters, model.SeverityCritical
	case strings.Contains(msg, "permission denied") || statusCode == 403:
		return model.FailurePermissionDenied, model.SeverityHigh
	case strings.Contains(msg, "xml") && strings.Contains(msg, "parse"):
		return model.FailureXMLParseError, model.SeverityHigh
	case strings.Contains(msg, "too many items") || strings.Contains(msg, "too many entries"):
		return model.FailureTooManyItems, model.SeverityHigh
	case strings.Contains(msg, "depth limit"):
		return model.FailureDepthLimit, model.SeverityHigh
	case strings.Contains(msg, "size limit") || strings.Contains(msg, "too large"):
		return model.FailureSizeLimit, model.SeverityHigh
	case statusCode == 404:
		return model.FailureServerError, model.SeverityCritical
	case strings.Contains(msg, "timeout"):
		return model.FailureTimeout, model.SeverityMedium
	case statusCode >= 500 && statusCode != 501:
		return model.FailureServerError, model.SeverityMedium
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "dns"):
		return model.FailureNetworkError, model.SeverityLow
	default:
		switch {
		case strings.Contains(msg, "timeout"):
			return model.FailureUnknown, model.SeverityMedium
		case strings.Contains(msg, "forbidden"):
			return model.FailureUnknown, model.SeverityHigh
		case strings.Contains(msg, "not found"):
			return model.FailureUnknown, model.SeverityCritical
		default:
			return model.FailureUnknown, model.SeverityMedium
		}
	}
}

// ShouldSkip reports whether a resource should be skipped without attempting
// an operation: user-excluded, or a high/critical-severity record with more
// than 3 failures, or a next-retry deadline still in the future.
func (t *Tracker) ShouldSkip(ctx context.Context, owner uuid.UUID, kind model.SourceKind, sourceID *uuid.UUID, path string) (bool, error) {
	rec, err := t.repo.GetActiveError(ctx, owner, kind, sourceID, path)
	if err != nil {
		return false, fmt.Errorf("loading source error record: %w", err)
	}
	if rec == nil {
		return false, nil
	}
	if rec.UserExcluded {
		return true, nil
	}
	if (rec.Severity == model.SeverityCritical || rec.Severity == model.SeverityHigh) && rec.FailureCount > 3 {
		return true, nil
	}
	if rec.NextRetryAt != nil && rec.NextRetryAt.After(time.Now()) {
		return true, nil
	}
	return false, nil
}

// MarkSuccess resolves any active error record for the resource and resets
// its consecutive-failure counter.
func (t *Tracker) MarkSuccess(ctx context.Context, owner uuid.UUID, kind model.SourceKind, sourceID *uuid.UUID, path string) error {
	return t.repo.ResolveError(ctx, owner, kind, sourceID, path)
}

// TrackError classifies err, grows the ledger's failure counters, computes
// the next retry deadline from severity and failure count, and persists the
// updated record.
func (t *Tracker) TrackError(ctx context.Context, owner uuid.UUID, kind model.SourceKind, sourceID *uuid.UUID, path string, err error, statusCode int) error {
	failureType, severity := Classify(err, statusCode)

	existing, lookupErr := t.repo.GetActiveError(ctx, owner, kind, sourceID, path)
	if lookupErr != nil {
		return fmt.Errorf("loading source error record: %w", lookupErr)
	}

	now := time.Now()
	rec := existing
	if rec == nil {
		rec = &model.SourceErrorRecord{
			ID:           uuid.New(),
			OwnerID:      owner,
			SourceKind:   kind,
			SourceID:     sourceID,
			ResourcePath: path,
			FirstFailureAt: now,
		}
	}

	rec.FailureCount++
	rec.ConsecutiveFailures++
	rec.LastFailureAt = now
	rec.Severity = severity
	rec.FailureType = failureType
	rec.Resolved = false

	if rec.FailureCount > t.maxRetries {
		rec.UserExcluded = true
	}

	next := nextRetryAt(severity, rec.FailureCount, now)
	rec.NextRetryAt = &next

	return t.repo.UpsertError(ctx, rec)
}

// nextRetryAt grows exponentially with a severity-dependent base delay.
func nextRetryAt(severity model.Severity, failureCount int, now time.Time) time.Time {
	base := 30 * time.Second
	switch severity {
	case model.SeverityCritical:
		base = 4 * time.Hour
	case model.SeverityHigh:
		base = 30 * time.Minute
	case model.SeverityMedium:
		base = 5 * time.Minute
	case model.SeverityLow:
		base = 30 * time.Second
	}

	exp := failureCount
	if exp > 6 {
		exp = 6 // cap growth to avoid integer overflow / absurd deadlines
	}
	delay := base
	for i := 1; i < exp; i++ {
		delay *= 2
	}
	return now.Add(delay)
}
