package model

// SourceKind identifies which kind of external repository a resource belongs to.
type SourceKind string

const (
	SourceKindWebDAV SourceKind = "webdav"
	SourceKindS3     SourceKind = "s3"
	SourceKindLocal  SourceKind = "local"
)

// FailureType classifies why a remote-resource operation failed, used by the
// Source Error Tracker (C6) to pick a severity and a retry policy.
type FailureType string

const (
	FailurePathTooLong       FailureType = "path_too_long"
	FailureInvalidCharacters FailureType = "invalid_characters"
	FailurePermissionDenied  FailureType = "permission_denied"
	FailureXMLParseError     FailureType = "xml_parse_error"
	FailureTooManyItems      FailureType = "too_many_items"
	FailureDepthLimit        FailureType = "depth_limit"
	FailureSizeLimit         FailureType = "size_limit"
	FailureTimeout           FailureType = "timeout"
	FailureServerError       FailureType = "server_error"
	FailureNetworkError      FailureType = "network_error"
	FailureUnknown           FailureType = "unknown"
)

// Severity ranks how aggressively a resource should be avoided after a failure.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)
