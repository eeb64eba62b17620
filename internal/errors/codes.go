// Package errors provides structured error handling for ragscraper.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (index artifacts, document store)
//   - 3XX: Upstream errors (embedding model, broker, crawl targets)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryStorage    Category = "STORAGE"
	CategoryUpstream   Category = "UPSTREAM"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeFileNotFound      = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission    = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull          = "ERR_203_DISK_FULL"
	ErrCodeCorruptIndex      = "ERR_205_CORRUPT_INDEX"
	ErrCodeInconsistentIndex = "ERR_207_INCONSISTENT_INDEX"
	ErrCodeIndexLocked       = "ERR_208_INDEX_LOCKED"
	ErrCodeDocumentNotFound  = "ERR_209_DOCUMENT_NOT_FOUND"
	ErrCodeStoreUnavailable  = "ERR_210_STORE_UNAVAILABLE"
	ErrCodePersistFailed     = "ERR_211_PERSIST_FAILED"
	ErrCodeCorruptDocument   = "ERR_212_CORRUPT_DOCUMENT"

	// Upstream errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeBrokerUnavailable  = "ERR_303_BROKER_UNAVAILABLE"
	ErrCodeFetchFailed        = "ERR_304_FETCH_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryTooShort     = "ERR_404_QUERY_TOO_SHORT"
	ErrCodeInvalidPayload    = "ERR_406_INVALID_PAYLOAD"
	ErrCodeIndexEmpty        = "ERR_407_INDEX_EMPTY"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"
)

// Sentinels for errors.Is matching. Is compares codes, so any *Error
// carrying the same code matches regardless of message or cause.
var (
	ErrDimensionMismatch   = &Error{Code: ErrCodeDimensionMismatch}
	ErrEmptyIndex          = &Error{Code: ErrCodeIndexEmpty}
	ErrInconsistentIndex   = &Error{Code: ErrCodeInconsistentIndex}
	ErrUpstreamUnavailable = &Error{Code: ErrCodeNetworkUnavailable}
	ErrIndexLocked         = &Error{Code: ErrCodeIndexLocked}
	ErrDocumentNotFound    = &Error{Code: ErrCodeDocumentNotFound}
	ErrCorruptDocument     = &Error{Code: ErrCodeCorruptDocument}
	ErrInvalidInput        = &Error{Code: ErrCodeInvalidInput}
	ErrBrokerUnavailable   = &Error{Code: ErrCodeBrokerUnavailable}
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "ERR_402_..." -> '4'
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull, ErrCodeIndexLocked:
		return SeverityFatal
	case ErrCodeInconsistentIndex:
		return SeverityWarning
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether redelivering the failed work can succeed
// once the upstream recovers.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeBrokerUnavailable,
		ErrCodeFetchFailed, ErrCodeStoreUnavailable, ErrCodePersistFailed:
		return true
	default:
		return false
	}
}
