package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeCancelled          ErrorCode = "COMMON_017"
)

// Aliases used across layers.
const (
	CodeUnknown       = ErrorCode("UNKNOWN")
	CodeOK            = ErrorCode("OK")
	CodeInternal      = ErrCodeInternal
	CodeInvalidParam  = ErrCodeBadRequest
	CodeNotFound      = ErrCodeNotFound
	CodeConflict      = ErrCodeConflict
	CodeRateLimit     = ErrCodeTooManyRequests
	CodeDatabaseError = ErrCodeDatabaseError
	CodeCacheError    = ErrCodeCacheError
	CodeCancelled     = ErrCodeCancelled

	CodeParseError         = ErrCodeParseFailed
	CodeGraphTooLarge      = ErrCodeGraphTooLarge
	CodeWorkerFailure      = ErrCodeWorkerFailure
	CodeMissingChunkResult = ErrCodeMissingChunkResult
)

// Substructure engine error codes
const (
	ErrCodeParseFailed        ErrorCode = "SUB_001"
	ErrCodeGraphTooLarge      ErrorCode = "SUB_002"
	ErrCodeWorkerFailure      ErrorCode = "SUB_003"
	ErrCodeMissingChunkResult ErrorCode = "SUB_004"
	ErrCodeInvalidLibrary     ErrorCode = "SUB_005"
	ErrCodeInvalidMatchMode   ErrorCode = "SUB_006"
	ErrCodeRunNotFound        ErrorCode = "SUB_007"
)

// Infrastructure error codes
const (
	ErrCodeStorageFailed   ErrorCode = "INF_001"
	ErrCodeObjectNotFound  ErrorCode = "INF_002"
	ErrCodeMessagingFailed ErrorCode = "INF_003"
	ErrCodeGraphDBFailed   ErrorCode = "INF_004"
	ErrCodeMigrationFailed ErrorCode = "INF_005"
	ErrCodeTableFormat     ErrorCode = "INF_006"
)

// HTTPStatus maps an error code to the HTTP status returned by the API layer.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeOK:
		return http.StatusOK
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeParseFailed, ErrCodeGraphTooLarge,
		ErrCodeInvalidLibrary, ErrCodeInvalidMatchMode, ErrCodeTableFormat:
		return http.StatusBadRequest
	case ErrCodeNotFound, ErrCodeRunNotFound, ErrCodeObjectNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Module returns the code's module prefix, e.g. "SUB" for "SUB_003".
func (c ErrorCode) Module() string {
	s := string(c)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return s
}
