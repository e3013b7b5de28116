package utils

import (
	"errors"
	"fmt"

	"github.com/dl-alexandre/pdsync/internal/types"
)

// Exit codes
const (
	ExitSuccess = 0
	// Remote errors (10-19)
	ExitRemoteUnauthenticated = 10
	ExitRemoteUnreachable     = 11
	ExitEstimationFailed      = 12
	// Process errors (20-29)
	ExitSpawnFailed      = 20
	ExitTransferFailed   = 21
	ExitPauseUnsupported = 22
	// Cancellation / timing (30-39)
	ExitCancelled = 30
	ExitTimeout   = 31
	// Validation errors (40-49)
	ExitInvalidArgument = 40
	ExitInvalidPolicy   = 41
	ExitInvalidSettings = 42
	ExitConfigError     = 43
	// State errors (50-59)
	ExitSyncInProgress = 50
	ExitInvalidState   = 51
	ExitRunNotFound    = 52
	// Unknown
	ExitUnknown = 99
)

// Error codes (tool-owned, stable)
const (
	ErrCodeInvalidPolicy         = "INVALID_POLICY"
	ErrCodeInvalidSettings       = "INVALID_SETTINGS"
	ErrCodeRemoteUnreachable     = "REMOTE_UNREACHABLE"
	ErrCodeRemoteUnauthenticated = "REMOTE_UNAUTHENTICATED"
	ErrCodeEstimationFailed      = "ESTIMATION_FAILED"
	ErrCodeSpawnFailed           = "SPAWN_FAILED"
	ErrCodeSyncInProgress        = "SYNC_ALREADY_IN_PROGRESS"
	ErrCodePauseUnsupported      = "PAUSE_UNSUPPORTED"
	ErrCodeInvalidState          = "INVALID_STATE"
	ErrCodeRunNotFound           = "RUN_NOT_FOUND"
	ErrCodeTransferFailed        = "TRANSFER_FAILED"
	ErrCodeCancelled             = "CANCELLED"
	ErrCodeTimeout               = "TIMEOUT"
	ErrCodeInvalidArgument       = "INVALID_ARGUMENT"
	ErrCodeConfigError           = "CONFIG_ERROR"
	ErrCodeInternalError         = "INTERNAL_ERROR"
	ErrCodeUnknown               = "UNKNOWN"
)

// Sentinels for errors.Is. An *AppError matches a sentinel when their codes are equal.
var (
	ErrInvalidPolicy         = &AppError{CLIError: types.CLIError{Code: ErrCodeInvalidPolicy, Message: "invalid sync policy"}}
	ErrInvalidSettings       = &AppError{CLIError: types.CLIError{Code: ErrCodeInvalidSettings, Message: "invalid sync settings"}}
	ErrRemoteUnreachable     = &AppError{CLIError: types.CLIError{Code: ErrCodeRemoteUnreachable, Message: "remote unreachable"}}
	ErrRemoteUnauthenticated = &AppError{CLIError: types.CLIError{Code: ErrCodeRemoteUnauthenticated, Message: "remote rejected credentials"}}
	ErrEstimationFailed      = &AppError{CLIError: types.CLIError{Code: ErrCodeEstimationFailed, Message: "size estimation failed"}}
	ErrSpawnFailed           = &AppError{CLIError: types.CLIError{Code: ErrCodeSpawnFailed, Message: "failed to start process"}}
	ErrSyncAlreadyInProgress = &AppError{CLIError: types.CLIError{Code: ErrCodeSyncInProgress, Message: "a sync is already running for this remote and destination"}}
	ErrPauseUnsupported      = &AppError{CLIError: types.CLIError{Code: ErrCodePauseUnsupported, Message: "pause is not supported on this platform"}}
	ErrInvalidState          = &AppError{CLIError: types.CLIError{Code: ErrCodeInvalidState, Message: "operation not valid in current state"}}
	ErrRunNotFound           = &AppError{CLIError: types.CLIError{Code: ErrCodeRunNotFound, Message: "sync run not found"}}
)

// CLIErrorBuilder helps construct CLIError instances
type CLIErrorBuilder struct {
	err types.CLIError
}

// NewCLIError creates a new error builder
func NewCLIError(code, message string) *CLIErrorBuilder {
	return &CLIErrorBuilder{
		err: types.CLIError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *CLIErrorBuilder) WithExitStatus(status int) *CLIErrorBuilder {
	b.err.ExitStatus = status
	return b
}

func (b *CLIErrorBuilder) WithRetryable(retryable bool) *CLIErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *CLIErrorBuilder) WithContext(key string, value interface{}) *CLIErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]interface{})
	}
	b.err.Context[key] = value
	return b
}

func (b *CLIErrorBuilder) Build() types.CLIError {
	return b.err
}

// GetExitCode returns the exit code for an error code
func GetExitCode(errorCode string) int {
	mapping := map[string]int{
		ErrCodeInvalidPolicy:         ExitInvalidPolicy,
		ErrCodeInvalidSettings:       ExitInvalidSettings,
		ErrCodeRemoteUnreachable:     ExitRemoteUnreachable,
		ErrCodeRemoteUnauthenticated: ExitRemoteUnauthenticated,
		ErrCodeEstimationFailed:      ExitEstimationFailed,
		ErrCodeSpawnFailed:           ExitSpawnFailed,
		ErrCodeSyncInProgress:        ExitSyncInProgress,
		ErrCodePauseUnsupported:      ExitPauseUnsupported,
		ErrCodeInvalidState:          ExitInvalidState,
		ErrCodeRunNotFound:           ExitRunNotFound,
		ErrCodeTransferFailed:        ExitTransferFailed,
		ErrCodeCancelled:             ExitCancelled,
		ErrCodeTimeout:               ExitTimeout,
		ErrCodeInvalidArgument:       ExitInvalidArgument,
		ErrCodeConfigError:           ExitConfigError,
	}
	if code, ok := mapping[errorCode]; ok {
		return code
	}
	return ExitUnknown
}

// AppError is a custom error type that carries CLI error info
type AppError struct {
	CLIError types.CLIError
	Cause    error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.CLIError.Code, e.CLIError.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.CLIError.Code, e.CLIError.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any *AppError with the same code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.CLIError.Code == e.CLIError.Code
}

// NewAppError creates an AppError from a CLIError
func NewAppError(cliErr types.CLIError) *AppError {
	return &AppError{CLIError: cliErr}
}

// WrapAppError creates an AppError with an underlying cause.
func WrapAppError(cliErr types.CLIError, cause error) *AppError {
	return &AppError{CLIError: cliErr, Cause: cause}
}

// Errorf builds an AppError with a formatted message.
func Errorf(code, format string, args ...interface{}) *AppError {
	return NewAppError(NewCLIError(code, fmt.Sprintf(format, args...)).Build())
}

// CodeOf returns the error code carried by err, or ErrCodeUnknown.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.CLIError.Code
	}
	return ErrCodeUnknown
}

// AsCLIError converts any error into a CLIError for output.
func AsCLIError(err error) types.CLIError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		cliErr := appErr.CLIError
		if appErr.Cause != nil && cliErr.Context == nil {
			cliErr.Context = map[string]interface{}{"cause": appErr.Cause.Error()}
		}
		return cliErr
	}
	return NewCLIError(ErrCodeUnknown, err.Error()).Build()
}
