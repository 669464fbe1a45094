package core

// Error codes for domain errors.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeChatNotFound      = "chat_not_found"
	ErrCodeNotAuthorized     = "not_authorized"
	ErrCodeNotInChat         = "not_in_chat"
	ErrCodeMessageNotFound   = "message_not_found"
	ErrCodePersistenceFailed = "persistence_failed"
	ErrCodeRateLimited       = "rate_limited"
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// NewError builds a CoreError for callers outside the package.
func NewError(code, msg string) *CoreError {
	return coreError(code, msg)
}
