package core

// EventBusError is the typed error returned across the block host.
// Two errors are considered equal by errors.Is when their codes match.
type EventBusError struct {
	Code    string
	Message string
}

func (e *EventBusError) Error() string {
	return e.Message
}

// Is reports whether target carries the same error code.
func (e *EventBusError) Is(target error) bool {
	t, ok := target.(*EventBusError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Errors
var (
	ErrNoReplyAddress   = &EventBusError{Code: "NO_REPLY_ADDRESS", Message: "No reply address available"}
	ErrTimeout          = &EventBusError{Code: "TIMEOUT", Message: "Request timeout"}
	ErrNoHandlers       = &EventBusError{Code: "NO_HANDLERS", Message: "No handlers registered"}
	ErrInvalidContext   = &EventBusError{Code: "INVALID_CONTEXT", Message: "context is not a valid block context"}
	ErrInvalidSignals   = &EventBusError{Code: "INVALID_SIGNALS", Message: "signals must be a signal or a list of signals"}
	ErrInvalidProperty  = &EventBusError{Code: "INVALID_PROPERTY", Message: "invalid property value"}
	ErrUnknownBlockType = &EventBusError{Code: "UNKNOWN_BLOCK_TYPE", Message: "unknown block type"}
	ErrInvalidState     = &EventBusError{Code: "INVALID_STATE", Message: "invalid lifecycle transition"}
	ErrBusClosed        = &EventBusError{Code: "BUS_CLOSED", Message: "event bus is closed"}
	ErrBackpressure     = &EventBusError{Code: "BACKPRESSURE", Message: "block input queue is full"}
)

// Errorf builds an Error carrying code with a formatted message.
func Errorf(code string, message string) *EventBusError {
	return &EventBusError{Code: code, Message: message}
}
