package core

import (
	"fmt"
	"strings"
	"time"
)

// ValidateAddress validates an event bus address
func ValidateAddress(address string) error {
	if address == "" {
		return &EventBusError{Code: "INVALID_ADDRESS", Message: "address cannot be empty"}
	}
	if len(address) > 255 {
		return &EventBusError{Code: "INVALID_ADDRESS", Message: "address too long (max 255 characters)"}
	}
	return nil
}

// ValidateTimeout validates a timeout duration
func ValidateTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return &EventBusError{Code: "INVALID_TIMEOUT", Message: "timeout must be positive"}
	}
	if timeout > 5*time.Minute {
		return &EventBusError{Code: "INVALID_TIMEOUT", Message: "timeout too large (max 5 minutes)"}
	}
	return nil
}

// ValidateBlockName validates a block instance name.
// Names end up inside bus addresses and metric labels, so whitespace and
// dots are not allowed.
func ValidateBlockName(name string) error {
	if name == "" {
		return &EventBusError{Code: "INVALID_BLOCK_NAME", Message: "block name cannot be empty"}
	}
	if len(name) > 128 {
		return &EventBusError{Code: "INVALID_BLOCK_NAME", Message: "block name too long (max 128 characters)"}
	}
	if strings.ContainsAny(name, " \t\n.") {
		return &EventBusError{Code: "INVALID_BLOCK_NAME", Message: fmt.Sprintf("block name %q contains whitespace or '.'", name)}
	}
	return nil
}

// ValidateBody validates a message body
func ValidateBody(body interface{}) error {
	if body == nil {
		return &EventBusError{Code: "INVALID_BODY", Message: "body cannot be nil"}
	}
	return nil
}

// FailFast panics with an error (fail-fast principle)
func FailFast(err error) {
	if err != nil {
		panic(fmt.Errorf("fail-fast: %w", err))
	}
}
