package app

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRecipientNotFound = errors.New("recipient account not found")
	ErrExternalProcessor = errors.New("payment processor failure")
	ErrAccountInactive   = errors.New("account is not active")
	ErrProcessingPending = errors.New("transaction is still processing")
	ErrNotGroupMember    = errors.New("account owner is not a member of the group")
	ErrRateLimited       = errors.New("too many requests")
)

// ValidationError describes input that was rejected before any state changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets callers match any ValidationError with errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ProcessorError carries the processor's decline reason. It matches ErrExternalProcessor.
type ProcessorError struct {
	Reason string
}

func (e *ProcessorError) Error() string {
	if e.Reason == "" {
		return ErrExternalProcessor.Error()
	}
	return fmt.Sprintf("%s: %s", ErrExternalProcessor.Error(), e.Reason)
}

func (e *ProcessorError) Is(target error) bool {
	return target == ErrExternalProcessor
}
