package imageguard

import (
	"errors"
	"fmt"
)

// Source errors
var (
	ErrNotExist   = errors.New("file does not exist")
	ErrNotAllowed = errors.New("path not allowed")
)

// Code is the stable identifier of a pipeline failure. Codes are part of the
// public contract and never change between releases.
type Code string

const (
	CodeNoFile             Code = "NoFile"
	CodeNoFilename         Code = "NoFilename"
	CodeEmptyFile          Code = "EmptyFile"
	CodeFileTooSmall       Code = "FileTooSmall"
	CodeFileTooLarge       Code = "FileTooLarge"
	CodeSuspiciousFilename Code = "SuspiciousFilename"
	CodeNoMimeType         Code = "NoMimeType"
	CodeInvalidMimeType    Code = "InvalidMimeType"
	CodeSignatureMismatch  Code = "SignatureMismatch"
	CodeMaliciousContent   Code = "MaliciousContent"
	CodeSuspiciousEncoding Code = "SuspiciousEncoding"
	CodeSQLInjection       Code = "SqlInjection"
	CodeCompressionBomb    Code = "CompressionBomb"
)

// ValidationErrorType groups failure codes by the concern that raised them.
type ValidationErrorType string

const (
	ErrorTypeSize      ValidationErrorType = "size"
	ErrorTypeFileName  ValidationErrorType = "filename"
	ErrorTypeMIME      ValidationErrorType = "mime"
	ErrorTypeSignature ValidationErrorType = "signature"
	ErrorTypeContent   ValidationErrorType = "content"
	ErrorTypeInternal  ValidationErrorType = "internal"
)

// typeOf maps a failure code to its category.
func typeOf(code Code) ValidationErrorType {
	switch code {
	case CodeNoFile, CodeEmptyFile, CodeFileTooSmall, CodeFileTooLarge:
		return ErrorTypeSize
	case CodeNoFilename, CodeSuspiciousFilename:
		return ErrorTypeFileName
	case CodeNoMimeType, CodeInvalidMimeType:
		return ErrorTypeMIME
	case CodeSignatureMismatch:
		return ErrorTypeSignature
	case CodeMaliciousContent, CodeSuspiciousEncoding, CodeSQLInjection, CodeCompressionBomb:
		return ErrorTypeContent
	default:
		return ErrorTypeInternal
	}
}

// ValidationError describes why a file was rejected.
// Infrastructure failures carry ErrorTypeInternal and an empty Code.
type ValidationError struct {
	// Type categorizes the failure (size, filename, mime, signature, content, internal).
	Type ValidationErrorType

	// Code is the stable failure identifier.
	Code Code

	// Message is the human-readable description.
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation error: %s", e.Type, e.Message)
}

// NewValidationError creates a ValidationError for code, deriving its type.
func NewValidationError(code Code, message string) *ValidationError {
	return &ValidationError{
		Type:    typeOf(code),
		Code:    code,
		Message: message,
	}
}

func newValidationErrorf(code Code, format string, args ...any) *ValidationError {
	return NewValidationError(code, fmt.Sprintf(format, args...))
}

// internalError wraps an infrastructure failure without leaking its cause
// into the code space.
func internalError(err error) *ValidationError {
	return &ValidationError{
		Type:    ErrorTypeInternal,
		Message: fmt.Sprintf("validation failed: %v", err),
	}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// IsCode checks if an error is a ValidationError carrying code.
func IsCode(err error, code Code) bool {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Code == code
	}
	return false
}

// GetCode returns the failure code of a ValidationError, or empty string if not a ValidationError
func GetCode(err error) Code {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Code
	}
	return ""
}

// GetErrorType returns the type of a ValidationError, or empty string if not a ValidationError
func GetErrorType(err error) ValidationErrorType {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Type
	}
	return ""
}
