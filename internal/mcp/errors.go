// Package mcp exposes the query service as a Model Context Protocol server.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeIndexNotReady indicates the vector index is empty or unusable.
	ErrCodeIndexNotReady = -32001

	// ErrCodeUpstreamUnavailable indicates the embedding model or store is unreachable.
	ErrCodeUpstreamUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeDocumentNotFound indicates an unknown document id.
	ErrCodeDocumentNotFound = -32004

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var re *ragerrors.Error
	if errors.As(err, &re) {
		return mapRagError(re)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

func mapRagError(re *ragerrors.Error) *MCPError {
	message := re.Message
	if re.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", re.Message, re.Suggestion)
	}

	switch re.Code {
	case ragerrors.ErrCodeIndexEmpty, ragerrors.ErrCodeInconsistentIndex, ragerrors.ErrCodeCorruptIndex:
		return &MCPError{Code: ErrCodeIndexNotReady, Message: message}
	case ragerrors.ErrCodeDocumentNotFound:
		return &MCPError{Code: ErrCodeDocumentNotFound, Message: message}
	case ragerrors.ErrCodeDimensionMismatch:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}

	switch re.Category {
	case ragerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case ragerrors.CategoryUpstream:
		return &MCPError{Code: ErrCodeUpstreamUnavailable, Message: message}
	case ragerrors.CategoryStorage:
		if re.Retryable {
			return &MCPError{Code: ErrCodeUpstreamUnavailable, Message: message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
