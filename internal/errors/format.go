package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if !errors.As(err, &e) {
		return fmt.Sprintf("Error: %s\n", err.Error())
	}

	var sb strings.Builder
	msg := e.Message
	if msg == "" {
		msg = err.Error()
	}
	fmt.Fprintf(&sb, "Error: %s\n", msg)
	if e.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", e.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", e.Code)
	return sb.String()
}

// LogAttr renders an error as a single slog group attribute so stage
// failures carry their code and retryability in structured logs.
func LogAttr(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}

	var e *Error
	if !errors.As(err, &e) {
		return slog.String("error", err.Error())
	}

	attrs := []any{
		slog.String("message", err.Error()),
		slog.String("code", e.Code),
		slog.String("category", string(e.Category)),
		slog.Bool("retryable", e.Retryable),
	}

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, e.Details[k]))
	}

	return slog.Group("error", attrs...)
}
