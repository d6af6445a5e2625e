// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package errutil provides helpers for logging and asserting on
// structured errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error with structured context if it's an oops error.
// For oops errors, it extracts and logs the message, code, and context.
// For standard errors, it logs the error string.
func LogError(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, errorAttrs(err)...)
}

// LogErrorCtx logs err through the default logger with ctx attached, so
// trace ids recorded by the logging handler survive. Attribute
// extraction matches LogError.
func LogErrorCtx(ctx context.Context, err error, msg string) {
	slog.Default().ErrorContext(ctx, msg, errorAttrs(err)...)
}

func errorAttrs(err error) []any {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{
			"error", oopsErr.Error(),
		}
		if code := oopsErr.Code(); code != "" {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
		return attrs
	}
	return []any{"error", err}
}

// ErrorCode returns the oops error code carried by err, or empty when
// err is nil or carries none.
func ErrorCode(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		return oopsErr.Code()
	}
	return ""
}
