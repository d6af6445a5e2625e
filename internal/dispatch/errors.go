// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package dispatch

import (
	"github.com/samber/oops"

	"github.com/garrulus/garrulus/internal/auth"
)

// Error codes for dispatch and command failures.
const (
	CodeInvalidArgs      = "INVALID_ARGS"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeHookPanic        = "HOOK_PANIC"
	CodeReloadFailed     = "RELOAD_FAILED"
)

// ErrInvalidArgs creates an error for a malformed command invocation.
func ErrInvalidArgs(cmd, usage string) error {
	return oops.Code(CodeInvalidArgs).
		With("command", cmd).
		With("usage", usage).
		Errorf("invalid arguments")
}

// ErrPermissionDenied creates an error for an operator command invoked
// by an unauthorized sender.
func ErrPermissionDenied(cmd string) error {
	return oops.Code(CodePermissionDenied).
		With("command", cmd).
		Errorf("permission denied for command %s", cmd)
}

// errHookPanic converts a recovered panic value into an attributable
// error.
func errHookPanic(module string, v any) error {
	return oops.Code(CodeHookPanic).
		With("module", module).
		Errorf("hook panicked: %v", v)
}

// UserMessage extracts a chat-safe message from an error. Internal
// detail stays in the logs; the sender gets a short explanation.
func UserMessage(err error) string {
	if err == nil {
		return "Something went wrong."
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return "Something went wrong."
	}

	switch oopsErr.Code() {
	case CodeInvalidArgs:
		if usage, ok := oopsErr.Context()["usage"].(string); ok && usage != "" {
			return "Usage: " + usage
		}
		return "Invalid arguments."
	case CodePermissionDenied:
		return "You are not authorized to do that."
	case CodeReloadFailed:
		return "Reload failed; check the logs."
	case auth.CodeAuthFailed:
		return "Authentication failed."
	case auth.CodeAuthDisabled:
		return "Password authentication is not enabled on this connection."
	default:
		return "Something went wrong."
	}
}
