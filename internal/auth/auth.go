// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package auth decides whether a sender may run operator commands. A
// sender qualifies by matching a configured owner hostmask pattern, or
// by presenting the connection password, which grants a session that
// expires after the configured TTL.
package auth

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"github.com/garrulus/garrulus/internal/config"
)

// Error codes for authorization failures.
const (
	CodeAuthDisabled = "AUTH_DISABLED"
	CodeAuthFailed   = "AUTH_FAILED"
)

// Authorizer tracks password-granted operator sessions, keyed by
// connection name plus full sender mask so rights never carry across
// networks. One Authorizer serves the whole process. Configuration is
// passed per call so a reload's new owner patterns and password take
// effect immediately.
type Authorizer struct {
	sessions *ttlcache.Cache[string, time.Time]
}

// sessionKey joins connection and mask with a byte that can appear in
// neither.
func sessionKey(connection, mask string) string {
	return connection + "\x00" + mask
}

// New creates an Authorizer and starts its expiry loop. Call Stop when
// the connection shuts down.
func New() *Authorizer {
	a := &Authorizer{
		// Sessions expire at login time + TTL. Checking authorization
		// must not extend them, hence touch-on-hit is disabled.
		sessions: ttlcache.New[string, time.Time](
			ttlcache.WithDisableTouchOnHit[string, time.Time](),
		),
	}
	go a.sessions.Start()
	return a
}

// Login verifies password against the configured bcrypt hash and, on
// success, grants mask an operator session for cfg.AuthTTL.
func (a *Authorizer) Login(cfg *config.Bot, mask, password string) error {
	if cfg.AuthPassword == "" {
		return oops.Code(CodeAuthDisabled).
			With("connection", cfg.Name).
			Errorf("password authentication is not configured")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cfg.AuthPassword), []byte(password)); err != nil {
		return oops.Code(CodeAuthFailed).
			With("connection", cfg.Name).
			With("mask", mask).
			Errorf("password mismatch")
	}
	a.sessions.Set(sessionKey(cfg.Name, mask), time.Now(), cfg.AuthTTL)
	return nil
}

// Logout revokes mask's session on the named connection, if any.
func (a *Authorizer) Logout(connection, mask string) {
	a.sessions.Delete(sessionKey(connection, mask))
}

// Authorized reports whether mask may run operator commands: a
// configured owner always may, otherwise a live session is required.
func (a *Authorizer) Authorized(cfg *config.Bot, mask string) bool {
	if cfg.IsOwner(mask) {
		return true
	}
	return a.sessions.Get(sessionKey(cfg.Name, mask)) != nil
}

// Stop halts the session expiry loop.
func (a *Authorizer) Stop() {
	a.sessions.Stop()
}
