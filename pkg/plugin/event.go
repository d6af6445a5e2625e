// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package plugin defines the API surface available to bot plugins: the
// event structure delivered to hooks, the connection handle used to talk
// back to the network, and the contribution types (hooks, commands, HTTP
// routes) a plugin may register.
package plugin

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies the kind of protocol event.
type EventType string

// Event types delivered by the protocol layer. Hook registrations are
// keyed by these values.
const (
	EventMessage    EventType = "privmsg"
	EventNotice     EventType = "notice"
	EventJoin       EventType = "join"
	EventPart       EventType = "part"
	EventQuit       EventType = "quit"
	EventKick       EventType = "kick"
	EventNick       EventType = "nick"
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
)

// Event is the context passed to every hook for one inbound protocol
// event. It is immutable for the duration of one dispatch; hooks must not
// retain or modify it.
type Event struct {
	// ID correlates log lines and traces for one dispatch.
	ID   ulid.ULID
	Time time.Time
	Type EventType

	// Nick is the sender's nickname. User is the username portion of the
	// sender prefix (the ident), Host the host portion, and Mask the full
	// "nick!user@host" form.
	Nick string
	User string
	Host string
	Mask string

	// Channel is the target the event was addressed to. For private
	// messages this is the bot's own nick.
	Channel string

	// Message carries the text payload for privmsg/notice/part/quit/kick
	// events, the new nick for nick events, and is empty otherwise.
	Message string

	// Raw is the unparsed protocol line the event was decoded from.
	Raw string

	// Action is set when the message was a CTCP ACTION ("/me").
	Action bool

	// Conn references the connection the event arrived on.
	Conn Conn
}

// Private reports whether the event was sent directly to the bot rather
// than to a channel.
func (e *Event) Private() bool {
	return e.Channel != "" && !strings.ContainsAny(e.Channel[:1], "#&+!")
}

// ReplyTarget returns where a response to this event should go: the
// originating channel, or the sender's nick for private messages.
func (e *Event) ReplyTarget() string {
	if e.Private() {
		return e.Nick
	}
	return e.Channel
}

// Reply sends message to the reply target over the originating
// connection.
func (e *Event) Reply(message string) error {
	return e.Conn.Say(e.ReplyTarget(), message)
}
