// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package irc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	ircv4 "gopkg.in/irc.v4"

	"github.com/garrulus/garrulus/internal/observability"
	"github.com/garrulus/garrulus/pkg/plugin"
)

// handle translates one inbound message. It runs on the read loop, so
// events reach the dispatcher one at a time, in arrival order.
func (c *Client) handle(ctx context.Context, wire *ircv4.Client, msg *ircv4.Message) {
	switch msg.Command {
	case "001":
		c.welcome(ctx, wire, msg)

	case "PRIVMSG", "NOTICE":
		if len(msg.Params) < 2 {
			return
		}
		t := plugin.EventMessage
		if msg.Command == "NOTICE" {
			t = plugin.EventNotice
		}
		ev := c.newEvent(t, msg)
		ev.Channel = msg.Params[0]
		ev.Message = msg.Trailing()
		if inner, ok := ctcpAction(ev.Message); ok {
			ev.Action = true
			ev.Message = inner
		}
		c.deliver(ctx, ev)

	case "JOIN":
		if len(msg.Params) < 1 {
			return
		}
		channel := msg.Params[0]
		if c.isSelf(wire, msg) {
			c.trackJoin(channel)
			slog.InfoContext(ctx, "joined channel",
				slog.String("connection", c.conn.Name()),
				slog.String("channel", channel))
		}
		ev := c.newEvent(plugin.EventJoin, msg)
		ev.Channel = channel
		c.deliver(ctx, ev)

	case "PART":
		if len(msg.Params) < 1 {
			return
		}
		channel := msg.Params[0]
		if c.isSelf(wire, msg) {
			c.trackPart(channel)
		}
		ev := c.newEvent(plugin.EventPart, msg)
		ev.Channel = channel
		if len(msg.Params) > 1 {
			ev.Message = msg.Trailing()
		}
		c.deliver(ctx, ev)

	case "KICK":
		if len(msg.Params) < 2 {
			return
		}
		channel := msg.Params[0]
		if strings.EqualFold(msg.Params[1], wire.CurrentNick()) {
			kicker := ""
			if msg.Prefix != nil {
				kicker = msg.Prefix.Name
			}
			c.trackPart(channel)
			slog.WarnContext(ctx, "kicked from channel",
				slog.String("connection", c.conn.Name()),
				slog.String("channel", channel),
				slog.String("by", kicker))
		}
		ev := c.newEvent(plugin.EventKick, msg)
		ev.Channel = channel
		if len(msg.Params) > 2 {
			ev.Message = msg.Trailing()
		}
		c.deliver(ctx, ev)

	case "QUIT":
		ev := c.newEvent(plugin.EventQuit, msg)
		ev.Message = msg.Trailing()
		c.deliver(ctx, ev)

	case "NICK":
		if len(msg.Params) < 1 {
			return
		}
		// The wire client tracks our own rename; plugins see everyone's.
		ev := c.newEvent(plugin.EventNick, msg)
		ev.Message = msg.Params[0]
		c.deliver(ctx, ev)

	case "ERROR":
		slog.WarnContext(ctx, "server error",
			slog.String("connection", c.conn.Name()),
			slog.String("message", msg.Trailing()))
	}
}

// welcome fires once registration completes: join the configured
// channels and announce the connection to hooks.
func (c *Client) welcome(ctx context.Context, wire *ircv4.Client, msg *ircv4.Message) {
	observability.SetConnectionUp(c.conn.Name(), true)
	slog.InfoContext(ctx, "registered",
		slog.String("connection", c.conn.Name()),
		slog.String("nick", wire.CurrentNick()))

	for _, channel := range c.conn.Config().Channels {
		if err := c.Join(channel); err != nil {
			slog.WarnContext(ctx, "channel join failed",
				slog.String("connection", c.conn.Name()),
				slog.String("channel", channel),
				slog.Any("error", err))
		}
	}

	ev := c.newEvent(plugin.EventConnect, msg)
	ev.Nick = wire.CurrentNick()
	c.deliver(ctx, ev)
}

func (c *Client) newEvent(t plugin.EventType, msg *ircv4.Message) *plugin.Event {
	ev := &plugin.Event{
		Time: time.Now(),
		Type: t,
		Raw:  msg.String(),
		Conn: c.conn,
	}
	if t != plugin.EventConnect && msg.Prefix != nil {
		ev.Nick = msg.Prefix.Name
		ev.User = msg.Prefix.User
		ev.Host = msg.Prefix.Host
		ev.Mask = msg.Prefix.String()
	}
	return ev
}

func (c *Client) deliver(ctx context.Context, ev *plugin.Event) {
	if c.dispatch == nil {
		return
	}
	c.dispatch.Dispatch(ctx, c.conn, ev)
}

func (c *Client) isSelf(wire *ircv4.Client, msg *ircv4.Message) bool {
	return msg.Prefix != nil && strings.EqualFold(msg.Prefix.Name, wire.CurrentNick())
}

func (c *Client) trackJoin(channel string) {
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) trackPart(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

// ctcpAction unwraps a CTCP ACTION payload ("/me" messages).
func ctcpAction(message string) (string, bool) {
	if !strings.HasPrefix(message, "\x01ACTION ") || !strings.HasSuffix(message, "\x01") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(message, "\x01ACTION "), "\x01"), true
}
