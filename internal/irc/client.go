// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package irc adapts a wire-level IRC client to the bot's contracts: it
// dials and registers, joins configured channels, translates inbound
// messages into events for the dispatcher, and carries outbound traffic
// as the connection's messenger.
package irc

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	ircv4 "gopkg.in/irc.v4"

	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/internal/config"
	"github.com/garrulus/garrulus/internal/observability"
	"github.com/garrulus/garrulus/pkg/plugin"
)

// Error codes for transport failures.
const (
	CodeDialFailed   = "IRC_DIAL_FAILED"
	CodeNotConnected = "IRC_NOT_CONNECTED"
	CodeWriteFailed  = "IRC_WRITE_FAILED"
)

const (
	dialTimeout   = 30 * time.Second
	pingFrequency = 2 * time.Minute
	pingTimeout   = 30 * time.Second

	reconnectBase = time.Second
	reconnectCap  = 2 * time.Minute
	// stableSession is how long a session must last before the
	// reconnect backoff resets.
	stableSession = time.Minute
)

// Dispatcher delivers translated events into hook chains.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn *bot.Connection, ev *plugin.Event)
}

// Dialer opens the transport connection to a server.
type Dialer func(ctx context.Context, server config.Server) (net.Conn, error)

func defaultDial(ctx context.Context, server config.Server) (net.Conn, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	if server.TLS {
		td := &tls.Dialer{
			NetDialer: d,
			Config:    &tls.Config{MinVersion: tls.VersionTLS12},
		}
		return td.DialContext(ctx, "tcp", server.Addr)
	}
	return d.DialContext(ctx, "tcp", server.Addr)
}

// Client runs the wire protocol for one bot connection. It installs
// itself as the connection's messenger, so plugin sends fail with a
// clear error while the transport is down instead of blocking.
type Client struct {
	conn     *bot.Connection
	dispatch Dispatcher
	dialFn   Dialer

	mu       sync.Mutex
	wire     *ircv4.Client
	channels map[string]struct{}

	writeMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialFn = d }
}

// NewClient creates the transport for conn and attaches it as the
// connection's messenger.
func NewClient(conn *bot.Connection, dispatch Dispatcher, opts ...Option) *Client {
	c := &Client{
		conn:     conn,
		dispatch: dispatch,
		dialFn:   defaultDial,
		channels: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	conn.SetMessenger(c)
	return c
}

// Run connects and serves until ctx is cancelled, redialing with
// exponential backoff after a connection is lost. The backoff resets
// once a session has stayed up long enough to count as stable.
func (c *Client) Run(ctx context.Context) error {
	backoff := newBackoff()
	for {
		started := time.Now()
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.WarnContext(ctx, "connection lost",
				slog.String("connection", c.conn.Name()),
				slog.Any("error", err))
		}
		if time.Since(started) >= stableSession {
			backoff = newBackoff()
		}
		wait, _ := backoff.Next()
		slog.InfoContext(ctx, "reconnecting",
			slog.String("connection", c.conn.Name()),
			slog.Duration("wait", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

func newBackoff() retry.Backoff {
	return retry.WithCappedDuration(reconnectCap, retry.NewExponential(reconnectBase))
}

// runOnce performs one dial-register-serve cycle and returns when the
// session ends.
func (c *Client) runOnce(ctx context.Context) error {
	cfg := c.conn.Config()

	netConn, err := c.dialFn(ctx, cfg.Server)
	if err != nil {
		return oops.Code(CodeDialFailed).
			With("connection", c.conn.Name()).
			With("addr", cfg.Server.Addr).
			Wrap(err)
	}

	user := cfg.User
	if user == "" {
		user = cfg.Nick
	}
	realName := cfg.Real
	if realName == "" {
		realName = cfg.Nick
	}

	wire := ircv4.NewClient(netConn, ircv4.ClientConfig{
		Nick:          cfg.Nick,
		Pass:          cfg.Server.Password,
		User:          user,
		Name:          realName,
		PingFrequency: pingFrequency,
		PingTimeout:   pingTimeout,
		Handler: ircv4.HandlerFunc(func(w *ircv4.Client, msg *ircv4.Message) {
			c.handle(ctx, w, msg)
		}),
	})

	c.mu.Lock()
	c.wire = wire
	c.mu.Unlock()

	slog.InfoContext(ctx, "connected",
		slog.String("connection", c.conn.Name()),
		slog.String("addr", cfg.Server.Addr))

	// The read loop blocks on the socket; closing it is what unblocks
	// a cancelled session.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = netConn.Close()
		case <-stop:
		}
	}()

	runErr := wire.RunContext(ctx)
	close(stop)
	_ = netConn.Close()

	c.mu.Lock()
	c.wire = nil
	clear(c.channels)
	c.mu.Unlock()

	observability.SetConnectionUp(c.conn.Name(), false)
	if ctx.Err() == nil {
		c.deliver(ctx, &plugin.Event{Type: plugin.EventDisconnect, Conn: c.conn})
	}
	return runErr
}

// live returns the wire client for the current session.
func (c *Client) live() (*ircv4.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wire == nil {
		return nil, oops.Code(CodeNotConnected).
			With("connection", c.conn.Name()).
			Errorf("not connected")
	}
	return c.wire, nil
}

func (c *Client) write(msg *ircv4.Message) error {
	wire, err := c.live()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wire.WriteMessage(msg); err != nil {
		return oops.Code(CodeWriteFailed).
			With("connection", c.conn.Name()).
			With("command", msg.Command).
			Wrap(err)
	}
	return nil
}

// Nick returns the nick currently held on the server, or the configured
// nick while disconnected.
func (c *Client) Nick() string {
	c.mu.Lock()
	wire := c.wire
	c.mu.Unlock()
	if wire != nil {
		return wire.CurrentNick()
	}
	return c.conn.Config().Nick
}

// Channels returns the channels currently joined, sorted.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.channels) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Say sends a PRIVMSG. Multi-line messages become one message per line.
func (c *Client) Say(target, message string) error {
	return c.sendText("PRIVMSG", target, message)
}

// Notice sends a NOTICE.
func (c *Client) Notice(target, message string) error {
	return c.sendText("NOTICE", target, message)
}

// Action sends a CTCP ACTION ("/me").
func (c *Client) Action(target, message string) error {
	message = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(message)
	return c.sendText("PRIVMSG", target, "\x01ACTION "+message+"\x01")
}

// Join asks the server to join channel. Membership is recorded when the
// server echoes the join back.
func (c *Client) Join(channel string) error {
	return c.write(&ircv4.Message{Command: "JOIN", Params: []string{channel}})
}

// Part leaves channel.
func (c *Client) Part(channel string) error {
	return c.write(&ircv4.Message{Command: "PART", Params: []string{channel}})
}

func (c *Client) sendText(command, target, message string) error {
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		err := c.write(&ircv4.Message{Command: command, Params: []string{target, line}})
		if err != nil {
			return err
		}
	}
	return nil
}
