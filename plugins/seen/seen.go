// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package seen tracks when each nick was last active and answers
// queries about it, over chat and over HTTP.
package seen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/internal/plugin"
	pluginsdk "github.com/garrulus/garrulus/pkg/plugin"
)

const (
	bucket        = "seen"
	pruneInterval = time.Hour

	// retentionSetting names the per-connection settings key holding a
	// duration string that overrides the default retention window.
	retentionSetting = "seen_retention"
	defaultRetention = 30 * 24 * time.Hour
)

func init() {
	plugin.MustRegister(plugin.Spec{
		Name:    "seen",
		Version: "1.2.0",
		Init:    setup,
	})
}

// record is one nick's latest sighting, stored as JSON keyed by the
// lowercased nick. Records live in the connection store, so they
// survive reloads of this plugin.
type record struct {
	Nick    string    `json:"nick"`
	Action  string    `json:"action"`
	Channel string    `json:"channel,omitempty"`
	Time    time.Time `json:"time"`
}

type tracker struct {
	conn      *bot.Connection
	retention time.Duration
	stop      chan struct{}
	done      chan struct{}
}

func setup(_ context.Context, conn *bot.Connection, m *bot.Module) error {
	t := &tracker{
		conn:      conn,
		retention: retention(conn),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	m.HookFunc(pluginsdk.EventMessage, t.onMessage)
	m.HookFunc(pluginsdk.EventJoin, t.onJoin)
	m.HookFunc(pluginsdk.EventPart, t.onPart)
	m.HookFunc(pluginsdk.EventQuit, t.onQuit)
	m.HookFunc(pluginsdk.EventNick, t.onNick)

	m.Command("seen", "report when a nick was last active", "seen <nick>", t.command)
	m.Route(http.MethodGet, "/seen/:nick", t.serve)
	m.OnCleanup(t.close)

	go t.prune()
	return nil
}

func retention(conn *bot.Connection) time.Duration {
	raw, ok := conn.Settings()[retentionSetting].(string)
	if !ok {
		return defaultRetention
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("ignoring invalid seen retention setting",
			slog.String("connection", conn.Name()),
			slog.String("value", raw))
		return defaultRetention
	}
	return d
}

func (t *tracker) onMessage(ctx context.Context, ev *pluginsdk.Event) error {
	if ev.Private() {
		return nil
	}
	action := fmt.Sprintf("saying %q", ev.Message)
	if ev.Action {
		action = fmt.Sprintf("acting out %q", ev.Message)
	}
	return t.record(ctx, ev.Nick, action, ev.Channel)
}

func (t *tracker) onJoin(ctx context.Context, ev *pluginsdk.Event) error {
	return t.record(ctx, ev.Nick, "joining "+ev.Channel, ev.Channel)
}

func (t *tracker) onPart(ctx context.Context, ev *pluginsdk.Event) error {
	return t.record(ctx, ev.Nick, "leaving "+ev.Channel, ev.Channel)
}

func (t *tracker) onQuit(ctx context.Context, ev *pluginsdk.Event) error {
	action := "quitting"
	if ev.Message != "" {
		action = fmt.Sprintf("quitting (%s)", ev.Message)
	}
	return t.record(ctx, ev.Nick, action, "")
}

// onNick records both names: the old nick was seen renaming, and the
// new nick appeared.
func (t *tracker) onNick(ctx context.Context, ev *pluginsdk.Event) error {
	if err := t.record(ctx, ev.Nick, "changing nick to "+ev.Message, ""); err != nil {
		return err
	}
	return t.record(ctx, ev.Message, "changing nick from "+ev.Nick, "")
}

func (t *tracker) record(ctx context.Context, nick, action, channel string) error {
	if nick == "" {
		return nil
	}
	raw, err := json.Marshal(record{
		Nick:    nick,
		Action:  action,
		Channel: channel,
		Time:    time.Now(),
	})
	if err != nil {
		return err
	}
	return t.conn.Store().Put(ctx, bucket, strings.ToLower(nick), string(raw))
}

func (t *tracker) lookup(ctx context.Context, nick string) (record, bool, error) {
	raw, ok, err := t.conn.Store().Get(ctx, bucket, strings.ToLower(nick))
	if err != nil || !ok {
		return record{}, false, err
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return record{}, false, err
	}
	return rec, true, nil
}

func (t *tracker) command(ctx context.Context, cmd *pluginsdk.Command) error {
	if len(cmd.Args) == 0 {
		return cmd.Reply("usage: seen <nick>")
	}
	nick := cmd.Args[0]
	if strings.EqualFold(nick, t.conn.Nick()) {
		return cmd.Reply("right here, watching")
	}
	rec, ok, err := t.lookup(ctx, nick)
	if err != nil {
		return err
	}
	if !ok {
		return cmd.Reply("I have not seen " + nick)
	}
	return cmd.Reply(describe(rec))
}

func (t *tracker) serve(w http.ResponseWriter, r *http.Request) {
	nick := pluginsdk.RouteParams(r)["nick"]
	w.Header().Set("Content-Type", "application/json")

	rec, ok, err := t.lookup(r.Context(), nick)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "lookup failed"})
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "never seen"})
		return
	}
	_ = json.NewEncoder(w).Encode(rec)
}

func describe(rec record) string {
	where := ""
	if rec.Channel != "" {
		where = " in " + rec.Channel
	}
	return fmt.Sprintf("%s was last seen %s ago%s, %s",
		rec.Nick, humanize(time.Since(rec.Time)), where, rec.Action)
}

func humanize(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "moments"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	}
}

// prune sweeps expired records until cleanup stops it.
func (t *tracker) prune() {
	defer close(t.done)
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(context.Background())
		}
	}
}

// sweep deletes records older than the retention window. Records that
// no longer parse are deleted too.
func (t *tracker) sweep(ctx context.Context) {
	store := t.conn.Store()
	keys, err := store.Keys(ctx, bucket)
	if err != nil {
		slog.Warn("seen sweep failed",
			slog.String("connection", t.conn.Name()),
			slog.Any("error", err))
		return
	}
	cutoff := time.Now().Add(-t.retention)
	for _, key := range keys {
		raw, ok, err := store.Get(ctx, bucket, key)
		if err != nil || !ok {
			continue
		}
		var rec record
		if json.Unmarshal([]byte(raw), &rec) != nil || rec.Time.Before(cutoff) {
			_ = store.Delete(ctx, bucket, key)
		}
	}
}

func (t *tracker) close() {
	close(t.stop)
	<-t.done
}
