// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package seen_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/internal/config"
	"github.com/garrulus/garrulus/internal/plugin"
	"github.com/garrulus/garrulus/internal/web"
	pluginsdk "github.com/garrulus/garrulus/pkg/plugin"

	_ "github.com/garrulus/garrulus/plugins/seen"
)

type sends struct {
	mu    sync.Mutex
	lines []string
}

func (s *sends) log(verb, target, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, fmt.Sprintf("%s %s %s", verb, target, message))
	return nil
}

func (s *sends) last(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.lines, "expected a reply")
	return s.lines[len(s.lines)-1]
}

func (s *sends) Nick() string { return "garrulus" }

func (s *sends) Channels() []string { return []string{"#garrulus"} }

func (s *sends) Say(target, message string) error    { return s.log("say", target, message) }
func (s *sends) Notice(target, message string) error { return s.log("notice", target, message) }
func (s *sends) Action(target, message string) error { return s.log("action", target, message) }
func (s *sends) Join(channel string) error           { return s.log("join", channel, "") }
func (s *sends) Part(channel string) error           { return s.log("part", channel, "") }

// loaded installs the seen plugin on a fresh connection and arranges
// for its cleanup (which stops the prune loop) to run at test end.
func loaded(t *testing.T) (*bot.Connection, *sends) {
	t.Helper()
	conn := bot.NewConnection(&config.Bot{Name: "libera", Nick: "garrulus"})
	rec := &sends{}
	conn.SetMessenger(rec)

	spec, ok := plugin.Lookup("seen")
	require.True(t, ok)
	m := bot.NewModule(spec.Name)
	require.NoError(t, spec.Init(context.Background(), conn, m))
	conn.InstallModule(m)
	t.Cleanup(conn.RunCleanups)
	return conn, rec
}

// observe pushes ev through every hook the plugin registered for its
// type.
func observe(t *testing.T, conn *bot.Connection, ev *pluginsdk.Event) {
	t.Helper()
	ev.Conn = conn
	chain := conn.Hooks().Chain(ev.Type)
	require.NotEmpty(t, chain, "no hooks for %s", ev.Type)
	for _, entry := range chain {
		require.NoError(t, entry.Hook.OnEvent(context.Background(), ev))
	}
}

func ask(t *testing.T, conn *bot.Connection, argLine string) {
	t.Helper()
	entry, ok := conn.Command("seen")
	require.True(t, ok)
	require.NoError(t, entry.Handler(context.Background(), &pluginsdk.Command{
		Event: &pluginsdk.Event{
			Type:    pluginsdk.EventMessage,
			Nick:    "asker",
			Channel: "#garrulus",
			Conn:    conn,
		},
		Name:    "seen",
		Args:    strings.Fields(argLine),
		ArgLine: argLine,
	}))
}

func TestRecordsChannelMessage(t *testing.T) {
	conn, rec := loaded(t)

	observe(t, conn, &pluginsdk.Event{
		Type:    pluginsdk.EventMessage,
		Nick:    "alice",
		Channel: "#garrulus",
		Message: "hello world",
	})
	ask(t, conn, "alice")

	reply := rec.last(t)
	assert.Contains(t, reply, "alice was last seen moments ago in #garrulus")
	assert.Contains(t, reply, `saying "hello world"`)
}

func TestRecordsAction(t *testing.T) {
	conn, rec := loaded(t)

	observe(t, conn, &pluginsdk.Event{
		Type:    pluginsdk.EventMessage,
		Nick:    "alice",
		Channel: "#garrulus",
		Message: "waves",
		Action:  true,
	})
	ask(t, conn, "alice")

	assert.Contains(t, rec.last(t), `acting out "waves"`)
}

func TestPrivateMessagesNotRecorded(t *testing.T) {
	conn, rec := loaded(t)

	observe(t, conn, &pluginsdk.Event{
		Type:    pluginsdk.EventMessage,
		Nick:    "alice",
		Channel: "garrulus",
		Message: "this is just between us",
	})
	ask(t, conn, "alice")

	assert.Contains(t, rec.last(t), "I have not seen alice")
}

func TestRecordsMembershipChanges(t *testing.T) {
	conn, rec := loaded(t)

	observe(t, conn, &pluginsdk.Event{Type: pluginsdk.EventJoin, Nick: "bob", Channel: "#garrulus"})
	ask(t, conn, "bob")
	assert.Contains(t, rec.last(t), "joining #garrulus")

	observe(t, conn, &pluginsdk.Event{Type: pluginsdk.EventPart, Nick: "bob", Channel: "#garrulus"})
	ask(t, conn, "bob")
	assert.Contains(t, rec.last(t), "leaving #garrulus")

	observe(t, conn, &pluginsdk.Event{Type: pluginsdk.EventQuit, Nick: "bob", Message: "goodnight"})
	ask(t, conn, "bob")
	assert.Contains(t, rec.last(t), "quitting (goodnight)")
}

func TestNickChangeRecordsBothNames(t *testing.T) {
	conn, rec := loaded(t)

	observe(t, conn, &pluginsdk.Event{Type: pluginsdk.EventNick, Nick: "alice", Message: "alice2"})

	ask(t, conn, "alice")
	assert.Contains(t, rec.last(t), "changing nick to alice2")

	ask(t, conn, "alice2")
	assert.Contains(t, rec.last(t), "changing nick from alice")
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	conn, rec := loaded(t)

	observe(t, conn, &pluginsdk.Event{
		Type:    pluginsdk.EventMessage,
		Nick:    "Alice",
		Channel: "#garrulus",
		Message: "hi",
	})
	ask(t, conn, "ALICE")

	assert.Contains(t, rec.last(t), "Alice was last seen")
}

func TestSeenSelf(t *testing.T) {
	conn, rec := loaded(t)
	ask(t, conn, "garrulus")
	assert.Contains(t, rec.last(t), "right here, watching")
}

func TestSeenUsage(t *testing.T) {
	conn, rec := loaded(t)
	ask(t, conn, "")
	assert.Contains(t, rec.last(t), "usage: seen <nick>")
}

func TestUnknownNick(t *testing.T) {
	conn, rec := loaded(t)
	ask(t, conn, "stranger")
	assert.Contains(t, rec.last(t), "I have not seen stranger")
}

func TestRouteServesRecord(t *testing.T) {
	conn, _ := loaded(t)
	observe(t, conn, &pluginsdk.Event{
		Type:    pluginsdk.EventMessage,
		Nick:    "alice",
		Channel: "#garrulus",
		Message: "hello",
	})

	registry := bot.NewRegistry()
	require.NoError(t, registry.Add(conn))
	table := web.Collect(registry)

	w := httptest.NewRecorder()
	table.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/seen/alice", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body struct {
		Nick   string `json:"nick"`
		Action string `json:"action"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "alice", body.Nick)
	assert.Contains(t, body.Action, "saying")

	w = httptest.NewRecorder()
	table.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/seen/ghost", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCleanupStopsPruneLoop(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	conn, _ := loaded(t)
	observe(t, conn, &pluginsdk.Event{
		Type:    pluginsdk.EventMessage,
		Nick:    "alice",
		Channel: "#garrulus",
		Message: "hello",
	})
	conn.RunCleanups()
}
