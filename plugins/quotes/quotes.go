// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package quotes keeps a connection-wide quote board. Anyone may add
// and recall quotes; deleting one takes operator rights.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/internal/ident"
	"github.com/garrulus/garrulus/internal/plugin"
	pluginsdk "github.com/garrulus/garrulus/pkg/plugin"
)

const bucket = "quotes"

func init() {
	plugin.MustRegister(plugin.Spec{
		Name:    "quotes",
		Version: "1.1.0",
		Init:    setup,
	})
}

// quote entries are stored under ULID keys, so the store's sorted key
// order is chronological and quote numbers stay stable until a
// deletion.
type quote struct {
	Text    string    `json:"text"`
	Author  string    `json:"author"`
	Channel string    `json:"channel,omitempty"`
	Time    time.Time `json:"time"`
}

type board struct {
	conn *bot.Connection
}

func setup(_ context.Context, conn *bot.Connection, m *bot.Module) error {
	b := &board{conn: conn}
	m.Command("quote", "recall a stored quote", "quote [n]", b.recall)
	m.Command("quote-add", "store a new quote", "quote-add <text>", b.add)
	m.OperatorCommand("quote-del", "delete a stored quote", "quote-del <n>", b.del)
	return nil
}

func (b *board) add(ctx context.Context, cmd *pluginsdk.Command) error {
	if cmd.ArgLine == "" {
		return cmd.Reply("usage: quote-add <text>")
	}
	channel := ""
	if !cmd.Private() {
		channel = cmd.Channel
	}
	raw, err := json.Marshal(quote{
		Text:    cmd.ArgLine,
		Author:  cmd.Nick,
		Channel: channel,
		Time:    time.Now(),
	})
	if err != nil {
		return err
	}
	store := b.conn.Store()
	if err := store.Put(ctx, bucket, ident.New().String(), string(raw)); err != nil {
		return err
	}
	keys, err := store.Keys(ctx, bucket)
	if err != nil {
		return err
	}
	return cmd.Reply(fmt.Sprintf("quote #%d added", len(keys)))
}

func (b *board) recall(ctx context.Context, cmd *pluginsdk.Command) error {
	keys, err := b.conn.Store().Keys(ctx, bucket)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return cmd.Reply("no quotes yet")
	}

	idx := rand.IntN(len(keys))
	if len(cmd.Args) > 0 {
		n, err := strconv.Atoi(cmd.Args[0])
		if err != nil || n < 1 || n > len(keys) {
			return cmd.Reply(fmt.Sprintf("no such quote (have %d)", len(keys)))
		}
		idx = n - 1
	}

	raw, ok, err := b.conn.Store().Get(ctx, bucket, keys[idx])
	if err != nil {
		return err
	}
	if !ok {
		return cmd.Reply("no quotes yet")
	}
	var q quote
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return err
	}
	return cmd.Reply(fmt.Sprintf("[%d/%d] %s", idx+1, len(keys), q.Text))
}

func (b *board) del(ctx context.Context, cmd *pluginsdk.Command) error {
	if len(cmd.Args) == 0 {
		return cmd.Reply("usage: quote-del <n>")
	}
	keys, err := b.conn.Store().Keys(ctx, bucket)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(cmd.Args[0])
	if err != nil || n < 1 || n > len(keys) {
		return cmd.Reply(fmt.Sprintf("no such quote (have %d)", len(keys)))
	}
	if err := b.conn.Store().Delete(ctx, bucket, keys[n-1]); err != nil {
		return err
	}
	return cmd.Reply(fmt.Sprintf("quote #%d deleted", n))
}
