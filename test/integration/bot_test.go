// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

//go:build integration

package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"golang.org/x/crypto/bcrypt"
	ircv4 "gopkg.in/irc.v4"

	"github.com/garrulus/garrulus/internal/auth"
	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/internal/config"
	"github.com/garrulus/garrulus/internal/dispatch"
	"github.com/garrulus/garrulus/internal/irc"
	"github.com/garrulus/garrulus/internal/plugin"
	"github.com/garrulus/garrulus/internal/plugin/lua"
	"github.com/garrulus/garrulus/internal/reload"
	"github.com/garrulus/garrulus/internal/web"

	// Compiled-in plugins register themselves on import.
	_ "github.com/garrulus/garrulus/plugins/echo"
	_ "github.com/garrulus/garrulus/plugins/ping"
	_ "github.com/garrulus/garrulus/plugins/seen"
)

const aliceMask = "alice!alice@client.example"

// ircServer is a minimal in-process IRC server. It completes client
// registration, echoes joins back, and exposes every line the client
// writes so specs can assert on outbound traffic.
type ircServer struct {
	listener net.Listener
	accepts  atomic.Int32

	mu   sync.Mutex
	conn net.Conn
	nick string

	// outbound carries client writes normalized to "COMMAND params".
	outbound chan string
}

func newIRCServer() (*ircServer, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &ircServer{
		listener: listener,
		outbound: make(chan string, 128),
	}
	go s.acceptLoop()
	return s, nil
}

func (s *ircServer) addr() string { return s.listener.Addr().String() }

func (s *ircServer) acceptCount() int32 { return s.accepts.Load() }

func (s *ircServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.accepts.Add(1)
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.conn = conn
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *ircServer) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		msg, err := ircv4.ParseMessage(scanner.Text())
		if err != nil {
			continue
		}
		switch msg.Command {
		case "NICK":
			if len(msg.Params) > 0 {
				s.mu.Lock()
				s.nick = msg.Params[0]
				s.mu.Unlock()
			}
		case "USER":
			s.send(":irc.test 001 " + s.currentNick() + " :Welcome to the test network")
		case "JOIN":
			if len(msg.Params) > 0 {
				s.send(":" + s.currentNick() + "!bot@irc.test JOIN " + msg.Params[0])
			}
		case "PING":
			s.send(":irc.test PONG irc.test :" + msg.Trailing())
		}

		select {
		case s.outbound <- msg.Command + " " + strings.Join(msg.Params, " "):
		default:
		}
	}
}

func (s *ircServer) currentNick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nick
}

func (s *ircServer) send(line string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	_, _ = conn.Write([]byte(line + "\r\n"))
}

// privmsg delivers a message to the client as if mask had sent it.
func (s *ircServer) privmsg(mask, target, text string) {
	s.send(":" + mask + " PRIVMSG " + target + " :" + text)
}

func (s *ircServer) close() {
	_ = s.listener.Close()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
}

// botConfig describes the configuration file written for a test run.
type botConfig struct {
	Plugins      []string
	AuthPassword string
	ScriptDir    string
}

// testEnv wires a full bot process around an in-process IRC server:
// connection, baseline commands, plugins, reload coordinator, and the
// HTTP route surface.
type testEnv struct {
	ctx    context.Context
	cancel context.CancelFunc

	dir        string
	configPath string

	server      *ircServer
	registry    *bot.Registry
	authz       *auth.Authorizer
	coordinator *reload.Coordinator
	webServer   *web.Server
	client      *irc.Client

	baseURL string
	runDone chan struct{}
}

func setupTestEnv(cfg botConfig) (*testEnv, error) {
	ctx, cancel := context.WithCancel(context.Background())

	env := &testEnv{
		ctx:     ctx,
		cancel:  cancel,
		runDone: make(chan struct{}),
	}

	var err error
	env.dir, err = os.MkdirTemp("", "garrulus-test-*")
	if err != nil {
		cancel()
		return nil, err
	}
	env.configPath = filepath.Join(env.dir, "garrulus.yaml")

	env.server, err = newIRCServer()
	if err != nil {
		cancel()
		return nil, err
	}

	if err := env.writeConfig(cfg); err != nil {
		env.server.close()
		cancel()
		return nil, err
	}

	loaded, err := config.Load(env.configPath, nil)
	if err != nil {
		env.server.close()
		cancel()
		return nil, err
	}
	botCfg, err := loaded.Bot("testnet")
	if err != nil {
		env.server.close()
		cancel()
		return nil, err
	}

	env.authz = auth.New()
	builtins := dispatch.NewBuiltins(env.authz)
	env.registry = bot.NewRegistry()
	conn := bot.NewConnection(botCfg, bot.WithBaseline(builtins.Baseline))
	if err := env.registry.Add(conn); err != nil {
		env.server.close()
		cancel()
		return nil, err
	}

	if cfg.ScriptDir != "" {
		if err := registerScripts(cfg.ScriptDir); err != nil {
			env.server.close()
			cancel()
			return nil, err
		}
	}

	loader := plugin.NewLoader()
	env.webServer = web.NewServer("127.0.0.1:0")

	opts := []reload.Option{reload.WithWebServer(env.webServer)}
	if cfg.ScriptDir != "" {
		dir := cfg.ScriptDir
		opts = append(opts, reload.WithRefresh(func(context.Context) error {
			return registerScripts(dir)
		}))
	}
	env.coordinator = reload.NewCoordinator(env.registry, loader,
		&config.FileSource{Path: env.configPath}, opts...)
	builtins.SetReloader(env.coordinator)

	loader.LoadAll(ctx, conn)
	env.webServer.Install(web.Collect(env.registry))

	if _, err := env.webServer.Start(); err != nil {
		env.server.close()
		cancel()
		return nil, err
	}
	env.baseURL = "http://" + env.webServer.Addr()

	env.client = irc.NewClient(conn, dispatch.NewDispatcher())
	go func() {
		defer close(env.runDone)
		_ = env.client.Run(ctx)
	}()

	return env, nil
}

// writeConfig renders the configuration file. Rewriting it with a
// different plugin set models an operator editing the file before a
// reload.
func (env *testEnv) writeConfig(cfg botConfig) error {
	var b strings.Builder
	b.WriteString("log_level: error\n")
	if cfg.ScriptDir != "" {
		fmt.Fprintf(&b, "script_dir: %q\n", cfg.ScriptDir)
	}
	b.WriteString("bots:\n")
	b.WriteString("  - name: testnet\n")
	fmt.Fprintf(&b, "    server:\n      addr: %q\n", env.server.addr())
	b.WriteString("    nick: garrulus\n")
	b.WriteString("    channels: [\"#garrulus\"]\n")
	if len(cfg.Plugins) > 0 {
		fmt.Fprintf(&b, "    plugins: [%s]\n", strings.Join(cfg.Plugins, ", "))
	}
	if cfg.AuthPassword != "" {
		fmt.Fprintf(&b, "    auth_password: %q\n", cfg.AuthPassword)
	}
	return os.WriteFile(env.configPath, []byte(b.String()), 0o600)
}

func registerScripts(dir string) error {
	specs, err := lua.Discover(dir)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if err := plugin.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func (env *testEnv) cleanup() {
	env.cancel()
	select {
	case <-env.runDone:
	case <-time.After(5 * time.Second):
	}

	env.coordinator.TeardownAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = env.webServer.Stop(ctx)

	env.authz.Stop()
	env.server.close()
	_ = os.RemoveAll(env.dir)
}

// waitRegistered blocks until the session is up and the bot has joined
// its configured channel.
func (env *testEnv) waitRegistered() {
	EventuallyWithOffset(1, func() []string {
		return env.client.Channels()
	}).Should(ContainElement("#garrulus"))
}

// expectSaid waits for the client to send exactly this message.
func (env *testEnv) expectSaid(target, text string) {
	EventuallyWithOffset(1, env.server.outbound).Should(
		Receive(Equal("PRIVMSG " + target + " " + text)))
}

type seenRecord struct {
	Nick   string `json:"nick"`
	Action string `json:"action"`
}

// fetchSeen polls the seen route until it answers 200 and decodes the
// record.
func (env *testEnv) fetchSeen(nick string) seenRecord {
	var rec seenRecord
	EventuallyWithOffset(1, func() error {
		resp, err := http.Get(env.baseURL + "/seen/" + nick)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&rec)
	}).Should(Succeed())
	return rec
}

func writeScript(dir, name, version, source string) error {
	pluginDir := filepath.Join(dir, name)
	if err := os.MkdirAll(pluginDir, 0o750); err != nil {
		return err
	}
	manifest := fmt.Sprintf("name: %s\nversion: %s\nmain: main.lua\n", name, version)
	if err := os.WriteFile(filepath.Join(pluginDir, "plugin.yaml"), []byte(manifest), 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(pluginDir, "main.lua"), []byte(source), 0o600)
}

var _ = Describe("Bot", func() {
	var env *testEnv

	AfterEach(func() {
		if env != nil {
			env.cleanup()
			env = nil
		}
	})

	Describe("chat commands", func() {
		BeforeEach(func() {
			var err error
			env, err = setupTestEnv(botConfig{Plugins: []string{"ping", "seen"}})
			Expect(err).NotTo(HaveOccurred())
			env.waitRegistered()
		})

		It("answers a prefixed command in the channel", func() {
			env.server.privmsg(aliceMask, "#garrulus", "!ping")
			env.expectSaid("#garrulus", "pong")
		})

		It("answers a private message without a prefix", func() {
			env.server.privmsg(aliceMask, "garrulus", "ping")
			env.expectSaid("alice", "pong")
		})

		It("lists plugin commands in help", func() {
			env.server.privmsg(aliceMask, "#garrulus", "!help")
			Eventually(env.server.outbound).Should(Receive(And(
				HavePrefix("PRIVMSG #garrulus Commands:"),
				ContainSubstring("ping"),
				ContainSubstring("seen"),
			)))
		})

		It("stays silent on unknown commands", func() {
			env.server.privmsg(aliceMask, "#garrulus", "!nonsuch")
			Consistently(env.server.outbound, 300*time.Millisecond).ShouldNot(
				Receive(HavePrefix("PRIVMSG")))
		})
	})

	Describe("activity tracking over HTTP", func() {
		BeforeEach(func() {
			var err error
			env, err = setupTestEnv(botConfig{Plugins: []string{"ping", "seen"}})
			Expect(err).NotTo(HaveOccurred())
			env.waitRegistered()
		})

		It("serves a sighting recorded from channel traffic", func() {
			env.server.privmsg(aliceMask, "#garrulus", "hello everyone")

			rec := env.fetchSeen("alice")
			Expect(rec.Nick).To(Equal("alice"))
			Expect(rec.Action).To(ContainSubstring("hello everyone"))
		})

		It("returns 404 for a nick it never saw", func() {
			resp, err := http.Get(env.baseURL + "/seen/nobody")
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = resp.Body.Close() }()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("operator reload", func() {
		var authHash string

		BeforeEach(func() {
			hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
			Expect(err).NotTo(HaveOccurred())
			authHash = string(hash)

			env, err = setupTestEnv(botConfig{
				Plugins:      []string{"ping", "seen"},
				AuthPassword: authHash,
			})
			Expect(err).NotTo(HaveOccurred())
			env.waitRegistered()
		})

		It("applies a changed plugin set without dropping the connection", func() {
			By("recording channel activity with the old plugin set")
			env.server.privmsg(aliceMask, "#garrulus", "hello everyone")
			rec := env.fetchSeen("alice")
			Expect(rec.Nick).To(Equal("alice"))

			By("authenticating as operator in private")
			env.server.privmsg(aliceMask, "garrulus", "auth hunter2")
			env.expectSaid("alice", "You are now authorized.")

			By("reloading after the plugin set changed on disk")
			Expect(env.writeConfig(botConfig{
				Plugins:      []string{"ping", "echo"},
				AuthPassword: authHash,
			})).To(Succeed())
			env.server.privmsg(aliceMask, "garrulus", "reload")
			env.expectSaid("alice", "Reload complete.")

			By("serving the new plugin's command")
			env.server.privmsg(aliceMask, "#garrulus", "!echo hi there")
			env.expectSaid("#garrulus", "hi there")

			By("dropping the unloaded plugin's routes")
			resp, err := http.Get(env.baseURL + "/seen/alice")
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = resp.Body.Close() }()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			Expect(env.server.acceptCount()).To(Equal(int32(1)),
				"reload must reuse the existing session")
		})

		It("refuses operator commands before authentication", func() {
			env.server.privmsg(aliceMask, "garrulus", "reload")
			env.expectSaid("alice", "You are not authorized to do that.")
		})
	})

	Describe("scripted plugins", func() {
		var scriptsDir string

		BeforeEach(func() {
			var err error
			scriptsDir, err = os.MkdirTemp("", "garrulus-scripts-*")
			Expect(err).NotTo(HaveOccurred())

			Expect(writeScript(scriptsDir, "greeter", "1.0.0",
				"garrulus.command(\"greet\", \"say hello\", \"greet\", function(cmd)\n"+
					"  return \"hello \" .. cmd.nick\n"+
					"end)\n")).To(Succeed())

			env, err = setupTestEnv(botConfig{
				Plugins:   []string{"greeter"},
				ScriptDir: scriptsDir,
			})
			Expect(err).NotTo(HaveOccurred())
			env.waitRegistered()
		})

		AfterEach(func() {
			_ = os.RemoveAll(scriptsDir)
		})

		It("serves a command from a Lua script", func() {
			env.server.privmsg(aliceMask, "#garrulus", "!greet")
			env.expectSaid("#garrulus", "hello alice")
		})

		It("picks up script edits on reload", func() {
			env.server.privmsg(aliceMask, "#garrulus", "!greet")
			env.expectSaid("#garrulus", "hello alice")

			Expect(writeScript(scriptsDir, "greeter", "1.0.1",
				"garrulus.command(\"greet\", \"say hello\", \"greet\", function(cmd)\n"+
					"  return \"howdy \" .. cmd.nick\n"+
					"end)\n")).To(Succeed())
			Expect(env.coordinator.ReloadAll(env.ctx)).To(Succeed())

			env.server.privmsg(aliceMask, "#garrulus", "!greet")
			env.expectSaid("#garrulus", "howdy alice")
		})
	})
})
