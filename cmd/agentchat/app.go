package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/skosovsky/agentsy"
	"github.com/skosovsky/agentsy/config"
	"github.com/skosovsky/agentsy/redisstore"
	"github.com/skosovsky/agentsy/sqlitestore"
	"github.com/skosovsky/agentsy/toolkits/timetool"
)

const helpText = `commands:
  /new          start a new session
  /sessions     list sessions, newest first
  /switch ID    continue the session whose id starts with ID
  /delete ID    delete the session whose id starts with ID
  /help         show this help
  /quit         leave (also /exit or end of input)
Ctrl-C cancels the answer being generated.
`

// app is one chat front end: an agent, its session store and a terminal renderer.
type app struct {
	cfg     *config.File
	out     io.Writer
	logger  *slog.Logger
	agent   *agentsy.Agent
	store   agentsy.SessionStore
	term    *terminal
	session *agentsy.Session
	closeFn func() error
	busy    atomic.Bool
}

func newApp(ctx context.Context, cfg *config.File, out io.Writer, logger *slog.Logger, verbose bool, extra ...agentsy.Option) (*app, error) {
	opts := append(cfg.Options(logger), extra...)
	agent, err := agentsy.New(cfg.Agent(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	reg := agent.Registry()
	reg.Use(
		agentsy.WithRecovery(),
		agentsy.WithTracing(otel.GetTracerProvider()),
		agentsy.WithLogging(logger),
	)
	var topts []timetool.Option
	if cfg.Tools.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Tools.Timezone)
		if err != nil {
			return nil, fmt.Errorf("tools.timezone: %w", err)
		}
		topts = append(topts, timetool.WithLocation(loc))
	}
	if err := timetool.Register(reg, topts...); err != nil {
		return nil, fmt.Errorf("register time tools: %w", err)
	}
	var tools []string
	for _, name := range cfg.Tools.Enabled {
		if _, ok := reg.GetDefinition(name); !ok {
			logger.Warn("skipping unknown tool", "tool", name)
			continue
		}
		tools = append(tools, name)
	}

	a := &app{cfg: cfg, out: out, logger: logger, agent: agent, closeFn: func() error { return nil }}
	switch {
	case cfg.SessionRedis != "":
		s, err := redisstore.Open(ctx, cfg.SessionRedis)
		if err != nil {
			return nil, err
		}
		a.store, a.closeFn = s, s.Close
	case cfg.SessionDB != "":
		s, err := sqlitestore.Open(ctx, cfg.SessionDB)
		if err != nil {
			return nil, err
		}
		a.store, a.closeFn = s, s.Close
	default:
		a.store = agentsy.NewMemoryStore()
	}
	a.term = newTerminal(out, cfg.Stream, verbose)
	a.session = agentsy.NewSession(agent, a.term, a.store, tools...)
	return a, nil
}

// resume loads the active session into the agent, replaying its messages on screen.
func (a *app) resume(ctx context.Context) error {
	a.term.replaying(true)
	defer a.term.replaying(false)
	return a.session.Resume(ctx)
}

// restart clears the transcript back to the system message and resumes the active session.
func (a *app) restart(ctx context.Context) error {
	var initial []agentsy.Message
	if a.cfg.SystemMessage != "" {
		initial = append(initial, agentsy.SystemMessage(a.cfg.SystemMessage))
	}
	a.agent.Conversation().Reset(initial)
	return a.resume(ctx)
}

// send runs one user turn. Cancellation shows a notice and is not an error.
func (a *app) send(ctx context.Context, content string) error {
	a.busy.Store(true)
	defer a.busy.Store(false)
	res, err := a.session.Send(ctx, content)
	if err != nil {
		return err
	}
	if res.Message == nil && !res.Canceled {
		a.logger.Warn("no answer within the round budget", "rounds", res.Rounds)
		fmt.Fprintf(a.out, "assistant> (no answer after %d rounds)\n", res.Rounds)
	}
	return nil
}

// interrupt aborts the running turn and reports whether there was one.
func (a *app) interrupt() bool {
	if !a.busy.Load() {
		return false
	}
	a.agent.Abort()
	return true
}

// repl reads lines from in until end of input, /quit or ctx is done.
func (a *app) repl(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	var scanErr error
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		scanErr = sc.Err()
	}()

	for {
		fmt.Fprint(a.out, "you> ")
		var line string
		var ok bool
		select {
		case line, ok = <-lines:
		case <-ctx.Done():
			fmt.Fprintln(a.out)
			return nil
		}
		if !ok {
			fmt.Fprintln(a.out)
			return scanErr
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "/"):
			quit, err := a.command(ctx, line)
			if err != nil {
				fmt.Fprintf(a.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		default:
			if err := a.send(ctx, line); err != nil {
				fmt.Fprintf(a.out, "error: %v\n", err)
			}
		}
	}
}

func (a *app) command(ctx context.Context, line string) (quit bool, err error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprint(a.out, helpText)
	case "/new":
		rec, err := a.store.CreateSession(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "new session %s\n", rec.ID)
		return false, a.restart(ctx)
	case "/sessions":
		return false, a.listSessions(ctx)
	case "/switch":
		id, err := a.resolve(ctx, arg)
		if err != nil {
			return false, err
		}
		if _, err := a.store.SwitchSession(ctx, id); err != nil {
			return false, err
		}
		return false, a.restart(ctx)
	case "/delete":
		id, err := a.resolve(ctx, arg)
		if err != nil {
			return false, err
		}
		active, err := a.store.ActiveSession(ctx)
		if err != nil {
			return false, err
		}
		if err := a.store.DeleteSession(ctx, id); err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "deleted session %s\n", id)
		if id == active.ID {
			return false, a.restart(ctx)
		}
	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}
	return false, nil
}

func (a *app) listSessions(ctx context.Context) error {
	all, err := a.store.Sessions(ctx)
	if err != nil {
		return err
	}
	active, err := a.store.ActiveSession(ctx)
	if err != nil {
		return err
	}
	for _, rec := range all {
		marker := " "
		if rec.ID == active.ID {
			marker = "*"
		}
		title := rec.Title()
		if title == "" {
			title = "(empty)"
		}
		fmt.Fprintf(a.out, "%s %s  %s  %s\n", marker, rec.ID, rec.CreatedAt.Format(time.DateTime), shorten(title, 60))
	}
	return nil
}

// resolve finds the single session whose id starts with prefix.
func (a *app) resolve(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", errors.New("missing session id")
	}
	all, err := a.store.Sessions(ctx)
	if err != nil {
		return "", err
	}
	var found []string
	for _, rec := range all {
		if strings.HasPrefix(rec.ID, prefix) {
			found = append(found, rec.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: %s", agentsy.ErrSessionNotFound, prefix)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("session id %s is ambiguous (%d matches)", prefix, len(found))
	}
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}

// Close releases the session store.
func (a *app) Close() error { return a.closeFn() }
