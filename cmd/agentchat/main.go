// Command agentchat is a terminal chat client for OpenAI-compatible endpoints with tool
// calling, streamed answers and persistent sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skosovsky/agentsy/config"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configFile string
	verbose    bool
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: in, out: out, errOut: errOut}

	rootCmd := &cobra.Command{
		Use:   "agentchat",
		Short: "Chat with an OpenAI-compatible model that can call tools",
		Long: `agentchat talks to any OpenAI-compatible chat-completion endpoint. The model may call
the built-in date and time tools; answers are streamed and every session is kept in
memory, in a SQLite database (--session-db) or in Redis (--session-redis).

Settings come from --config, AGENTSY_* environment variables and flags, in increasing
order of precedence.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.runChat,
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&c.configFile, "config", "c", "", "configuration file path (yaml, json or toml)")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "show model reasoning")
	pf.String("model", "", "model name")
	pf.String("url", "", "chat-completion endpoint URL")
	pf.String("system", "", "system message")
	pf.Int("max-rounds", 0, "maximum request rounds per answer")
	pf.Bool("stream", true, "print answers as they are generated")
	pf.String("session-db", "", "SQLite file to keep sessions in")
	pf.String("session-redis", "", "Redis URL to keep sessions in, e.g. redis://localhost:6379/0")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.StringSlice("tools", nil, "tools offered to the model")
	pf.Duration("request-timeout", 0, "timeout of a single model request")

	askCmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Ask one question and print the answer",
		Long:  `Send a single prompt in the active session and print the answer. A prompt of "-" is read from standard input.`,
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.runAsk,
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored sessions",
	}
	sessionsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		Args:  cobra.NoArgs,
		RunE:  c.runSessionsList,
	}
	sessionsDeleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a stored session",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runSessionsDelete,
	}
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  c.runConfigShow,
	}
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(askCmd, sessionsCmd, configCmd)
	return rootCmd
}

func (c *cli) loadConfig(cmd *cobra.Command) (*config.File, error) {
	cfg, err := config.Load(c.configFile, config.WithFlags(cmd.Flags()))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func (c *cli) open(cmd *cobra.Command) (*app, error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger(c.errOut)
	a, err := newApp(cmd.Context(), cfg, c.out, logger, c.verbose)
	if err != nil {
		return nil, err
	}
	if c.verbose {
		logger.Debug("configuration", "config", cfg.String())
	}
	return a, nil
}

// withInterrupts cancels the running answer on SIGINT and the whole command on a SIGINT
// while idle or on SIGTERM.
func withInterrupts(ctx context.Context, a *app) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGINT && a.interrupt() {
					continue
				}
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func (c *cli) runChat(cmd *cobra.Command, _ []string) error {
	a, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := withInterrupts(cmd.Context(), a)
	defer stop()
	if err := a.resume(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "agentchat %s, /help for commands\n", a.cfg.Model)
	return a.repl(ctx, c.in)
}

func (c *cli) runAsk(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")
	if prompt == "-" {
		data, err := io.ReadAll(c.in)
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return errors.New("empty prompt")
	}

	a, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := withInterrupts(cmd.Context(), a)
	defer stop()
	// Earlier messages are context only; they are not printed.
	if err := a.session.Resume(ctx); err != nil {
		return err
	}
	return a.send(ctx, prompt)
}

func (c *cli) runSessionsList(cmd *cobra.Command, _ []string) error {
	a, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.listSessions(cmd.Context())
}

func (c *cli) runSessionsDelete(cmd *cobra.Command, args []string) error {
	a, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	id, err := a.resolve(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := a.store.DeleteSession(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "deleted session %s\n", id)
	return nil
}

func (c *cli) runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, cfg.String())
	return nil
}
