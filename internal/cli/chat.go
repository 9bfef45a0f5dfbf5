package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/agentlab/internal/metrics"
	"github.com/harun/agentlab/pkg/console"
	"github.com/harun/agentlab/pkg/runner"
	"github.com/harun/agentlab/pkg/session"
)

var (
	agentFlag   string
	resumeFlag  bool
	historyFlag bool
	metricsAddr string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with an agent",
	Long: `Start an interactive conversation with a catalog agent. Every line is one
turn; type 'exit' or 'quit', or press Ctrl-D, to end the conversation.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send a single message to an agent and print its reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	for _, cmd := range []*cobra.Command{chatCmd, askCmd} {
		cmd.Flags().StringVarP(&agentFlag, "agent", "a", "", "catalog agent to run (default from config agent.name)")
		cmd.Flags().BoolVar(&resumeFlag, "resume", false, "continue the user's first stored session (default depends on the agent)")
		cmd.Flags().BoolVar(&historyFlag, "history", false, "record interaction_history around every turn (default depends on the agent)")
		rootCmd.AddCommand(cmd)
	}
	chatCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (default from config metrics.addr)")
}

// session wiring shared by chat and ask
type conversation struct {
	app      *app
	setup    *agentSetup
	sessions session.Service
	console  *console.Console
}

func (c *conversation) Close() {
	if c.setup != nil {
		if err := c.setup.Close(); err != nil {
			c.app.logger.Warn().Err(err).Msg("Failed to release agent resources")
		}
	}
	if c.sessions != nil {
		if err := c.sessions.Close(); err != nil {
			c.app.logger.Warn().Err(err).Msg("Failed to close session store")
		}
	}
}

func startConversation(ctx context.Context, cmd *cobra.Command, a *app, in io.Reader, out io.Writer) (*conversation, error) {
	conv := &conversation{app: a}

	sessions, err := a.openSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	conv.sessions = sessions

	setup, err := a.buildAgent(ctx, a.agentName(agentFlag))
	if err != nil {
		conv.Close()
		return nil, err
	}
	conv.setup = setup

	resume := setup.entry.ResumeExisting
	if cmd.Flags().Changed("resume") {
		resume = resumeFlag
	}
	history := setup.entry.TrackHistory
	if cmd.Flags().Changed("history") {
		history = historyFlag
	}

	r, err := runner.New(runner.Config{
		AppName:  setup.appName,
		Agent:    setup.agent,
		Sessions: sessions,
		Logger:   a.logger,
	})
	if err != nil {
		conv.Close()
		return nil, err
	}

	conv.console, err = console.New(console.Config{
		AppName:        setup.appName,
		UserID:         setup.userID,
		InitialState:   setup.entry.State(),
		Sessions:       sessions,
		Delegate:       r,
		In:             in,
		Out:            out,
		ResumeExisting: resume,
		TrackHistory:   history,
		Farewell:       setup.entry.Farewell,
		Logger:         a.logger,
	})
	if err != nil {
		conv.Close()
		return nil, err
	}

	if _, err := conv.console.Initialize(ctx); err != nil {
		conv.Close()
		return nil, err
	}
	return conv, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := metricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	if addr != "" {
		srv := metrics.NewServer(addr, a.logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()
	}

	out := cmd.OutOrStdout()
	conv, err := startConversation(ctx, cmd, a, cmd.InOrStdin(), out)
	if err != nil {
		return err
	}
	defer conv.Close()

	if conv.console.Resumed() {
		fmt.Fprintf(out, "Continuing existing session: %s\n", conv.console.SessionID())
	} else {
		fmt.Fprintf(out, "Created new session: %s\n", conv.console.SessionID())
	}
	fmt.Fprintf(out, "Chatting with %s. Type 'exit' or 'quit' to end the conversation.\n\n", conv.setup.entry.Name)

	return conv.console.Run(ctx)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := startConversation(ctx, cmd, a, strings.NewReader(""), io.Discard)
	if err != nil {
		return err
	}
	defer conv.Close()

	reply, err := conv.console.Turn(ctx, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("agent call failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}
