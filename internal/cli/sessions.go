package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/agentlab/pkg/catalog"
	"github.com/harun/agentlab/pkg/session"
)

var showJSONL bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
	Long: `List, show and delete the sessions stored for an agent. Sessions are scoped
by the agent's app name and user id, which config app.name and app.user_id
override.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the sessions of an agent",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's state and events",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its events",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.PersistentFlags().StringVarP(&agentFlag, "agent", "a", "", "catalog agent whose sessions to inspect (default from config agent.name)")
	sessionsShowCmd.Flags().BoolVar(&showJSONL, "jsonl", false, "print events as JSON lines")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// openScope loads the app, the session store and the scope of the selected agent
func openScope(cmd *cobra.Command) (*app, session.Service, string, string, error) {
	a, err := loadApp(cmd)
	if err != nil {
		return nil, nil, "", "", err
	}
	entry, err := catalog.Lookup(a.agentName(agentFlag))
	if err != nil {
		a.Close()
		return nil, nil, "", "", err
	}
	sessions, err := a.openSessions()
	if err != nil {
		a.Close()
		return nil, nil, "", "", fmt.Errorf("failed to open session store: %w", err)
	}
	appName, userID := a.scope(entry)
	return a, sessions, appName, userID, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, sessions, appName, userID, err := openScope(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	defer sessions.Close()

	list, err := sessions.ListSessions(cmd.Context(), appName, userID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintf(out, "No sessions for %s/%s\n", appName, userID)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tSTATE KEYS")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s ago\t%s\n", s.ID, formatDuration(time.Since(s.LastUpdateTime)), strings.Join(stateKeys(s.State), ","))
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	a, sessions, appName, userID, err := openScope(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	defer sessions.Close()

	sess, err := sessions.GetSession(cmd.Context(), session.Key{AppName: appName, UserID: userID, SessionID: args[0]})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if showJSONL {
		return session.WriteJSONL(out, sess)
	}

	state, err := json.MarshalIndent(sess.State, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	fmt.Fprintf(out, "Session: %s\n", sess.ID)
	fmt.Fprintf(out, "App: %s\n", sess.AppName)
	fmt.Fprintf(out, "User: %s\n", sess.UserID)
	fmt.Fprintf(out, "Last update: %s\n", sess.LastUpdateTime.Format(time.RFC3339))
	fmt.Fprintf(out, "State: %s\n", state)
	fmt.Fprintf(out, "Events: %d\n", len(sess.Events))
	for _, ev := range sess.Events {
		if text := ev.Text(); text != "" {
			fmt.Fprintf(out, "  [%s] %s\n", ev.Author, text)
		}
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	a, sessions, appName, userID, err := openScope(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	defer sessions.Close()

	if err := sessions.DeleteSession(cmd.Context(), session.Key{AppName: appName, UserID: userID, SessionID: args[0]}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}

func stateKeys(s session.State) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
