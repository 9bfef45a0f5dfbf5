package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/agentlab/internal/config"
	"github.com/harun/agentlab/pkg/catalog"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and session status",
	Long: `Show which config file is in use, the selected agent and model, the
configured credentials, and the sessions stored for the agent.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&agentFlag, "agent", "a", "", "catalog agent to report on (default from config agent.name)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	cfg := a.cfg

	path := config.NewLoader(cfgFile).GetConfigPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "Config: %s\n", path)
	} else {
		fmt.Fprintf(out, "Config: %s (not found, using defaults)\n", path)
	}

	entry, err := catalog.Lookup(a.agentName(agentFlag))
	if err != nil {
		return err
	}
	modelName := cfg.Agent.Model
	if modelName == "" {
		modelName = entry.DefaultModel
	}
	appName, userID := a.scope(entry)
	fmt.Fprintf(out, "Agent: %s (model %s)\n", entry.Name, modelName)

	providers := make([]string, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		providers = append(providers, p.ID)
	}
	if len(providers) == 0 {
		fmt.Fprintln(out, "AI profiles: none")
	} else {
		fmt.Fprintf(out, "AI profiles: %s\n", strings.Join(providers, ", "))
	}
	fmt.Fprintf(out, "Vector store: %s index '%s'\n", cfg.VectorStore.Backend, cfg.VectorStore.Index)

	if cfg.Session.Backend == "memory" {
		fmt.Fprintln(out, "Sessions: in memory, nothing stored")
		return nil
	}

	sessions, err := a.openSessions()
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sessions.Close()

	list, err := sessions.ListSessions(cmd.Context(), appName, userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sessions: %d stored for %s/%s in %s\n", len(list), appName, userID, cfg.Session.DBURL)

	var latest time.Time
	for _, s := range list {
		if s.LastUpdateTime.After(latest) {
			latest = s.LastUpdateTime
		}
	}
	if !latest.IsZero() {
		fmt.Fprintf(out, "Last activity: %s ago\n", formatDuration(time.Since(latest)))
	}
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
