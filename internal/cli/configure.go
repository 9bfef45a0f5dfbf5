package cli

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/agentlab/internal/config"
	"github.com/harun/agentlab/pkg/catalog"
)

var showConfig bool

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up agentlab.
The wizard asks for the default agent, session storage, LLM credentials and
the vector store used by the RAG commands. Press Enter to keep the value
shown in brackets. With --show the effective configuration is printed with
credentials masked instead.`,
	Args: cobra.NoArgs,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().BoolVar(&showConfig, "show", false, "print the effective configuration and exit")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	if showConfig {
		fmt.Fprintln(out, masked(cfg).String())
		for _, warning := range config.NewValidator().ValidateConfig(cfg) {
			fmt.Fprintf(out, "warning: %v\n", warning)
		}
		return nil
	}

	w := &wizard{in: bufio.NewScanner(cmd.InOrStdin()), out: out}
	if err := w.run(cfg); err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Save configuration
	loader := config.NewLoader(cfgFile)
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintf(out, "\nYou can now start chatting with: agentlab chat --agent %s\n", cfg.Agent.Name)
	return nil
}

type wizard struct {
	in  *bufio.Scanner
	out io.Writer
}

// ask prints question with its default and returns the answer, or the
// default for an empty line or end of input
func (w *wizard) ask(question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", question)
	}
	if !w.in.Scan() {
		if err := w.in.Err(); err != nil {
			return "", err
		}
		fmt.Fprintln(w.out)
		return def, nil
	}
	answer := strings.TrimSpace(w.in.Text())
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// choose asks until the answer is one of options
func (w *wizard) choose(question, def string, options []string) (string, error) {
	prompt := fmt.Sprintf("%s (%s)", question, strings.Join(options, ", "))
	for {
		answer, err := w.ask(prompt, def)
		if err != nil {
			return "", err
		}
		if slices.Contains(options, answer) {
			return answer, nil
		}
		fmt.Fprintf(w.out, "Please enter one of: %s\n", strings.Join(options, ", "))
		if answer == def {
			return "", fmt.Errorf("no valid answer for %q", question)
		}
	}
}

func (w *wizard) run(cfg *config.Config) error {
	fmt.Fprintln(w.out, "agentlab configuration")
	fmt.Fprintln(w.out)

	var err error
	if cfg.Agent.Name, err = w.choose("Default agent", cfg.Agent.Name, catalog.Names()); err != nil {
		return err
	}
	if cfg.Agent.Model, err = w.ask("Model name (empty uses the agent's default)", cfg.Agent.Model); err != nil {
		return err
	}

	if cfg.Session.Backend, err = w.choose("Session backend", cfg.Session.Backend, []string{"memory", "sqlite"}); err != nil {
		return err
	}
	if cfg.Session.Backend == "sqlite" {
		if cfg.Session.DBURL, err = w.ask("Session database URL", cfg.Session.DBURL); err != nil {
			return err
		}
	}

	provider, err := w.choose("LLM provider to add credentials for", "skip", []string{"openai", "anthropic", "gemini", "skip"})
	if err != nil {
		return err
	}
	if provider != "skip" {
		key, err := w.ask(fmt.Sprintf("%s API key", provider), "")
		if err != nil {
			return err
		}
		if key != "" {
			setProfile(cfg, provider, key)
		}
	}

	if cfg.VectorStore.Backend, err = w.choose("Vector store backend", cfg.VectorStore.Backend, []string{"pinecone", "sqlite"}); err != nil {
		return err
	}
	if cfg.VectorStore.Index, err = w.ask("Index name", cfg.VectorStore.Index); err != nil {
		return err
	}
	if cfg.Embedding.Provider, err = w.choose("Embedding provider", cfg.Embedding.Provider, []string{"openai", "gemini"}); err != nil {
		return err
	}
	return nil
}

// setProfile replaces the provider's profile or adds one with the lowest
// priority
func setProfile(cfg *config.Config, provider, key string) {
	for i := range cfg.AI.Profiles {
		if cfg.AI.Profiles[i].Provider == provider {
			cfg.AI.Profiles[i].APIKey = key
			return
		}
	}
	cfg.AI.Profiles = append(cfg.AI.Profiles, config.AIProfile{
		ID:       provider,
		Provider: provider,
		APIKey:   key,
		Priority: len(cfg.AI.Profiles),
	})
}

func masked(cfg *config.Config) *config.Config {
	c := *cfg
	c.AI.Profiles = slices.Clone(cfg.AI.Profiles)
	for i := range c.AI.Profiles {
		c.AI.Profiles[i].APIKey = mask(c.AI.Profiles[i].APIKey)
	}
	c.Embedding.APIKey = mask(c.Embedding.APIKey)
	c.VectorStore.APIKey = mask(c.VectorStore.APIKey)
	return &c
}

func mask(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "********"
	}
	return key[:4] + "********"
}
