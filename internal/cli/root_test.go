package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		output, err := execute(t, "", "--version")
		require.NoError(t, err)

		assert.Contains(t, output, "agentlab version")
		assert.Contains(t, output, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		helpText, err := execute(t, "", "--help")
		require.NoError(t, err)

		assert.Contains(t, helpText, "agentlab")
		assert.Contains(t, helpText, "terminal")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		// Check config flag exists
		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		// Check log-level flag exists
		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)

		verboseFlag := cmd.PersistentFlags().Lookup("verbose")
		require.NotNil(t, verboseFlag)
		assert.Equal(t, "v", verboseFlag.Shorthand)
	})

	t.Run("subcommands", func(t *testing.T) {
		var names []string
		for _, c := range GetRootCmd().Commands() {
			names = append(names, c.Name())
		}
		for _, want := range []string{"chat", "ask", "sessions", "index", "ingest", "retrieve", "agents", "configure", "status"} {
			assert.Contains(t, names, want)
		}
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file is ignored", func(t *testing.T) {
		assert.NoError(t, loadEnvFile(filepath.Join(dir, "nope.env")))
		assert.NoError(t, loadEnvFile(""))
	})

	t.Run("exports variables without overriding", func(t *testing.T) {
		path := filepath.Join(dir, ".env")
		require.NoError(t, os.WriteFile(path, []byte("AGENTLAB_TEST_KEY=from-file\nAGENTLAB_TEST_SET=from-file\n"), 0600))
		t.Setenv("AGENTLAB_TEST_SET", "from-env")
		t.Setenv("AGENTLAB_TEST_KEY", "")
		os.Unsetenv("AGENTLAB_TEST_KEY")

		require.NoError(t, loadEnvFile(path))
		assert.Equal(t, "from-file", os.Getenv("AGENTLAB_TEST_KEY"))
		assert.Equal(t, "from-env", os.Getenv("AGENTLAB_TEST_SET"))
	})
}
