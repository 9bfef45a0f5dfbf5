package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/agentlab/internal/config"
	"github.com/harun/agentlab/pkg/model"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		helpText, err := execute(t, "", "configure", "--help")
		require.NoError(t, err)
		assert.Contains(t, helpText, "interactive configuration wizard")
	})

	t.Run("wizard saves answers", func(t *testing.T) {
		env := setupEnv(t, model.NewMock())
		path := filepath.Join(env.dir, "new", "agentlab.json")

		answers := "bogus_agent\n" + // rejected
			"string_agent\n" + // agent
			"\n" + // model: keep empty
			"memory\n" + // session backend
			"anthropic\n" + // provider
			"sk-ant-REDACTED\n" + // key
			"sqlite\n" + // vector store
			"\n" + // index name: keep
			"openai\n" // embedding provider

		out, err := execute(t, answers, "configure", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Default agent (")
		assert.Contains(t, out, "Please enter one of:")
		assert.Contains(t, out, "Configuration saved to: "+path)
		assert.Contains(t, out, "agentlab chat --agent string_agent")

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "string_agent", cfg.Agent.Name)
		assert.Equal(t, "", cfg.Agent.Model)
		assert.Equal(t, "memory", cfg.Session.Backend)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "anthropic", cfg.AI.Profiles[0].Provider)
		assert.Equal(t, "sk-ant-REDACTED", cfg.AI.Profiles[0].APIKey)
		assert.Equal(t, "sqlite", cfg.VectorStore.Backend)
		assert.Equal(t, "my-rag-index", cfg.VectorStore.Index)
		assert.Equal(t, "openai", cfg.Embedding.Provider)
	})

	t.Run("end of input keeps defaults", func(t *testing.T) {
		env := setupEnv(t, model.NewMock())
		path := filepath.Join(env.dir, "defaults.json")

		_, err := execute(t, "", "configure", "--config", path)
		require.NoError(t, err)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "memory_agent", cfg.Agent.Name)
		assert.Equal(t, "sqlite", cfg.Session.Backend)
		assert.Empty(t, cfg.AI.Profiles)
	})

	t.Run("show masks credentials", func(t *testing.T) {
		env := setupEnv(t, model.NewMock())

		out, err := env.run("", "configure", "--show")
		require.NoError(t, err)
		assert.Contains(t, out, `"index": "story-index"`)
		assert.Contains(t, out, `"api_key": "********"`)
		assert.NotContains(t, out, "sk-test")
		assert.NotContains(t, out, "test-key")
	})
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "********", mask("short"))
	assert.Equal(t, "AIza********", mask("AIzaSyExampleExampleExample"))
}
