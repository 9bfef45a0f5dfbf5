package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/agentlab/pkg/model"
)

func TestStatusCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		helpText, err := execute(t, "", "status", "--help")
		require.NoError(t, err)
		assert.Contains(t, helpText, "sessions stored for the agent")
	})

	t.Run("reports stored sessions", func(t *testing.T) {
		env := setupEnv(t, model.NewMock(model.TextResponse("Hello Sandip.")))

		_, err := env.run("", "ask", "--agent", "memory_agent", "hi")
		require.NoError(t, err)

		out, err := env.run("", "status", "--agent", "memory_agent")
		require.NoError(t, err)
		assert.Contains(t, out, "Config: "+env.configPath)
		assert.Contains(t, out, "Agent: memory_agent (model gemini-2.0-flash)")
		assert.Contains(t, out, "AI profiles: test")
		assert.Contains(t, out, "Sessions: 1 stored for Memory Agent/sandip_basak")
		assert.Contains(t, out, "Last activity: ")
	})

	t.Run("missing config file uses defaults", func(t *testing.T) {
		env := setupEnv(t, model.NewMock())
		out, err := env.run("", "status", "--config", env.dir+"/absent.json", "--agent", "tool_agent")
		require.NoError(t, err)
		assert.Contains(t, out, "(not found, using defaults)")
		assert.Contains(t, out, "Agent: tool_agent")
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			assert.Equal(t, tt.expected, result)
		})
	}
}
