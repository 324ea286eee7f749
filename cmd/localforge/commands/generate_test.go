package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunGenerateRequiresModelFlag(t *testing.T) {
	cmd, _ := newTestCmd()
	err := runGenerate(cmd, generateFlags{prompt: "hi"})

	var ce *CLIError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ExitUsageError, ce.Code)
}

func TestRunGenerateRequiresPromptFlag(t *testing.T) {
	cmd, _ := newTestCmd()
	err := runGenerate(cmd, generateFlags{model: "m1"})

	var ce *CLIError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ExitUsageError, ce.Code)
}

func TestRunGenerateUnknownModelReturnsModelNotFound(t *testing.T) {
	cmd, _ := newTestCmd()
	err := runGenerate(cmd, generateFlags{model: "never-discovered", prompt: "hi"})

	var ce *CLIError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ExitModelNotFound, ce.Code)
}
