package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRootCommand_RegistersSpecFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"no-detach", "config-file", "log-file", "log-level"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %q", name)
	}

	noDetach := cmd.Flags().ShorthandLookup("d")
	assert.NotNil(t, noDetach)
	assert.Equal(t, "no-detach", noDetach.Name)
}

func TestNewRootCommand_HasVersionSubcommand(t *testing.T) {
	cmd := NewRootCommand()
	found := false
	for _, c := range cmd.Commands() {
		if c.Name() == "version" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExitError_UnwrapsToUnderlyingError(t *testing.T) {
	inner := errors.New("listener bind failed")
	err := startupFailure("preparing environment: %w", inner)

	var exitErr *ExitError
	require := assert.New(t)
	require.True(errors.As(err, &exitErr))
	require.Equal(255, exitErr.Code)
	require.True(errors.Is(err, inner))
}
