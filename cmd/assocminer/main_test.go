package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseInto(t *testing.T) {
	errRun := errors.New("run failed")
	errClose := errors.New("close failed")

	t.Run("both_nil", func(t *testing.T) {
		var err error
		closeInto(&err, func() error { return nil })
		assert.NoError(t, err)
	})

	t.Run("close_error_surfaces", func(t *testing.T) {
		var err error
		closeInto(&err, func() error { return errClose })
		assert.ErrorIs(t, err, errClose)
	})

	t.Run("run_error_kept", func(t *testing.T) {
		err := errRun
		closeInto(&err, func() error { return errClose })
		assert.ErrorIs(t, err, errRun)
		assert.ErrorIs(t, err, errClose)
	})

	t.Run("deferred_in_named_return", func(t *testing.T) {
		fn := func() (err error) {
			defer closeInto(&err, func() error { return errClose })
			return nil
		}
		assert.ErrorIs(t, fn(), errClose)
	})
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(append(args, "--log-level", "ERROR"))
	return cmd.Execute()
}

func TestCLI_CreateExtractMine(t *testing.T) {
	dir := t.TempDir()
	ws := filepath.Join(dir, "ws")
	recipePath := filepath.Join(dir, "recipe.yaml")
	occPath := filepath.Join(dir, "events.csv")
	outPath := filepath.Join(dir, "rules.txt")

	require.NoError(t, os.WriteFile(recipePath, []byte("images:\n  ev1: [128]\n  ev2: [129]\n"), 0o644))
	require.NoError(t, os.WriteFile(occPath, []byte(
		"event,comp,sec,count\n"+
			"128,1,1700000000,1\n"+
			"129,1,1700000000,1\n"+
			"128,2,1700007200,2\n"+
			"129,2,1700007200,1\n"), 0o644))

	require.NoError(t, execute(t, "create", "--workspace", ws))
	require.NoError(t, execute(t, "extract", "--workspace", ws, "--recipe", recipePath, "--occurrences", occPath))
	require.NoError(t, execute(t, "info", "--workspace", ws))
	require.NoError(t, execute(t, "mine", "--workspace", ws,
		"--target", "ev2", "-K", "0.5", "-S", "0", "-D", "0.1",
		"--threads", "1", "--output", outPath))

	out, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "{ev1}->{ev2+0}")
}

func TestCLI_MineErrors(t *testing.T) {
	dir := t.TempDir()
	ws := filepath.Join(dir, "ws")
	require.NoError(t, execute(t, "create", "--workspace", ws))

	t.Run("no_targets", func(t *testing.T) {
		t.Setenv("ASSOCMINER_TARGETS", "")
		assert.Error(t, execute(t, "mine", "--workspace", ws))
	})

	t.Run("unknown_target", func(t *testing.T) {
		assert.Error(t, execute(t, "mine", "--workspace", ws, "--target", "ghost"))
	})

	t.Run("missing_workspace", func(t *testing.T) {
		assert.Error(t, execute(t, "mine", "--workspace", filepath.Join(dir, "nope"), "--target", "ev1"))
	})
}
