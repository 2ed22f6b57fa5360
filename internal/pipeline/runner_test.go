package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicgis/cartographer/internal/command"
)

func TestRunner(t *testing.T) {
	ctx := context.Background()
	r := NewRunner()

	t.Run("zero exit with output", func(t *testing.T) {
		res, err := r.Run(ctx, command.Command{
			Program: "/bin/sh", Args: []string{"-c", "echo hello"},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "hello", res.Output)
	})

	t.Run("non-zero exit is not an error", func(t *testing.T) {
		res, err := r.Run(ctx, command.Command{
			Program: "/bin/sh", Args: []string{"-c", "echo oops >&2; exit 3"},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, "oops", res.Output)
	})

	t.Run("exit 1 is preserved for nnd detection", func(t *testing.T) {
		res, err := r.Run(ctx, command.Command{
			Program: "/bin/sh", Args: []string{"-c", "exit 1"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
	})

	t.Run("missing program is an error", func(t *testing.T) {
		_, err := r.Run(ctx, command.Command{Program: "/no/such/binary"})
		assert.Error(t, err)
	})

	t.Run("runs in the given directory", func(t *testing.T) {
		dir := t.TempDir()
		res, err := r.Run(ctx, command.Command{
			Program: "/bin/sh", Args: []string{"-c", "pwd"}, Dir: dir,
		})
		require.NoError(t, err)
		assert.Contains(t, res.Output, dir)
	})

	t.Run("timeout", func(t *testing.T) {
		quick := NewRunner(WithTimeout(100 * time.Millisecond))
		_, err := quick.Run(ctx, command.Command{
			Program: "/bin/sh", Args: []string{"-c", "sleep 5"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
	})

	t.Run("dry run executes nothing", func(t *testing.T) {
		dry := NewRunner(WithDryRun(true))
		res, err := dry.Run(ctx, command.Command{Program: "/no/such/binary"})
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
	})
}

func TestTail(t *testing.T) {
	t.Run("short output untouched", func(t *testing.T) {
		assert.Equal(t, "hello", tail("hello\n"))
	})

	t.Run("long output keeps the tail", func(t *testing.T) {
		long := strings.Repeat("a", outputTailBytes+100) + "END"
		got := tail(long)
		assert.Len(t, got, outputTailBytes)
		assert.True(t, strings.HasSuffix(got, "END"))
	})

	t.Run("never splits a rune", func(t *testing.T) {
		// The odd-length prefix forces the byte offset to land mid-rune.
		long := "x" + strings.Repeat("é", outputTailBytes)
		got := tail(long)
		assert.True(t, utf8.ValidString(got))
		assert.True(t, utf8.RuneStart(got[0]))
	})
}
