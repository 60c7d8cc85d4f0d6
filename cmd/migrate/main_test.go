package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	t.Run("no command prints usage", func(t *testing.T) {
		err := run(nil)
		require.Error(t, err)
		assert.Equal(t, usage, err.Error())
	})

	t.Run("unknown command fails before connecting", func(t *testing.T) {
		t.Setenv("DATABASE_HOST", "unreachable.invalid")

		err := run([]string{"sideways"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown command "sideways"`)
	})

	t.Run("create writes a migration without a database", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("DATABASE_HOST", "unreachable.invalid")
		t.Setenv("DATABASE_MIGRATIONSDIR", dir)

		require.NoError(t, run([]string{"create", "add_vendor_notes"}))

		files, err := filepath.Glob(filepath.Join(dir, "*_add_vendor_notes.sql"))
		require.NoError(t, err)
		assert.Len(t, files, 1)
	})

	t.Run("create needs a name", func(t *testing.T) {
		t.Setenv("DATABASE_MIGRATIONSDIR", t.TempDir())

		assert.Error(t, run([]string{"create"}))
	})
}
