package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-progress/internal/domain/progress"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLevelsCmd(t *testing.T) {
	out, err := execute(t, "levels", "--json")
	require.NoError(t, err)

	var table []progress.LevelThreshold
	require.NoError(t, json.Unmarshal([]byte(out), &table))
	require.Len(t, table, progress.MaxLevel)
	assert.Equal(t, progress.LevelThreshold{Level: 2, XP: 282, Delta: 282}, table[1])

	out, err = execute(t, "levels", "--xp", "282")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "level 2,"), out)

	out, err = execute(t, "levels")
	require.NoError(t, err)
	assert.Contains(t, out, "LEVEL")
	assert.Equal(t, progress.MaxLevel+1, strings.Count(out, "\n"))
}

func TestCatalogCmd(t *testing.T) {
	out, err := execute(t, "catalog", "check")
	require.NoError(t, err)
	assert.Equal(t, "ok: 22 badges\n", out)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(
		"badges:\n  - id: typo\n    condition: {kind: field_threshold, field: totl_xp, at_least: 1}\n"), 0o600))

	out, err = execute(t, "catalog", "check", bad)
	require.Error(t, err)
	assert.Contains(t, out, "typo:")
	assert.Contains(t, out, "known fields: ")
	assert.Contains(t, out, "totalSessions")
	assert.Contains(t, out, "known sets: activityTypes, unlockedBadges")

	out, err = execute(t, "catalog", "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "id: first_steps")

	// dump output loads back
	dumped := filepath.Join(dir, "dumped.yaml")
	require.NoError(t, os.WriteFile(dumped, []byte(out), 0o600))
	out, err = execute(t, "catalog", "check", dumped)
	require.NoError(t, err)
	assert.Equal(t, "ok: 22 badges\n", out)
}

func TestMigrateCmd_NonPostgresDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	out, err := execute(t, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "driver memory applies its schema on open")
}
