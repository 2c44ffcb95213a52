package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/database"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

func TestDumpRecords(t *testing.T) {
	base := time.Unix(1700000100, 0).UTC()
	current := sampleReading(base.Add(30*time.Second), 3)
	store := &fakeReadStore{
		current:  &current,
		archive:  []models.Reading{sampleReading(base, 1), sampleReading(base.Add(5*time.Minute), 2)},
		earliest: base,
	}

	out := &bytes.Buffer{}
	q := models.ArchiveQuery{Since: base.Add(-time.Second), Limit: 10}
	require.NoError(t, dumpRecords(context.Background(), out, store, q))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "# current", lines[0])
	assert.Contains(t, lines[1], `"measurementTime":"2023-11-14T22:15:30.000000Z"`)
	assert.Equal(t, "# two-minute", lines[2])
	assert.Equal(t, "{}", lines[3])
	assert.Equal(t, "# archive", lines[4])
	assert.Equal(t, "# 2 archive records", lines[7])

	assert.Equal(t, q, store.lastQuery)
}

func TestDumpRecords_StoreError(t *testing.T) {
	store := &fakeReadStore{err: errors.New("disk I/O error")}

	err := dumpRecords(context.Background(), &bytes.Buffer{}, store, models.ArchiveQuery{})
	assert.ErrorContains(t, err, "current record")
}

func TestRunDump_WithoutHostname(t *testing.T) {
	dir := t.TempDir()
	dbFile := filepath.Join(dir, "airgradient-proxy.sdb")

	dm, err := database.OpenOrCreate(context.Background(), database.Config{Driver: database.DriverSQLite, File: dbFile})
	require.NoError(t, err)
	require.NoError(t, dm.Close())

	cfgPath := filepath.Join(dir, "airgradient-proxy.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log-to-stdout: false\ndatabase-file: "+dbFile+"\n"), 0o644))

	oldConfig, oldEnv := configFile, envFiles
	t.Cleanup(func() { configFile, envFiles = oldConfig, oldEnv })
	configFile = cfgPath
	envFiles = []string{filepath.Join(dir, "missing.env")}
	t.Setenv("AGP_HOSTNAME", "")

	_, err = loadConfig()
	require.Error(t, err)

	out := &bytes.Buffer{}
	dumpCmd.SetOut(out)
	dumpCmd.SetContext(context.Background())
	t.Cleanup(func() { dumpCmd.SetOut(nil) })

	require.NoError(t, runDump(dumpCmd, nil))
	assert.Contains(t, out.String(), "# 0 archive records")
}
