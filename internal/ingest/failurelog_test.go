package ingest

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestFailureLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "failures.log")

	fl, err := OpenFailureLog(path)
	require.NoError(t, err)
	fl.Record("CREC-2020-01-05", Outcome{
		Status:    StatusError,
		Reason:    ReasonTextDownload,
		GranuleID: "CREC-2020-01-05-pt1-PgH9",
		Err:       errors.New("retries exhausted"),
	})
	require.NoError(t, fl.Close())

	// Reopening appends rather than truncating.
	fl, err = OpenFailureLog(path)
	require.NoError(t, err)
	fl.Record("CREC-2020-01-06", Outcome{Status: StatusError, Reason: ReasonNoTextLink, GranuleID: "CREC-2020-01-06-pt1-PgS1"})
	require.NoError(t, fl.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, "CREC-2020-01-05", first["package_id"])
	assert.Equal(t, "CREC-2020-01-05-pt1-PgH9", first["granule_id"])
	assert.Equal(t, ReasonTextDownload, first["reason"])
	assert.Equal(t, "retries exhausted", first["cause"])
	assert.Equal(t, "ERROR: CREC-2020-01-05-pt1-PgH9 - Text Download Fail", first["msg"])
	assert.NotEmpty(t, first["id"])
	assert.NotEmpty(t, first["time"])

	second := entries[1]
	assert.Equal(t, ReasonNoTextLink, second["reason"])
	assert.NotContains(t, second, "cause")
	assert.NotEqual(t, first["id"], second["id"])
}

func TestFailureLogBadPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := OpenFailureLog(filepath.Join(blocker, "failures.log"))
	assert.Error(t, err)
}
