package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWALAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	wal, err := OpenWAL(dir, nil, nil)
	require.NoError(t, err)
	defer wal.Close()

	type payload struct {
		Value int `json:"value"`
	}
	for i := 1; i <= 5; i++ {
		_, err := wal.Append(OpAppendNode, payload{Value: i})
		require.NoError(t, err)
	}
	require.NoError(t, wal.Sync())

	var got []int
	err = wal.Replay(func(e Entry) error {
		var p payload
		if decodeErr := wal.Decode(e, &p); decodeErr != nil {
			return decodeErr
		}
		got = append(got, p.Value)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5}, got)
	require.EqualValues(t, 5, wal.Sequence())
}

func TestWALReplaySurvivesTornTail(t *testing.T) {
	dir := t.TempDir()
	wal, err := OpenWAL(dir, nil, nil)
	require.NoError(t, err)

	_, err = wal.Append(OpAppendNode, map[string]int{"value": 1})
	require.NoError(t, err)
	_, err = wal.Append(OpAppendNode, map[string]int{"value": 2})
	require.NoError(t, err)
	require.NoError(t, wal.Sync())
	require.NoError(t, wal.Close())

	path := filepath.Join(dir, walFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Simulate a crash mid-append: truncate away the final newline and part
	// of the last record.
	torn := data[:len(data)-5]
	require.NoError(t, os.WriteFile(path, torn, 0o644))

	wal2, err := OpenWAL(dir, nil, nil)
	require.NoError(t, err)
	defer wal2.Close()

	var count int
	err = wal2.Replay(func(e Entry) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, count, "torn final record should be dropped, not treated as corruption")

	// The log should now be append-safe again at the truncation point.
	_, err = wal2.Append(OpAppendNode, map[string]int{"value": 3})
	require.NoError(t, err)
}

func TestWALReplayDetectsMidLogCorruption(t *testing.T) {
	dir := t.TempDir()
	wal, err := OpenWAL(dir, nil, nil)
	require.NoError(t, err)

	_, err = wal.Append(OpAppendNode, map[string]int{"value": 1})
	require.NoError(t, err)
	_, err = wal.Append(OpAppendNode, map[string]int{"value": 2})
	require.NoError(t, err)
	_, err = wal.Append(OpAppendNode, map[string]int{"value": 3})
	require.NoError(t, err)
	require.NoError(t, wal.Sync())
	require.NoError(t, wal.Close())

	path := filepath.Join(dir, walFileName)
	lines := readLines(t, path)
	require.Len(t, lines, 3)

	var e Entry
	require.NoError(t, json.Unmarshal(lines[0], &e))
	e.Checksum ^= 0xFF // corrupt a non-final record
	corrupted, err := json.Marshal(e)
	require.NoError(t, err)
	lines[0] = corrupted
	writeLines(t, path, lines)

	wal2, err := OpenWAL(dir, nil, nil)
	require.NoError(t, err)
	defer wal2.Close()

	err = wal2.Replay(func(Entry) error { return nil })
	require.ErrorIs(t, err, ErrCorruptLog)
}

func readLines(t *testing.T, path string) [][]byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	return lines
}

func writeLines(t *testing.T, path string, lines [][]byte) {
	t.Helper()
	var out []byte
	for _, l := range lines {
		out = append(out, l...)
		out = append(out, '\n')
	}
	require.NoError(t, os.WriteFile(path, out, 0o644))
}
