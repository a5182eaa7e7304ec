package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dekarrin/gdbminer/internal/grammar"
	"github.com/dekarrin/gdbminer/internal/types"
)

func Test_Store_SaveTrace_and_LoadTrace_roundtrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	trace := &types.Trace{
		SeedName: "seed1",
		Length:   3,
		Root: &types.ParseNode{
			Frame: types.FrameId{Key: types.CallSiteKey{Function: "parse_sum"}},
			Range: types.ConsumedRange{Lo: 0, Hi: 3},
			Owned: []types.OwnedSpan{{Range: types.ConsumedRange{Lo: 0, Hi: 3}, Bytes: []byte("1+2")}},
		},
	}

	require.NoError(t, s.SaveTrace(trace))
	assert.FileExists(t, filepath.Join(dir, "seed1.trace"))

	got, err := s.LoadTrace("seed1")
	require.NoError(t, err)
	assert.Equal(t, trace.SeedName, got.SeedName)
	assert.Equal(t, trace.Length, got.Length)
	require.NotNil(t, got.Root)
	assert.Equal(t, "parse_sum", got.Root.Frame.Key.Function)
	assert.Equal(t, trace.Root.Range, got.Root.Range)
}

func Test_Store_RecordRun_and_Runs(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	now := time.Unix(1700000000, 0)
	require.NoError(t, s.RecordRun(Run{
		SeedName:   "seed1",
		Success:    true,
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
	}))
	require.NoError(t, s.RecordRun(Run{
		SeedName:   "seed2",
		Success:    false,
		ErrorKind:  "InconsistentTree",
		ErrorText:  "overlapping siblings",
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
	}))

	runs, err := s.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "seed1", runs[0].SeedName)
	assert.True(t, runs[0].Success)
	assert.Equal(t, "seed2", runs[1].SeedName)
	assert.False(t, runs[1].Success)
	assert.Equal(t, "InconsistentTree", runs[1].ErrorKind)
}

func Test_Store_SaveGrammar_writes_final_file_atomically(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	g := grammar.New("entry")
	g.AddAlternative("entry", grammar.Production{grammar.Term("x")})

	require.NoError(t, s.SaveGrammar(g, "parsing_g.json"))

	dest := filepath.Join(dir, "parsing_g.json")
	assert.FileExists(t, dest)

	matches, err := filepath.Glob(filepath.Join(dir, ".grammar-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp file must be renamed away, not left behind")
}
