package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dekarrin/gdbminer/internal/config"
	"github.com/dekarrin/gdbminer/internal/mmerr"
)

func Test_discoverSeeds_sorts_lexically_and_skips_directories(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	names, err := discoverSeeds(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, names)
}

func Test_discoverSeeds_missing_directory_is_ConfigInvalid(t *testing.T) {
	_, err := discoverSeeds(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
	kind, _ := mmerr.KindOf(err)
	assert.Equal(t, mmerr.KindConfigInvalid, kind)
}

func Test_inputChannelArgs(t *testing.T) {
	testCases := []struct {
		name      string
		channel   config.InputChannel
		wantArgs  []string
		wantStdin []byte
	}{
		{
			name:      "file channel passes seed path as an argument",
			channel:   config.ChannelFile,
			wantArgs:  []string{"/seeds/seed1"},
			wantStdin: nil,
		},
		{
			name:      "stdin channel passes seed bytes on stdin",
			channel:   config.ChannelStdin,
			wantArgs:  nil,
			wantStdin: []byte("1+2"),
		},
		{
			name:      "serial channel passes seed path as an argument, like file",
			channel:   config.ChannelSerial,
			wantArgs:  []string{"/seeds/seed1"},
			wantStdin: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Config{InputChannel: tc.channel}
			args, stdin := inputChannelArgs(cfg, "/seeds/seed1", []byte("1+2"))
			assert.Equal(t, tc.wantArgs, args)
			assert.Equal(t, tc.wantStdin, stdin)
		})
	}
}

func Test_newBackend_rejects_unknown_instance(t *testing.T) {
	cfg := config.Config{Instance: config.Instance("bogus")}
	_, err := newBackend(cfg)
	assert.Error(t, err)
}

func Test_newBackend_direct(t *testing.T) {
	cfg := config.Config{Instance: config.InstanceDirect, GdbPath: "gdb", TimeoutSeconds: 5, WatchpointCount: 4}
	back, err := newBackend(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, back.WatchpointCapacity())
}

func Test_newBackend_memory_sandbox_reports_inflated_capacity(t *testing.T) {
	cfg := config.Config{Instance: config.InstanceMemorySandbox, GdbPath: "gdb", TimeoutSeconds: 5, WatchpointCount: 4}
	back, err := newBackend(cfg)
	require.NoError(t, err)
	assert.Greater(t, back.WatchpointCapacity(), 4)
}
