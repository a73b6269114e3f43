package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, File{}, f)
}

func TestLoadParsesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "options.yaml")
	contents := `
engine_name: lsm
write_buffer_size: 4194304
max_l0_files: 8
sync: true
logging:
  level: debug
  pretty: true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "lsm", f.EngineName)
	require.Equal(t, 4194304, f.WriteBufferSize)
	require.Equal(t, 8, f.MaxL0Files)
	require.NotNil(t, f.Sync)
	require.True(t, *f.Sync)
	require.Equal(t, "debug", f.Logging.Level)
	require.True(t, f.Logging.Pretty)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine_name: [unterminated"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestOverlayHelpers(t *testing.T) {
	tr := true
	require.True(t, BoolOr(&tr, false))
	require.False(t, BoolOr(nil, false))

	require.Equal(t, 5, IntOr(5, 10))
	require.Equal(t, 10, IntOr(0, 10))

	require.Equal(t, "lsm", StringOr("lsm", "yukino.balance"))
	require.Equal(t, "yukino.balance", StringOr("", "yukino.balance"))
}
