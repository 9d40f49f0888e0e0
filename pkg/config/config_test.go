package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdp-dns-redirect/pkg/targets"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
interface: eth0
queue_id: 2
queue_count: 4
redirect:
  - queue: 0
    socket: 17
  - queue: 2
    socket: 19
mirror:
  interface: kidos
metrics:
  enabled: true
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "eth0", cfg.Interface)
	assert.Equal(t, uint32(2), cfg.QueueID)
	assert.Equal(t, 4, cfg.QueueCount)
	assert.Equal(t, "xsk_map", cfg.BPF.RedirectMap)
	assert.Equal(t, "mirror_ifindex", cfg.BPF.MirrorMap)
	assert.Equal(t, 4, cfg.Workers.NumWorkers)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)
	assert.Equal(t, "debug", cfg.Logging.Level)

	table, err := cfg.RedirectTable()
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	id, ok := table.Lookup(2)
	assert.True(t, ok)
	assert.Equal(t, targets.SocketID(19), id)

	mirror, err := cfg.MirrorTarget(func(name string) (int, error) {
		assert.Equal(t, "kidos", name)
		return 7, nil
	})
	require.NoError(t, err)
	ifindex, ok := mirror.Interface()
	assert.True(t, ok)
	assert.Equal(t, uint32(7), ifindex)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "interface: eth1\n"))
	require.NoError(t, err)
	assert.Equal(t, Default().Workers, cfg.Workers)
	assert.Equal(t, 1, cfg.QueueCount)
	assert.Equal(t, "stdout", cfg.Logging.Output)

	mirror, err := cfg.MirrorTarget(nil)
	require.NoError(t, err)
	assert.Equal(t, targets.NoMirror, mirror)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"queue out of range", "redirect:\n  - queue: 64\n    socket: 1\n", "redirect[0].queue"},
		{"missing socket", "redirect:\n  - queue: 1\n", "redirect[0].socket"},
		{"duplicate queue", "redirect:\n  - {queue: 1, socket: 2}\n  - {queue: 1, socket: 3}\n", "redirect[1].queue"},
		{"queue count", "queue_count: 65\n", "queue_count"},
		{"log level", "logging:\n  level: loud\n", "logging.level"},
		{"mirror both", "mirror:\n  interface: eth2\n  ifindex: 3\n", "mirror.interface"},
		{"mirror is capture interface", "interface: eth0\nmirror:\n  interface: eth0\n", "mirror.interface"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)

			var ve ValidationErrors
			require.True(t, errors.As(err, &ve), "got %v", err)
			var fields []string
			for _, e := range ve {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "redirect: [\n"))
	assert.Error(t, err)
}

func TestMirrorTarget_LookupError(t *testing.T) {
	cfg := Default()
	cfg.Mirror.Interface = "nope0"
	_, err := cfg.MirrorTarget(func(string) (int, error) { return 0, errors.New("link not found") })
	assert.ErrorContains(t, err, "nope0")

	cfg.Mirror = MirrorConfig{Ifindex: 9}
	m, err := cfg.MirrorTarget(nil)
	require.NoError(t, err)
	idx, _ := m.Interface()
	assert.Equal(t, uint32(9), idx)
}
