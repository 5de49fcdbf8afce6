package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromReader(t *testing.T) {
	input := `
# host configuration
server.url ws://127.0.0.1:9000/ws
dev.enabled true
log.level debug
log.buffer-size 250
`
	cfg, err := LoadFromReader(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9000/ws", cfg.GetString("server.url"))
	assert.True(t, cfg.GetBool("dev.enabled"))
	assert.Equal(t, 250, cfg.GetInt("log.buffer-size"))
	assert.Empty(t, cfg.GetWarnings())
}

func TestThrottleSection(t *testing.T) {
	input := `[throttle]
scroll 50ms
dragMove 16ms
sliderChange 0s
`
	cfg, err := LoadFromReader(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.Throttle["scroll"])
	assert.Equal(t, 16*time.Millisecond, cfg.Throttle["dragMove"])
	// a zero window disables the default throttle for that event
	assert.NotContains(t, cfg.Throttle, "sliderChange")
}

func TestDefaultThrottleWithoutSection(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("log.level info\n"))
	require.NoError(t, err)
	assert.Equal(t, 80*time.Millisecond, cfg.Throttle["scroll"])
}

func TestInvalidThrottleValue(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("[throttle]\nscroll fast\n"))
	require.Error(t, err)
}

func TestUnknownOptionWarns(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("no.such.option x\n"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.GetWarnings())
}

func TestTypeMismatchWarns(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("dev.enabled maybe\n"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.GetWarnings())
}

func TestLoadFromPathMissingFile(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, cfg.GetString("server.url"), "missing file should yield empty config")
}

func TestLoadFromPathRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	require.NoError(t, os.WriteFile(target, []byte("log.level info\n"), 0o600))
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	_, err := LoadFromPath(link)
	require.Error(t, err, "symlinked config must be rejected")
}

func TestSchemaResolveOrder(t *testing.T) {
	s := DefaultSchema()
	cfg := NewConfig()

	// default
	assert.Equal(t, "info", s.Resolve(cfg, "log.level"))
	// config beats default
	cfg.SetGlobalOption("log.level", "warn")
	assert.Equal(t, "warn", s.Resolve(cfg, "log.level"))
	// env beats config
	t.Setenv("WEFT_LOG_LEVEL", "debug")
	assert.Equal(t, "debug", s.Resolve(cfg, "log.level"))
}

func TestGetWithEnv(t *testing.T) {
	cfg := NewConfig()
	cfg.SetGlobalOption("server.url", "ws://file")
	t.Setenv("TEST_WEFT_URL", "ws://env")
	assert.Equal(t, "ws://env", cfg.GetWithEnv("server.url", "TEST_WEFT_URL"))
	require.NoError(t, os.Unsetenv("TEST_WEFT_URL"))
	assert.Equal(t, "ws://file", cfg.GetWithEnv("server.url", "TEST_WEFT_URL"))
}

func TestGetConfigPathEnvOverride(t *testing.T) {
	t.Setenv("WEFT_CONFIG", "/tmp/custom-weft-config")
	p, err := GetConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-weft-config", p)
}
