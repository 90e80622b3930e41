package core

import (
	"os"
	"path/filepath"

	"github.com/tangramcore/tangram/internal/tglog"
)

// Config resolves the environment variables spec §6.4 names into concrete
// settings for Open. Each field can also be set directly by a caller that
// wants to bypass the environment (e.g. a test).
type Config struct {
	// DataDir backs TANGRAM_PATH; blocks, blobs, the checkin tracker, and
	// sandbox scratch space all live under it.
	DataDir string
	// MirrorURL backs TANGRAM_URL, the default remote for Push/Pull when
	// no explicit mirror is given.
	MirrorURL string
	// LogLevel backs TANGRAM_TRACING. The original's filter-expression
	// syntax has no equivalent in tglog's level-only configuration, so
	// this accepts exactly the four level names tglog.Init understands
	// ("debug", "info", "warn", "error") — a deliberate simplification,
	// not a parser for arbitrary filter expressions.
	LogLevel tglog.Level
	// ContainerdSocket is passed to sandbox.NewDefaultBackend on Linux.
	ContainerdSocket string
}

// ConfigFromEnvironment reads TANGRAM_PATH, TANGRAM_URL, TANGRAM_TRACING,
// and HOME exactly as spec §6.4 lists them.
func ConfigFromEnvironment() (Config, error) {
	cfg := Config{
		DataDir:          os.Getenv("TANGRAM_PATH"),
		MirrorURL:        os.Getenv("TANGRAM_URL"),
		LogLevel:         tglog.Level(os.Getenv("TANGRAM_TRACING")),
		ContainerdSocket: "/run/containerd/containerd.sock",
	}
	if cfg.DataDir == "" {
		home := os.Getenv("HOME")
		if home == "" {
			var err error
			home, err = os.UserHomeDir()
			if err != nil {
				return Config{}, err
			}
		}
		cfg.DataDir = filepath.Join(home, ".tangram")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = tglog.InfoLevel
	}
	return cfg, nil
}
