// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/offscreen"
	"github.com/gogpu/offscreen/driver/memdev"
	"github.com/gogpu/offscreen/format"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// deviceConfig resolves the device section the way the driver registry
// does.
func deviceConfig(t *testing.T, cfg Config) memdev.Config {
	t.Helper()
	dev, err := memdev.ConfigFromOptions(cfg.DriverOptions(0, 0))
	require.NoError(t, err)
	return dev
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, offscreen.DefaultOptions().Policy, cfg.ScreenOptions().Policy)
	assert.Equal(t, memdev.DefaultConfig(), deviceConfig(t, cfg))
}

func TestLoadJSONC(t *testing.T) {
	path := writeFile(t, "offscreen.jsonc", `{
		// Greedy scoring with a small device.
		"policy": "greedy",
		"greedy_thrash_guard": true,
		"sweep_interval": "250ms",
		"idle_threshold": 50000000,
		"log_level": "debug",
		"device": {
			"memory_size": 65536,
			"offscreen_base": 4096,
			"align_pot": true,
			"front_format": "A8R8G8B8",
		},
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	opts := cfg.ScreenOptions()
	assert.Equal(t, offscreen.PolicyGreedy, opts.Policy)
	assert.True(t, opts.GreedyThrashGuard)
	assert.True(t, opts.OptimizeMigration, "unset fields keep their defaults")
	assert.Equal(t, 250*time.Millisecond, opts.SweepInterval)
	assert.Equal(t, 50*time.Millisecond, opts.IdleThreshold)

	dev := deviceConfig(t, cfg)
	assert.Equal(t, 65536, dev.MemorySize)
	assert.Equal(t, 4096, dev.OffscreenBase)
	assert.Equal(t, 64, dev.OffsetAlign)
	assert.True(t, dev.AlignPOT)
	assert.Equal(t, format.A8R8G8B8, dev.FrontFormat)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "offscreen.yaml", `
policy: smart
check_dirty_correctness: true
evict_idle_age: 64
device:
  memory_size: 1048576
  no_aux: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	opts := cfg.ScreenOptions()
	assert.Equal(t, offscreen.PolicySmart, opts.Policy)
	assert.True(t, opts.CheckDirtyCorrectness)
	assert.Equal(t, uint32(64), opts.EvictIdleAge)
	assert.Equal(t, time.Second, opts.SweepInterval)
	dev := deviceConfig(t, cfg)
	assert.True(t, dev.NoAux)
	assert.Equal(t, 1048576, dev.MemorySize)
}

func TestDriverOptions(t *testing.T) {
	cfg := Default()
	cfg.Device.MaxPitchBytes = 4096
	cfg.Device.Overlaps = true

	opts := cfg.DriverOptions(100, 10)
	assert.Equal(t, 100, opts.FrontWidth)
	assert.Equal(t, "true", opts.Params["overlaps"])
	assert.NotContains(t, opts.Params, "no_aux")

	dev, err := memdev.ConfigFromOptions(opts)
	require.NoError(t, err)
	assert.Equal(t, 4096, dev.MaxPitchBytes)
	assert.True(t, dev.Overlaps)
	// 400 bytes per row padded to 448, times 10 rows.
	assert.Equal(t, 4480, dev.OffscreenBase)

	cfg.Device.OffscreenBase = 8192
	dev, err = memdev.ConfigFromOptions(cfg.DriverOptions(100, 10))
	require.NoError(t, err)
	assert.Equal(t, 8192, dev.OffscreenBase, "an explicit base wins over the front buffer size")
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad jsonc", "c.json", `{"policy": `},
		{"unknown field", "c.json", `{"polcy": "always"}`},
		{"unknown yaml field", "c.yml", "polcy: always\n"},
		{"bad duration", "c.json", `{"sweep_interval": "soon"}`},
		{"bad policy", "c.json", `{"policy": "mixed"}`},
		{"zero interval", "c.yaml", "sweep_interval: 0s\n"},
		{"base past memory", "c.json", `{"device": {"memory_size": 1024, "offscreen_base": 1024}}`},
		{"1 bit front", "c.json", `{"device": {"front_format": "a1"}}`},
		{"bad level", "c.json", `{"log_level": "loud"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Policy = "nope"
	cfg.PoolBuffers = -1
	cfg.Device.MaxX = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "3 errors occurred")
}

func TestDurationJSON(t *testing.T) {
	b, err := json.Marshal(Duration(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.JSONEq(t, `"1.5s"`, string(b))

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"2m"`), &d))
	assert.Equal(t, Duration(2*time.Minute), d)
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}
