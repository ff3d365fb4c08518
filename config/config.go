// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package config loads screen and reference device settings from JSONC or
// YAML files.
package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/tailscale/hujson"
	"sigs.k8s.io/yaml"

	"github.com/gogpu/offscreen"
	"github.com/gogpu/offscreen/driver"
	"github.com/gogpu/offscreen/driver/memdev"
	"github.com/gogpu/offscreen/format"
)

// ErrInvalid is returned for configuration that cannot be parsed or fails
// validation.
var ErrInvalid = errors.New("config: invalid configuration")

// Config holds every setting of a screen backed by the reference device.
type Config struct {
	Policy                string   `json:"policy"`
	OptimizeMigration     bool     `json:"optimize_migration"`
	GreedyThrashGuard     bool     `json:"greedy_thrash_guard,omitempty"`
	CheckDirtyCorrectness bool     `json:"check_dirty_correctness,omitempty"`
	SweepInterval         Duration `json:"sweep_interval"`
	IdleThreshold         Duration `json:"idle_threshold"`
	EvictIdleAge          uint32   `json:"evict_idle_age,omitempty"`
	PoolBuffers           int      `json:"pool_buffers"`
	LogLevel              string   `json:"log_level"`

	Device Device `json:"device"`
}

// Device describes the simulated device memory and limits.
type Device struct {
	MemorySize     int    `json:"memory_size"`
	OffscreenBase  int    `json:"offscreen_base"`
	OffsetAlign    int    `json:"offset_align"`
	PitchAlign     int    `json:"pitch_align"`
	MaxX           int    `json:"max_x"`
	MaxY           int    `json:"max_y"`
	MaxPitchPixels int    `json:"max_pitch_pixels,omitempty"`
	MaxPitchBytes  int    `json:"max_pitch_bytes,omitempty"`
	AlignPOT       bool   `json:"align_pot,omitempty"`
	Overlaps       bool   `json:"overlaps,omitempty"`
	NoAux          bool   `json:"no_aux,omitempty"`
	FrontFormat    string `json:"front_format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	opts := offscreen.DefaultOptions()
	dev := memdev.DefaultConfig()
	return Config{
		Policy:            opts.Policy.String(),
		OptimizeMigration: opts.OptimizeMigration,
		SweepInterval:     Duration(opts.SweepInterval),
		IdleThreshold:     Duration(opts.IdleThreshold),
		PoolBuffers:       opts.PoolBuffers,
		LogLevel:          "info",
		Device: Device{
			MemorySize:  dev.MemorySize,
			OffsetAlign: dev.OffsetAlign,
			PitchAlign:  dev.PitchAlign,
			MaxX:        dev.MaxX,
			MaxY:        dev.MaxY,
			FrontFormat: dev.FrontFormat.String(),
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
// Files ending in .yaml or .yml are YAML; anything else is JSON with
// comments and trailing commas allowed.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return Config{}, errors.Wrap(err, "config: reading")
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: %s", path)
	}
	return cfg, nil
}

// Parse decodes data over the defaults and validates the result. ext
// selects the syntax the way Load does.
func Parse(data []byte, ext string) (Config, error) {
	cfg := Default()
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, errors.Mark(errors.Wrap(err, "invalid YAML"), ErrInvalid)
		}
	default:
		std, err := hujson.Standardize(data)
		if err != nil {
			return Config{}, errors.Mark(errors.Wrap(err, "invalid JSONC"), ErrInvalid)
		}
		dec := json.NewDecoder(bytes.NewReader(std))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, errors.Mark(errors.Wrap(err, "invalid JSON"), ErrInvalid)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var result *multierror.Error
	fail := func(msg string, args ...any) {
		result = multierror.Append(result, errors.Wrapf(ErrInvalid, msg, args...))
	}

	if _, ok := offscreen.ParsePolicy(c.Policy); !ok {
		fail("unknown policy %q", c.Policy)
	}
	if c.SweepInterval <= 0 {
		fail("sweep_interval must be positive, got %v", c.SweepInterval)
	}
	if c.IdleThreshold < 0 {
		fail("idle_threshold must not be negative, got %v", c.IdleThreshold)
	}
	if c.PoolBuffers < 0 {
		fail("pool_buffers must not be negative, got %d", c.PoolBuffers)
	}
	if _, err := c.Level(); err != nil {
		fail("unknown log_level %q", c.LogLevel)
	}

	d := c.Device
	if d.MemorySize <= 0 {
		fail("device.memory_size must be positive, got %d", d.MemorySize)
	}
	if d.OffscreenBase < 0 || (d.MemorySize > 0 && d.OffscreenBase >= d.MemorySize) {
		fail("device.offscreen_base %d outside memory of %d bytes", d.OffscreenBase, d.MemorySize)
	}
	if d.OffsetAlign < 0 || d.PitchAlign < 0 {
		fail("device alignments must not be negative, got %d/%d", d.OffsetAlign, d.PitchAlign)
	}
	if d.MaxX <= 0 || d.MaxY <= 0 {
		fail("device.max_x and device.max_y must be positive, got %dx%d", d.MaxX, d.MaxY)
	}
	if d.MaxPitchPixels < 0 || d.MaxPitchBytes < 0 {
		fail("device pitch limits must not be negative")
	}
	if f, ok := format.Parse(d.FrontFormat); !ok || f.BitsPerPixel() < 8 {
		fail("unusable device.front_format %q", d.FrontFormat)
	}

	return result.ErrorOrNil()
}

// Level returns the parsed log level.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}

// ScreenOptions converts the configuration to screen options. The
// configuration must be valid.
func (c Config) ScreenOptions() offscreen.Options {
	policy, _ := offscreen.ParsePolicy(c.Policy)
	return offscreen.Options{
		Policy:                policy,
		OptimizeMigration:     c.OptimizeMigration,
		GreedyThrashGuard:     c.GreedyThrashGuard,
		CheckDirtyCorrectness: c.CheckDirtyCorrectness,
		SweepInterval:         time.Duration(c.SweepInterval),
		IdleThreshold:         time.Duration(c.IdleThreshold),
		EvictIdleAge:          c.EvictIdleAge,
		PoolBuffers:           c.PoolBuffers,
	}
}

// DriverOptions converts the device section to driver registry options
// for a front buffer of the given size; zero means none. Every device
// setting is passed as a param, so a backend that does not know one of
// them refuses to open.
func (c Config) DriverOptions(frontWidth, frontHeight int) driver.Options {
	d := c.Device
	params := map[string]string{
		"offscreen_base": strconv.Itoa(d.OffscreenBase),
		"offset_align":   strconv.Itoa(d.OffsetAlign),
		"pitch_align":    strconv.Itoa(d.PitchAlign),
		"max_x":          strconv.Itoa(d.MaxX),
		"max_y":          strconv.Itoa(d.MaxY),
		"front_format":   d.FrontFormat,
	}
	if d.MaxPitchPixels > 0 {
		params["max_pitch_pixels"] = strconv.Itoa(d.MaxPitchPixels)
	}
	if d.MaxPitchBytes > 0 {
		params["max_pitch_bytes"] = strconv.Itoa(d.MaxPitchBytes)
	}
	for k, v := range map[string]bool{"align_pot": d.AlignPOT, "overlaps": d.Overlaps, "no_aux": d.NoAux} {
		if v {
			params[k] = "true"
		}
	}
	return driver.Options{
		MemorySize:  d.MemorySize,
		FrontWidth:  frontWidth,
		FrontHeight: frontHeight,
		Params:      params,
	}
}

// Duration is a time.Duration written as a string such as "250ms".
// Plain numbers are read as nanoseconds.
type Duration time.Duration

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = Duration(v)
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(ErrInvalid, "duration %q", v)
		}
		*d = Duration(parsed)
		return nil
	default:
		return errors.Wrapf(ErrInvalid, "duration %s", b)
	}
}
