// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/offscreen"
	"github.com/gogpu/offscreen/driver"
	"github.com/gogpu/offscreen/driver/memdev"
	"github.com/gogpu/offscreen/format"
)

func newScreen(t *testing.T) *offscreen.Screen {
	t.Helper()
	cfg := memdev.DefaultConfig()
	cfg.MemorySize = 1 << 16
	dev, err := memdev.New(cfg)
	require.NoError(t, err)
	s, err := offscreen.NewScreen(dev, offscreen.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCollectorRegisters(t *testing.T) {
	s := newScreen(t)
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector("test", s.Stats)))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, len(descriptors))
}

func TestCollectorValues(t *testing.T) {
	s := newScreen(t)
	p, err := s.CreatePixmap(16, 16, format.A8R8G8B8)
	require.NoError(t, err)
	s.FillRect(p, p.Bounds(), driver.AluCopy, ^uint32(0), 1)

	c := NewCollector("test", s.Stats)
	assert.Equal(t, 27, testutil.CollectAndCount(c))

	expected := `
# HELP offscreen_pixmaps Live pixmaps, and how many of them have a device copy.
# TYPE offscreen_pixmaps gauge
offscreen_pixmaps{location="all",screen="test"} 1
offscreen_pixmaps{location="device",screen="test"} 1
# HELP offscreen_migrations_total Pixmap migrations between system and device memory.
# TYPE offscreen_migrations_total counter
offscreen_migrations_total{direction="in",screen="test"} 1
offscreen_migrations_total{direction="in_failed",screen="test"} 0
offscreen_migrations_total{direction="out",screen="test"} 0
# HELP offscreen_arena_bytes Device memory managed by the offscreen arena, by state.
# TYPE offscreen_arena_bytes gauge
offscreen_arena_bytes{screen="test",state="free"} 64512
offscreen_arena_bytes{screen="test",state="used"} 1024
# HELP offscreen_operations_total Drawing operations, by rendering path.
# TYPE offscreen_operations_total counter
offscreen_operations_total{path="accelerated",screen="test"} 1
offscreen_operations_total{path="fallback",screen="test"} 0
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"offscreen_pixmaps", "offscreen_migrations_total",
		"offscreen_arena_bytes", "offscreen_operations_total"))
}

func TestCollectorDeviceAccessDisabled(t *testing.T) {
	s := newScreen(t)
	s.DisableDeviceAccess()
	defer s.EnableDeviceAccess()

	expected := `
# HELP offscreen_device_access_disabled 1 while device access is disabled.
# TYPE offscreen_device_access_disabled gauge
offscreen_device_access_disabled{screen="test"} 1
`
	require.NoError(t, testutil.CollectAndCompare(NewCollector("test", s.Stats),
		strings.NewReader(expected), "offscreen_device_access_disabled"))
}
