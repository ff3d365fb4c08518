// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Command offscreenctl drives an offscreen memory manager on a registered
// device backend, the in-memory reference device by default. Commands are
// read from a prompt or a script; statistics can be served to Prometheus
// and mirrored to a JSON file.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/peterh/liner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/gogpu/offscreen"
	"github.com/gogpu/offscreen/config"
	"github.com/gogpu/offscreen/driver"
	"github.com/gogpu/offscreen/driver/memdev"
	"github.com/gogpu/offscreen/format"
	"github.com/gogpu/offscreen/metrics"
)

type flags struct {
	config      string
	driver      string
	policy      string
	logLevel    string
	memory      int
	front       string
	script      string
	metricsAddr string
	statsFile   string
}

func parseFlags(fs *flag.FlagSet, args []string) (flags, error) {
	var f flags
	fs.StringVarP(&f.config, "config", "c", "", "JSONC or YAML configuration file")
	fs.StringVar(&f.driver, "driver", "", "device backend, by default the best available one ("+strings.Join(driver.List(), ", ")+")")
	fs.StringVar(&f.policy, "policy", "", "migration policy: always, greedy or smart")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.IntVar(&f.memory, "memory", 0, "device memory size in bytes")
	fs.StringVar(&f.front, "front", "", "front buffer size as WxH")
	fs.StringVarP(&f.script, "script", "s", "", "run commands from a file instead of the prompt")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&f.statsFile, "stats-file", "", "write a JSON statistics snapshot after every command")
	return f, fs.Parse(args)
}

// loadConfig reads the configuration file, if any, and applies flag
// overrides.
func loadConfig(f flags) (config.Config, error) {
	cfg := config.Default()
	if f.config != "" {
		var err error
		if cfg, err = config.Load(f.config); err != nil {
			return cfg, err
		}
	}
	if f.policy != "" {
		cfg.Policy = f.policy
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.memory != 0 {
		cfg.Device.MemorySize = f.memory
	}
	return cfg, cfg.Validate()
}

// newScreen opens the named backend, or the best available one when name
// is empty, and builds the screen described by cfg on it. The reference
// device is returned as well when it is the backend in use.
func newScreen(cfg config.Config, name, front string, logger *slog.Logger) (*offscreen.Screen, *memdev.Device, error) {
	var fw, fh int
	if front != "" {
		var err error
		if fw, fh, err = parseSize(front); err != nil {
			return nil, nil, err
		}
	}
	drv, err := driver.Open(name, cfg.DriverOptions(fw, fh))
	if err != nil {
		return nil, nil, err
	}
	opts := cfg.ScreenOptions()
	opts.Logger = logger
	s, err := offscreen.NewScreen(drv, opts)
	if err != nil {
		return nil, nil, err
	}
	if fw > 0 {
		f, _ := format.Parse(cfg.Device.FrontFormat)
		if _, err := s.CreateFrontBuffer(fw, fh, f); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
	}
	dev, _ := drv.(*memdev.Device)
	logger.Info("offscreenctl: device opened", "driver", drv.Name(), "memory", len(s.Info().Memory))
	return s, dev, nil
}

func serveMetrics(addr string, sh *shell, logger *slog.Logger) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(sh.screen.Driver().Name(), sh.stats))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("offscreenctl: metrics server failed", "addr", addr, "err", err)
		}
	}()
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".offscreenctl_history")
}

// prompt reads commands interactively until quit or end of input.
func prompt(sh *shell) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(s string) []string {
		var c []string
		for _, name := range commandNames() {
			if strings.HasPrefix(name, strings.ToLower(s)) {
				c = append(c, name)
			}
		}
		return c
	})

	history := historyFile()
	if history != "" {
		readHistory(history, line.ReadHistory)
	}

	for {
		input, err := line.Prompt("offscreen> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "reading input")
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		err = sh.exec(input)
		if errors.Is(err, errQuit) {
			break
		}
		if err != nil {
			fmt.Fprintln(sh.out, "error:", err)
		}
	}

	if history != "" {
		if f, err := os.Create(history); err == nil { //nolint:gosec // path comes from the user's home directory
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
	}
	return nil
}

func run(args []string, stdout io.Writer) error {
	f, err := parseFlags(flag.NewFlagSet("offscreenctl", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	offscreen.SetLogger(logger)

	s, dev, err := newScreen(cfg, f.driver, f.front, logger)
	if err != nil {
		return err
	}
	sh := newShell(s, dev, stdout)
	sh.statsFile = f.statsFile
	defer func() {
		if err := sh.close(); err != nil {
			logger.Error("offscreenctl: closing screen", "err", err)
		}
	}()

	if f.metricsAddr != "" {
		serveMetrics(f.metricsAddr, sh, logger)
	}

	if f.script != "" {
		r, err := os.Open(f.script)
		if err != nil {
			return errors.Wrap(err, "opening script")
		}
		defer r.Close()
		return sh.runScript(r)
	}
	return prompt(sh)
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "offscreenctl:", err)
		os.Exit(1)
	}
}
