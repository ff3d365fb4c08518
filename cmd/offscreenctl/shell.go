// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/natefinch/atomic"
	"golang.org/x/image/bmp"

	"github.com/gogpu/offscreen"
	"github.com/gogpu/offscreen/driver"
	"github.com/gogpu/offscreen/driver/memdev"
	"github.com/gogpu/offscreen/format"
)

// errUsage marks command line mistakes made at the prompt.
var errUsage = errors.New("usage")

// errQuit is returned by the quit command.
var errQuit = errors.New("quit")

// shell runs commands against one screen. The mutex serializes commands
// with metrics scrapes.
type shell struct {
	mu      sync.Mutex
	screen  *offscreen.Screen
	dev     *memdev.Device
	pixmaps map[string]*offscreen.Pixmap
	out     io.Writer

	statsFile string
	now       func() time.Time
}

func newShell(s *offscreen.Screen, dev *memdev.Device, out io.Writer) *shell {
	return &shell{
		screen:  s,
		dev:     dev,
		pixmaps: make(map[string]*offscreen.Pixmap),
		out:     out,
		now:     time.Now,
	}
}

type command struct {
	usage string
	help  string
	run   func(sh *shell, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"create":  {"create NAME WxH [FORMAT]", "create a pixmap", (*shell).cmdCreate},
		"destroy": {"destroy NAME", "destroy a pixmap", (*shell).cmdDestroy},
		"resize":  {"resize NAME WxH", "change pixmap dimensions", (*shell).cmdResize},
		"fill":    {"fill NAME X Y W H PIXEL [ALU]", "solid fill a rectangle", (*shell).cmdFill},
		"copy":    {"copy SRC DST SX SY W H DX DY", "copy a rectangle", (*shell).cmdCopy},
		"over":    {"over SRC DST SX SY W H DX DY", "composite SRC over DST", (*shell).cmdOver},
		"put":     {"put NAME X Y W H PIXEL", "upload a rectangle of one pixel value", (*shell).cmdPut},
		"get":     {"get NAME X Y", "read one pixel", (*shell).cmdGet},
		"migrate": {"migrate NAME in|out", "force a migration", (*shell).cmdMigrate},
		"prepare": {"prepare NAME ROLE", "open a CPU access bracket", (*shell).cmdPrepare},
		"finish":  {"finish NAME ROLE", "close a CPU access bracket", (*shell).cmdFinish},
		"sweep":   {"sweep", "evict idle areas and defragment", (*shell).cmdSweep},
		"idle":    {"idle", "run the block and wakeup handlers as if idle", (*shell).cmdIdle},
		"swap":    {"swap off|on", "disable or enable device access", (*shell).cmdSwap},
		"sync":    {"sync", "wait for outstanding device work", (*shell).cmdSync},
		"list":    {"list", "list pixmaps", (*shell).cmdList},
		"areas":   {"areas", "list arena areas", (*shell).cmdAreas},
		"stats":   {"stats", "print statistics as JSON", (*shell).cmdStats},
		"device":  {"device", "print reference device counters", (*shell).cmdDevice},
		"dump":    {"dump NAME FILE", "write a pixmap as BMP", (*shell).cmdDump},
		"help":    {"help", "list commands", (*shell).cmdHelp},
		"quit":    {"quit", "leave", func(*shell, []string) error { return errQuit }},
	}
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// exec runs one command line. Blank lines and comments are ignored.
func (sh *shell) exec(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	fields := strings.Fields(line)
	cmd, ok := commands[strings.ToLower(fields[0])]
	if !ok {
		return errors.Newf("unknown command %q, try help", fields[0])
	}

	sh.mu.Lock()
	err := cmd.run(sh, fields[1:])
	sh.mu.Unlock()
	if errors.Is(err, errUsage) {
		return errors.Newf("usage: %s", cmd.usage)
	}
	if err != nil {
		return err
	}
	return sh.writeStats()
}

// runScript executes commands read from r, stopping at the first error.
func (sh *shell) runScript(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		if err := sh.exec(scanner.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return errors.Wrapf(err, "line %d", n)
		}
	}
	return scanner.Err()
}

// stats returns a snapshot for the metrics collector.
func (sh *shell) stats() offscreen.Stats {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.screen.Stats()
}

func (sh *shell) writeStats() error {
	if sh.statsFile == "" {
		return nil
	}
	buf, err := json.MarshalIndent(sh.stats(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding stats")
	}
	return errors.Wrap(atomic.WriteFile(sh.statsFile, bytes.NewReader(buf)), "writing stats")
}

func (sh *shell) close() error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.screen.Close()
}

func (sh *shell) pixmap(name string) (*offscreen.Pixmap, error) {
	p, ok := sh.pixmaps[name]
	if !ok {
		return nil, errors.Newf("no pixmap %q", name)
	}
	return p, nil
}

func (sh *shell) cmdCreate(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	if _, ok := sh.pixmaps[args[0]]; ok {
		return errors.Newf("pixmap %q exists", args[0])
	}
	w, h, err := parseSize(args[1])
	if err != nil {
		return err
	}
	f := format.A8R8G8B8
	if len(args) == 3 {
		var ok bool
		if f, ok = format.Parse(args[2]); !ok {
			return errors.Newf("unknown format %q", args[2])
		}
	}
	p, err := sh.screen.CreatePixmap(w, h, f)
	if err != nil {
		return err
	}
	sh.pixmaps[args[0]] = p
	return nil
}

func (sh *shell) cmdDestroy(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	p, err := sh.pixmap(args[0])
	if err != nil {
		return err
	}
	sh.screen.DestroyPixmap(p)
	delete(sh.pixmaps, args[0])
	return nil
}

func (sh *shell) cmdResize(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	p, err := sh.pixmap(args[0])
	if err != nil {
		return err
	}
	w, h, err := parseSize(args[1])
	if err != nil {
		return err
	}
	return sh.screen.ResizePixmap(p, w, h)
}

func (sh *shell) cmdFill(args []string) error {
	if len(args) != 6 && len(args) != 7 {
		return errUsage
	}
	p, err := sh.pixmap(args[0])
	if err != nil {
		return err
	}
	r, err := parseRect(args[1:5])
	if err != nil {
		return err
	}
	pixel, err := parsePixel(args[5])
	if err != nil {
		return err
	}
	alu := driver.AluCopy
	if len(args) == 7 {
		if alu, err = parseAlu(args[6]); err != nil {
			return err
		}
	}
	sh.screen.FillRect(p, r, alu, ^uint32(0), pixel)
	return nil
}

func (sh *shell) twoPixmapOp(args []string) (src, dst *offscreen.Pixmap, sr image.Rectangle, dp image.Point, err error) {
	if len(args) != 8 {
		return nil, nil, sr, dp, errUsage
	}
	if src, err = sh.pixmap(args[0]); err != nil {
		return nil, nil, sr, dp, err
	}
	if dst, err = sh.pixmap(args[1]); err != nil {
		return nil, nil, sr, dp, err
	}
	if sr, err = parseRect(args[2:6]); err != nil {
		return nil, nil, sr, dp, err
	}
	v, err := parseInts(args[6:8])
	if err != nil {
		return nil, nil, sr, dp, err
	}
	return src, dst, sr, image.Pt(v[0], v[1]), nil
}

func (sh *shell) cmdCopy(args []string) error {
	src, dst, sr, dp, err := sh.twoPixmapOp(args)
	if err != nil {
		return err
	}
	return sh.screen.CopyArea(src, dst, sr, dp, driver.AluCopy, ^uint32(0))
}

func (sh *shell) cmdOver(args []string) error {
	src, dst, sr, dp, err := sh.twoPixmapOp(args)
	if err != nil {
		return err
	}
	dr := image.Rectangle{Min: dp, Max: dp.Add(sr.Size())}
	return sh.screen.Composite(driver.OpOver, src, nil, dst, sr.Min, image.Point{}, dr)
}

func (sh *shell) cmdPut(args []string) error {
	if len(args) != 6 {
		return errUsage
	}
	p, err := sh.pixmap(args[0])
	if err != nil {
		return err
	}
	r, err := parseRect(args[1:5])
	if err != nil {
		return err
	}
	pixel, err := parsePixel(args[5])
	if err != nil {
		return err
	}
	f := p.Format()
	pitch := f.RowBytes(r.Dx())
	pix := make([]byte, pitch*r.Dy())
	fillBuffer(f, pix, pitch, r.Dx(), r.Dy(), pixel)
	return sh.screen.PutImage(p, r, pix, pitch)
}

func (sh *shell) cmdGet(args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	p, err := sh.pixmap(args[0])
	if err != nil {
		return err
	}
	v, err := parseInts(args[1:3])
	if err != nil {
		return err
	}
	f := p.Format()
	pix := make([]byte, f.RowBytes(1))
	if err := sh.screen.GetImage(p, image.Rect(v[0], v[1], v[0]+1, v[1]+1), pix, len(pix)); err != nil {
		return err
	}
	var pixel uint32
	if f.BitsPerPixel() == 1 {
		pixel = uint32(pix[0] & 1)
	} else {
		for i := len(pix) - 1; i >= 0; i-- {
			pixel = pixel<<8 | uint32(pix[i])
		}
	}
	fmt.Fprintf(sh.out, "%#0*x\n", 2+2*len(pix), pixel)
	return nil
}

func (sh *shell) cmdMigrate(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	p, err := sh.pixmap(args[0])
	if err != nil {
		return err
	}
	switch args[1] {
	case "in":
		sh.screen.MoveIn(p)
	case "out":
		sh.screen.MoveOut(p)
	default:
		return errUsage
	}
	fmt.Fprintln(sh.out, p.Residency())
	return nil
}

func (sh *shell) accessArgs(args []string) (*offscreen.Pixmap, driver.Role, error) {
	if len(args) != 2 {
		return nil, 0, errUsage
	}
	p, err := sh.pixmap(args[0])
	if err != nil {
		return nil, 0, err
	}
	for r := driver.Role(0); r < driver.NumRoles; r++ {
		if r.String() == args[1] {
			return p, r, nil
		}
	}
	return nil, 0, errors.Newf("unknown role %q", args[1])
}

func (sh *shell) cmdPrepare(args []string) error {
	p, role, err := sh.accessArgs(args)
	if err != nil {
		return err
	}
	if sh.screen.PrepareAccess(p, role) {
		fmt.Fprintln(sh.out, "device")
	} else {
		fmt.Fprintln(sh.out, "system")
	}
	return nil
}

func (sh *shell) cmdFinish(args []string) error {
	p, role, err := sh.accessArgs(args)
	if err != nil {
		return err
	}
	sh.screen.FinishAccess(p, role)
	return nil
}

func (sh *shell) cmdSweep(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	fmt.Fprintf(sh.out, "largest free block: %d bytes\n", sh.screen.Sweep())
	return nil
}

func (sh *shell) cmdIdle(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	now := sh.now()
	delay, ok := sh.screen.BlockHandler(now)
	if !ok {
		fmt.Fprintln(sh.out, "nothing to do")
		return nil
	}
	swept := sh.screen.WakeupHandler(now.Add(delay+time.Millisecond), true)
	fmt.Fprintf(sh.out, "delay %v, swept %v\n", delay, swept)
	return nil
}

func (sh *shell) cmdSwap(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	switch args[0] {
	case "off":
		sh.screen.DisableDeviceAccess()
	case "on":
		if !sh.screen.DeviceAccessDisabled() {
			return errors.New("device access is not disabled")
		}
		sh.screen.EnableDeviceAccess()
	default:
		return errUsage
	}
	return nil
}

func (sh *shell) cmdSync(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	sh.screen.Sync()
	return nil
}

func (sh *shell) cmdList(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	names := make([]string, 0, len(sh.pixmaps))
	for name := range sh.pixmaps {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tFORMAT\tRESIDENCY\tSCORE\tOFFSET")
	for _, name := range names {
		p := sh.pixmaps[name]
		offset := "-"
		if off, ok := p.DeviceOffset(); ok {
			offset = strconv.Itoa(off)
		}
		fmt.Fprintf(tw, "%s\t%dx%d\t%v\t%v\t%d\t%s\n", name, p.Width(), p.Height(),
			p.Format(), p.Residency(), p.Score(), offset)
	}
	return tw.Flush()
}

func (sh *shell) cmdAreas(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	a := sh.screen.Arena()
	if a == nil {
		return errors.New("screen has no offscreen memory")
	}
	owners := make(map[*offscreen.Pixmap]string, len(sh.pixmaps))
	for name, p := range sh.pixmaps {
		owners[p] = name
	}

	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tSIZE\tSTATE\tLAST USE\tOWNER")
	for _, area := range a.Areas() {
		owner := "-"
		if p, ok := area.Owner.(*offscreen.Pixmap); ok {
			owner = owners[p]
			if p == sh.screen.FrontBuffer() {
				owner = "front"
			}
		}
		fmt.Fprintf(tw, "%d\t%d\t%v\t%d\t%s\n", area.BaseOffset, area.Size, area.State, area.LastUse, owner)
	}
	return tw.Flush()
}

func (sh *shell) cmdStats(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	enc := json.NewEncoder(sh.out)
	enc.SetIndent("", "  ")
	return enc.Encode(sh.screen.Stats())
}

func (sh *shell) cmdDevice(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	if sh.dev == nil {
		return errors.Newf("driver %q keeps no counters", sh.screen.Driver().Name())
	}
	enc := json.NewEncoder(sh.out)
	enc.SetIndent("", "  ")
	return enc.Encode(sh.dev.Counters)
}

func (sh *shell) cmdDump(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	p, err := sh.pixmap(args[0])
	if err != nil {
		return err
	}
	img, err := sh.screen.ToImage(p)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return errors.Wrap(err, "encoding BMP")
	}
	return atomic.WriteFile(args[1], &buf)
}

func (sh *shell) cmdHelp([]string) error {
	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	for _, name := range commandNames() {
		c := commands[name]
		fmt.Fprintf(tw, "%s\t%s\n", c.usage, c.help)
	}
	return tw.Flush()
}

func parseInts(args []string) ([]int, error) {
	v := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, errors.Newf("bad number %q", a)
		}
		v[i] = n
	}
	return v, nil
}

// parseRect reads X Y W H.
func parseRect(args []string) (image.Rectangle, error) {
	v, err := parseInts(args)
	if err != nil {
		return image.Rectangle{}, err
	}
	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, errors.Newf("bad size %q, want WxH", s)
	}
	v, err := parseInts([]string{ws, hs})
	if err != nil {
		return 0, 0, err
	}
	return v[0], v[1], nil
}

func parsePixel(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.Newf("bad pixel %q", s)
	}
	return uint32(v), nil
}

func parseAlu(s string) (driver.Alu, error) {
	switch strings.ToLower(s) {
	case "copy":
		return driver.AluCopy, nil
	case "xor":
		return driver.AluXor, nil
	case "clear":
		return driver.AluClear, nil
	case "set":
		return driver.AluSet, nil
	}
	return 0, errors.Newf("unknown alu %q", s)
}

// fillBuffer stores pixel at every position of a packed buffer.
func fillBuffer(f format.Format, pix []byte, pitch, w, h int, pixel uint32) {
	bpp := f.BitsPerPixel()
	for y := 0; y < h; y++ {
		row := pix[y*pitch:]
		for x := 0; x < w; x++ {
			switch bpp {
			case 1:
				if pixel&1 != 0 {
					row[x/8] |= 1 << (x % 8)
				}
			case 8:
				row[x] = byte(pixel)
			case 16:
				row[2*x] = byte(pixel)
				row[2*x+1] = byte(pixel >> 8)
			case 32:
				row[4*x] = byte(pixel)
				row[4*x+1] = byte(pixel >> 8)
				row[4*x+2] = byte(pixel >> 16)
				row[4*x+3] = byte(pixel >> 24)
			}
		}
	}
}

// readHistory loads the prompt history, ignoring a missing file.
func readHistory(path string, load func(io.Reader) (int, error)) {
	f, err := os.Open(path) //nolint:gosec // path comes from the user's home directory
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = load(f)
}
