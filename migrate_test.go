// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

import (
	"encoding/binary"
	"image"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/offscreen/driver"
	"github.com/gogpu/offscreen/format"
	"github.com/gogpu/offscreen/region"
)

// writePattern fills the system copy of a 32 bit pixmap through an access
// bracket and reports the change.
func writePattern(t *testing.T, s *Screen, p *Pixmap) {
	t.Helper()
	if s.PrepareAccess(p, driver.RoleDest) {
		t.Fatal("PrepareAccess() = true for a system pixmap")
	}
	pix, pitch := p.Pixels()
	for y := 0; y < p.Height(); y++ {
		for x := 0; x < p.Width(); x++ {
			binary.LittleEndian.PutUint32(pix[y*pitch+4*x:], patternPixel(x, y))
		}
	}
	s.FinishAccess(p, driver.RoleDest)
	s.MarkDirty(p, region.New(p.Bounds()))
}

func patternPixel(x, y int) uint32 {
	return 0xff000000 | uint32(y)<<8 | uint32(x)
}

// deviceRows returns the device copy rows of p, trimmed to the pixel width.
func deviceRows(s *Screen, p *Pixmap) [][]byte {
	row := p.Format().RowBytes(p.Width())
	rows := make([][]byte, p.Height())
	for y := range rows {
		off := p.fbOffset + y*p.fbPitch
		rows[y] = s.info.Memory[off : off+row]
	}
	return rows
}

func systemRows(p *Pixmap) [][]byte {
	row := p.Format().RowBytes(p.Width())
	rows := make([][]byte, p.Height())
	for y := range rows {
		rows[y] = p.sys[y*p.sysPitch : y*p.sysPitch+row]
	}
	return rows
}

func TestMoveInUploadsSystemCopy(t *testing.T) {
	s, dev := newTestScreen(t, testConfig(1<<16), DefaultOptions())
	p := mustPixmap(t, s, 8, 4, format.A8R8G8B8)
	writePattern(t, s, p)

	s.MoveIn(p)
	if p.Residency() != BothDeviceAuthoritative {
		t.Fatalf("Residency() = %v, want both/device", p.Residency())
	}
	if dev.Counters.Uploads != 1 {
		t.Errorf("Uploads = %d, want 1", dev.Counters.Uploads)
	}
	if diff := cmp.Diff(systemRows(p), deviceRows(s, p)); diff != "" {
		t.Errorf("device copy differs from system copy (-sys +dev):\n%s", diff)
	}
	if !p.ValidFB().Equal(p.ValidSys()) {
		t.Errorf("validFB = %v, validSys = %v", p.ValidFB(), p.ValidSys())
	}
	if got := s.Stats().MoveIns; got != 1 {
		t.Errorf("MoveIns = %d, want 1", got)
	}

	// A second MoveIn has nothing to copy.
	s.MoveIn(p)
	if dev.Counters.Uploads != 1 || s.Stats().MoveIns != 1 {
		t.Errorf("repeated MoveIn copied again: uploads=%d moveins=%d",
			dev.Counters.Uploads, s.Stats().MoveIns)
	}
}

func TestMoveInRawCopyWhenUploadFails(t *testing.T) {
	s, dev := newTestScreen(t, testConfig(1<<16), DefaultOptions())
	dev.FailUpload = true
	p := mustPixmap(t, s, 8, 4, format.A8R8G8B8)
	writePattern(t, s, p)

	s.MoveIn(p)
	if !p.HasGPUCopy() {
		t.Fatal("MoveIn did not bind a device copy")
	}
	if dev.Counters.Uploads != 0 {
		t.Errorf("Uploads = %d, want 0", dev.Counters.Uploads)
	}
	if got := s.Stats().RawCopies; got != 1 {
		t.Errorf("RawCopies = %d, want 1", got)
	}
	if dev.Counters.PrepareAccesses != 1 || dev.Counters.FinishAccesses != 1 {
		t.Errorf("access hooks = %d/%d, want one bracket",
			dev.Counters.PrepareAccesses, dev.Counters.FinishAccesses)
	}
	if !p.ValidFB().Equal(p.ValidSys()) {
		t.Errorf("validFB = %v, validSys = %v", p.ValidFB(), p.ValidSys())
	}
	if diff := cmp.Diff(systemRows(p), deviceRows(s, p)); diff != "" {
		t.Errorf("device copy differs from system copy (-sys +dev):\n%s", diff)
	}
}

func TestMoveInDropsRectsWithoutAnyPath(t *testing.T) {
	s, dev := newTestScreen(t, testConfig(1<<16), DefaultOptions())
	dev.FailUpload = true
	dev.FailPrepareAccess = true
	p := mustPixmap(t, s, 8, 4, format.A8R8G8B8)

	s.MoveIn(p)
	if !p.ValidFB().Empty() {
		t.Errorf("validFB = %v, want empty", p.ValidFB())
	}
	if got := s.Stats().DroppedRects; got != 1 {
		t.Errorf("DroppedRects = %d, want 1", got)
	}
	if !p.ValidSys().Equal(region.New(p.Bounds())) {
		t.Errorf("validSys = %v, want full", p.ValidSys())
	}
	if p.Residency() != BothSystemAuthoritative {
		t.Errorf("Residency() = %v, want both/system after an incomplete copy", p.Residency())
	}
	if got := s.Stats().MoveIns; got != 0 {
		t.Errorf("MoveIns = %d, want 0", got)
	}
}

func TestMoveOutKeepsDeviceCopyWhenIncomplete(t *testing.T) {
	s, dev := newTestScreen(t, testConfig(1<<16), DefaultOptions())
	p := mustPixmap(t, s, 8, 8, format.A8R8G8B8)
	s.FillRect(p, p.Bounds(), driver.AluCopy, ^uint32(0), 0xff00ff00)
	serial := p.Serial()
	dev.FailDownload = true
	dev.FailPrepareAccess = true

	s.MoveOut(p)
	if p.Residency() != BothDeviceAuthoritative {
		t.Errorf("Residency() = %v, want both/device after an incomplete copy", p.Residency())
	}
	if p.Serial() != serial {
		t.Error("serial changed although authority did not")
	}
	if got := s.Stats().MoveOuts; got != 0 {
		t.Errorf("MoveOuts = %d, want 0", got)
	}

	dev.FailPrepareAccess = false
	if got := pixelAt(t, s, p, 7, 7); got != 0xff00ff00 {
		t.Errorf("pixel = %#x, want 0xff00ff00", got)
	}
}

func TestMoveOutDownloadsDeviceCopy(t *testing.T) {
	s, dev := newTestScreen(t, testConfig(1<<16), DefaultOptions())
	p := mustPixmap(t, s, 8, 8, format.A8R8G8B8)
	s.FillRect(p, image.Rect(2, 2, 6, 6), driver.AluCopy, ^uint32(0), 0xcafe)
	if dev.Counters.Solids != 1 {
		t.Fatalf("Solids = %d, want 1", dev.Counters.Solids)
	}

	s.MoveOut(p)
	if p.Residency() != BothSystemAuthoritative {
		t.Errorf("Residency() = %v, want both/system", p.Residency())
	}
	if dev.Counters.Downloads == 0 {
		t.Error("MoveOut did not download")
	}
	if got := sysPixel(p, 3, 3); got != 0xcafe {
		t.Errorf("system pixel = %#x, want 0xcafe", got)
	}
	if got := sysPixel(p, 0, 0); got != 0 {
		t.Errorf("system pixel outside fill = %#x, want 0", got)
	}
	if !p.ValidSys().Equal(region.New(p.Bounds())) {
		t.Errorf("validSys = %v, want full", p.ValidSys())
	}
}

func TestCopyDirtyDestinationRequest(t *testing.T) {
	tests := []struct {
		name     string
		optimize bool
		pending  image.Rectangle
		region   *region.Region
		want     region.Region
	}{
		{
			name:     "unoptimized copies everything",
			optimize: false,
			pending:  image.Rect(0, 0, 8, 8),
			want:     region.New(image.Rect(0, 0, 16, 16)),
		},
		{
			name:     "optimized copies pending only",
			optimize: true,
			pending:  image.Rect(0, 0, 8, 8),
			want:     region.New(image.Rect(0, 0, 8, 8)),
		},
		{
			name:     "overwritten part skipped",
			optimize: true,
			pending:  image.Rect(0, 0, 8, 8),
			region:   ptr(region.New(image.Rect(0, 0, 8, 4))),
			want:     region.New(image.Rect(0, 4, 8, 8)),
		},
		{
			name:     "fully overwritten",
			optimize: true,
			pending:  image.Rect(0, 0, 8, 8),
			region:   ptr(region.New(image.Rect(0, 0, 8, 8))),
			want:     region.Region{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.OptimizeMigration = tt.optimize
			s, _ := newTestScreen(t, testConfig(1<<16), opts)
			p := mustPixmap(t, s, 16, 16, format.A8R8G8B8)
			s.MoveIn(p)
			p.validFB = region.Region{}

			p.damage.SetPending(region.New(tt.pending))
			req := MigrationRequest{Pixmap: p, AsDst: true, Region: tt.region}
			s.copyDirty(&req, true)
			p.damage.ClearPending()

			if !p.ValidFB().Equal(tt.want) {
				t.Errorf("validFB = %v, want %v", p.ValidFB(), tt.want)
			}
		})
	}
}

func TestCopyDirtySourceRequest(t *testing.T) {
	s, dev := newTestScreen(t, testConfig(1<<16), DefaultOptions())
	p := mustPixmap(t, s, 16, 16, format.A8R8G8B8)
	s.MoveIn(p)
	p.validFB = region.Region{}
	uploads := dev.Counters.Uploads

	want := region.New(image.Rect(4, 4, 12, 12))
	req := MigrationRequest{Pixmap: p, AsSrc: true, Region: &want}
	s.copyDirty(&req, true)

	if !p.ValidFB().Equal(want) {
		t.Errorf("validFB = %v, want %v", p.ValidFB(), want)
	}
	if got := dev.Counters.Uploads - uploads; got != 1 {
		t.Errorf("uploads = %d, want 1", got)
	}
}

func TestFoldDamage(t *testing.T) {
	s, _ := newTestScreen(t, testConfig(1<<16), DefaultOptions())
	p := mustPixmap(t, s, 16, 16, format.A8R8G8B8)
	s.MoveIn(p)

	dmg := image.Rect(0, 0, 4, 4)
	p.damage.AddRect(dmg)
	p.foldDamage()
	if !p.ValidSys().Equal(region.New(p.Bounds()).Subtract(region.New(dmg))) {
		t.Errorf("validSys = %v after device damage", p.ValidSys())
	}
	if !p.ValidFB().Equal(region.New(p.Bounds())) {
		t.Errorf("validFB = %v after device damage", p.ValidFB())
	}
	if !p.Damage().Empty() {
		t.Error("damage not consumed")
	}
}

func TestGreedyMigratesAfterRepeatedUse(t *testing.T) {
	opts := DefaultOptions()
	opts.Policy = PolicyGreedy
	s, dev := newTestScreen(t, testConfig(1<<16), opts)
	p := mustPixmap(t, s, 16, 16, format.A8R8G8B8)

	for i := 1; i <= 11; i++ {
		s.FillRect(p, p.Bounds(), driver.AluCopy, ^uint32(0), uint32(i))
		if p.Score() != i {
			t.Errorf("op %d: Score() = %d, want %d", i, p.Score(), i)
		}
		if !p.HasGPUCopy() {
			t.Errorf("op %d: HasGPUCopy() = false", i)
		}
	}
	if dev.Counters.Solids != 11 {
		t.Errorf("Solids = %d, want 11", dev.Counters.Solids)
	}
	if got := s.Stats().Fallbacks; got != 0 {
		t.Errorf("Fallbacks = %d, want 0", got)
	}
	if got := s.Stats().MoveIns; got != 1 {
		t.Errorf("MoveIns = %d, want 1", got)
	}
	if got := pixelAt(t, s, p, 15, 15); got != 11 {
		t.Errorf("pixel = %d, want 11", got)
	}
}

func TestGreedyFirstScoreMovesIn(t *testing.T) {
	opts := DefaultOptions()
	opts.Policy = PolicyGreedy
	s, _ := newTestScreen(t, testConfig(1<<16), opts)
	p := mustPixmap(t, s, 8, 8, format.A8R8G8B8)
	writePattern(t, s, p)

	s.RunMigrationPolicy([]MigrationRequest{{Pixmap: p, AsSrc: true}}, true)
	if !p.HasGPUCopy() {
		t.Error("HasGPUCopy() = false after the first accelerable use")
	}
	if p.Score() != 1 {
		t.Errorf("Score() = %d, want 1", p.Score())
	}
	if diff := cmp.Diff(systemRows(p), deviceRows(s, p)); diff != "" {
		t.Errorf("device copy differs from system copy (-sys +dev):\n%s", diff)
	}
}

func TestGreedyThresholdAfterFailedFirstMove(t *testing.T) {
	opts := DefaultOptions()
	opts.Policy = PolicyGreedy
	s, dev := newTestScreen(t, testConfig(1<<16), opts)
	p := mustPixmap(t, s, 8, 8, format.A8R8G8B8)
	writePattern(t, s, p)
	dev.FailUpload = true
	dev.FailPrepareAccess = true

	req := []MigrationRequest{{Pixmap: p, AsSrc: true}}
	s.RunMigrationPolicy(req, true)
	if p.HasGPUCopy() {
		t.Fatal("HasGPUCopy() = true without any upload path")
	}

	dev.FailUpload = false
	dev.FailPrepareAccess = false
	for i := 2; i <= ScoreMoveIn; i++ {
		s.RunMigrationPolicy(req, true)
		if want := i >= ScoreMoveIn; p.HasGPUCopy() != want {
			t.Errorf("use %d: HasGPUCopy() = %v, want %v", i, p.HasGPUCopy(), want)
		}
	}
	if got := pixelAt(t, s, p, 5, 3); got != patternPixel(5, 3) {
		t.Errorf("pixel = %#x, want %#x", got, patternPixel(5, 3))
	}
}

func TestGreedyMovesOutWhenUnaccelerated(t *testing.T) {
	opts := DefaultOptions()
	opts.Policy = PolicyGreedy
	s, _ := newTestScreen(t, testConfig(1<<16), opts)
	p := mustPixmap(t, s, 8, 8, format.A8R8G8B8)
	s.MoveIn(p)
	p.score = ScoreMoveOut + 1

	req := []MigrationRequest{{Pixmap: p, AsSrc: true}}
	s.RunMigrationPolicy(req, false)
	if p.Score() != ScoreMoveOut {
		t.Errorf("Score() = %d, want %d", p.Score(), ScoreMoveOut)
	}
	if p.HasGPUCopy() {
		t.Error("pixmap kept its device copy at the move out threshold")
	}

	for range 30 {
		s.RunMigrationPolicy(req, false)
	}
	if p.Score() != ScoreMin {
		t.Errorf("Score() = %d, want clamp at %d", p.Score(), ScoreMin)
	}
}

func TestGreedyThrashGuard(t *testing.T) {
	opts := DefaultOptions()
	opts.Policy = PolicyGreedy
	opts.GreedyThrashGuard = true
	s, _ := newTestScreen(t, testConfig(1<<16), opts)

	src := mustPixmap(t, s, 8, 8, format.A8R8G8B8)
	dst := mustPixmap(t, s, 8, 8, format.A8R8G8B8)
	src.score, dst.score = 5, 5
	reqs := []MigrationRequest{{Pixmap: dst, AsDst: true}, {Pixmap: src, AsSrc: true}}

	// Nothing on the device: the guard scores toward system memory.
	s.RunMigrationPolicy(reqs, true)
	if src.Score() != 4 || dst.Score() != 4 {
		t.Errorf("scores = %d/%d, want 4/4 with the guard", src.Score(), dst.Score())
	}

	// One participant on the device lifts the guard.
	s.MoveIn(src)
	s.RunMigrationPolicy(reqs, true)
	if src.Score() != 5 || dst.Score() != 5 {
		t.Errorf("scores = %d/%d, want 5/5 with a device participant", src.Score(), dst.Score())
	}

	s.MoveOut(src)
	s.opts.GreedyThrashGuard = false
	s.RunMigrationPolicy(reqs, true)
	if src.Score() != 6 || dst.Score() != 6 {
		t.Errorf("scores = %d/%d, want 6/6 without the guard", src.Score(), dst.Score())
	}
}

func TestAlwaysFallsBackWhenMemoryIsShort(t *testing.T) {
	s, dev := newTestScreen(t, testConfig(4096), DefaultOptions())
	src := mustPixmap(t, s, 16, 16, format.A8R8G8B8)
	dst := mustPixmap(t, s, 32, 32, format.A8R8G8B8)

	pix := make([]byte, 16*16*4)
	for y := range 16 {
		for x := range 16 {
			binary.LittleEndian.PutUint32(pix[y*64+4*x:], patternPixel(x, y))
		}
	}
	if err := s.PutImage(src, src.Bounds(), pix, 64); err != nil {
		t.Fatal(err)
	}
	s.FillRect(dst, dst.Bounds(), driver.AluCopy, ^uint32(0), 0xff0000ff)
	if src.HasGPUCopy() {
		t.Fatal("the destination should have evicted the source")
	}

	if err := s.CopyArea(src, dst, src.Bounds(), image.Pt(8, 8), driver.AluCopy, ^uint32(0)); err != nil {
		t.Fatal(err)
	}
	if dev.Counters.Copies != 0 {
		t.Errorf("Copies = %d, want 0 with both operands unable to fit", dev.Counters.Copies)
	}
	if s.Stats().Arena.Evictions < 2 {
		t.Errorf("Evictions = %d, want at least 2", s.Stats().Arena.Evictions)
	}

	tests := []struct {
		x, y int
		want uint32
	}{
		{0, 0, 0xff0000ff},
		{8, 8, patternPixel(0, 0)},
		{23, 23, patternPixel(15, 15)},
		{24, 24, 0xff0000ff},
	}
	for _, tt := range tests {
		if got := pixelAt(t, s, dst, tt.x, tt.y); got != tt.want {
			t.Errorf("pixel(%d, %d) = %#x, want %#x", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestEvictionPreservesContents(t *testing.T) {
	s, _ := newTestScreen(t, testConfig(4096), DefaultOptions())
	pixmaps := make([]*Pixmap, 5)
	for i := range pixmaps {
		pixmaps[i] = mustPixmap(t, s, 16, 16, format.A8R8G8B8)
		s.FillRect(pixmaps[i], pixmaps[i].Bounds(), driver.AluCopy, ^uint32(0), uint32(0x100+i))
	}
	if s.Stats().Arena.Evictions == 0 {
		t.Fatal("expected an eviction with five pixmaps in four slots")
	}
	for i, p := range pixmaps {
		if got := pixelAt(t, s, p, 5, 5); got != uint32(0x100+i) {
			t.Errorf("pixmap %d: pixel = %#x, want %#x", i, got, 0x100+i)
		}
	}
	if err := s.Arena().Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestSmartCreatesAndKeepsDevicePixmaps(t *testing.T) {
	opts := DefaultOptions()
	opts.Policy = PolicySmart
	s, dev := newTestScreen(t, testConfig(1<<16), opts)
	p := mustPixmap(t, s, 16, 16, format.A8R8G8B8)

	s.FillRect(p, p.Bounds(), driver.AluCopy, ^uint32(0), 3)
	if !p.HasGPUCopy() {
		t.Error("smart policy did not move an accelerated pixmap in")
	}
	if dev.Counters.Solids != 1 {
		t.Errorf("Solids = %d, want 1", dev.Counters.Solids)
	}
	if p.Score() != 1 {
		t.Errorf("Score() = %d, want 1", p.Score())
	}
}

func TestSmartBailsOutForCleanLowScoreDestination(t *testing.T) {
	opts := DefaultOptions()
	opts.Policy = PolicySmart
	s, dev := newTestScreen(t, testConfig(1<<16), opts)
	p := mustPixmap(t, s, 16, 16, format.A8R8G8B8)
	s.MoveIn(p)
	if p.isDirty() {
		t.Fatal("pixmap dirty right after MoveIn")
	}
	p.score = -5

	s.FillRect(p, image.Rect(0, 0, 4, 4), driver.AluCopy, ^uint32(0), 7)
	if p.HasGPUCopy() {
		t.Error("destination still uses its device copy")
	}
	if dev.Counters.Solids != 0 {
		t.Errorf("Solids = %d, want 0", dev.Counters.Solids)
	}
	if p.Score() != -5 {
		t.Errorf("Score() = %d, want -5 unchanged by the bail out", p.Score())
	}
	if got := sysPixel(p, 3, 3); got != 7 {
		t.Errorf("system pixel = %d, want 7", got)
	}
}

func TestCheckDirtyCorrectness(t *testing.T) {
	opts := DefaultOptions()
	opts.CheckDirtyCorrectness = true
	s, _ := newTestScreen(t, testConfig(1<<16), opts)
	p := mustPixmap(t, s, 8, 8, format.A8R8G8B8)
	s.MoveIn(p)

	s.RunMigrationPolicy([]MigrationRequest{{Pixmap: p, AsSrc: true}}, true)
	if got := s.Stats().DirtyMismatch; got != 0 {
		t.Fatalf("DirtyMismatch = %d on a consistent pixmap", got)
	}

	// Write the device copy behind the damage tracker's back.
	s.info.Memory[p.fbOffset] ^= 0xff
	s.RunMigrationPolicy([]MigrationRequest{{Pixmap: p, AsSrc: true}}, true)
	if got := s.Stats().DirtyMismatch; got != 1 {
		t.Errorf("DirtyMismatch = %d, want 1", got)
	}
	if !p.ValidSys().Empty() {
		t.Errorf("validSys = %v, want empty after the mismatch is reported", p.ValidSys())
	}
}

func TestDisableDeviceAccess(t *testing.T) {
	s, _ := newTestScreen(t, testConfig(1<<16), DefaultOptions())
	p := mustPixmap(t, s, 8, 8, format.A8R8G8B8)
	s.FillRect(p, p.Bounds(), driver.AluCopy, ^uint32(0), 5)
	if !p.HasGPUCopy() {
		t.Fatal("fill did not move the pixmap in")
	}

	s.DisableDeviceAccess()
	s.DisableDeviceAccess()
	if p.Residency() != SystemOnly {
		t.Errorf("Residency() = %v, want system", p.Residency())
	}
	if got := sysPixel(p, 7, 0); got != 5 {
		t.Errorf("system pixel = %d, want 5", got)
	}

	s.MoveIn(p)
	s.FillRect(p, image.Rect(0, 0, 1, 1), driver.AluCopy, ^uint32(0), 6)
	if p.HasGPUCopy() {
		t.Error("pixmap moved in while device access is disabled")
	}

	s.EnableDeviceAccess()
	if !s.DeviceAccessDisabled() {
		t.Error("one EnableDeviceAccess undid two DisableDeviceAccess calls")
	}
	s.EnableDeviceAccess()
	if s.DeviceAccessDisabled() {
		t.Error("device access still disabled")
	}

	s.MoveIn(p)
	if !p.HasGPUCopy() {
		t.Error("MoveIn failed after EnableDeviceAccess")
	}
	if got := pixelAt(t, s, p, 0, 0); got != 6 {
		t.Errorf("pixel = %d, want 6", got)
	}
	mustPanic(t, "unbalanced EnableDeviceAccess", s.EnableDeviceAccess)
}

func TestPolicyString(t *testing.T) {
	for _, p := range []Policy{PolicyAlways, PolicyGreedy, PolicySmart} {
		got, ok := ParsePolicy(p.String())
		if !ok || got != p {
			t.Errorf("ParsePolicy(%q) = %v, %v", p.String(), got, ok)
		}
	}
	if _, ok := ParsePolicy("mixed"); ok {
		t.Error("ParsePolicy(mixed) should fail")
	}
}

func TestSyncWaitsForMarkedWork(t *testing.T) {
	s, dev := newTestScreen(t, testConfig(1<<16), DefaultOptions())
	p := mustPixmap(t, s, 8, 8, format.A8R8G8B8)
	s.FillRect(p, p.Bounds(), driver.AluCopy, ^uint32(0), 1)
	if !dev.Pending() {
		t.Fatal("accelerated fill left no pending work")
	}
	s.Sync()
	if dev.Pending() {
		t.Error("Sync() left pending work")
	}
	waits := dev.Counters.Waits
	s.Sync()
	if dev.Counters.Waits != waits {
		t.Error("Sync() waited with nothing pending")
	}
}

// devPixel reads one pixel of a 32 bit pixmap straight from device memory.
func devPixel(s *Screen, p *Pixmap, x, y int) uint32 {
	return binary.LittleEndian.Uint32(s.info.Memory[p.fbOffset+y*p.fbPitch+4*x:])
}

// checkCopies verifies that both copies hold the expected pixels wherever
// they are valid, that the copies agree where both are valid, and that
// every pixel is valid in at least one copy. Unfolded damage is current
// only in the authoritative copy.
func checkCopies(t *testing.T, step int, s *Screen, p *Pixmap, want []uint32) {
	t.Helper()
	dmg := p.Damage()
	validSys, validFB := p.ValidSys(), p.ValidFB()
	if p.HasGPUCopy() {
		validSys = validSys.Subtract(dmg)
	} else {
		validFB = validFB.Subtract(dmg)
	}
	if !p.onDevice() {
		validFB = region.Region{}
	}

	if lost := region.New(p.Bounds()).Subtract(validSys.Union(validFB).Union(dmg)); !lost.Empty() {
		t.Fatalf("step %d: pixels %v valid in neither copy (%v)", step, lost, p.Residency())
	}
	for _, r := range validSys.Intersect(validFB).Rects() {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				if sv, dv := sysPixel(p, x, y), devPixel(s, p, x, y); sv != dv {
					t.Fatalf("step %d: copies differ at (%d,%d): sys %#x, device %#x", step, x, y, sv, dv)
				}
			}
		}
	}
	for _, c := range []struct {
		name  string
		valid region.Region
		pixel func(x, y int) uint32
	}{
		{"system", validSys, func(x, y int) uint32 { return sysPixel(p, x, y) }},
		{"device", validFB, func(x, y int) uint32 { return devPixel(s, p, x, y) }},
	} {
		for _, r := range c.valid.Rects() {
			for y := r.Min.Y; y < r.Max.Y; y++ {
				for x := r.Min.X; x < r.Max.X; x++ {
					if got := c.pixel(x, y); got != want[y*p.Width()+x] {
						t.Fatalf("step %d: %s pixel (%d,%d) = %#x, want %#x",
							step, c.name, x, y, got, want[y*p.Width()+x])
					}
				}
			}
		}
	}
}

func TestRandomMigrationKeepsCopiesConsistent(t *testing.T) {
	const w, h = 24, 16
	rng := rand.New(rand.NewSource(3))
	s, dev := newTestScreen(t, testConfig(1<<16), DefaultOptions())
	p := mustPixmap(t, s, w, h, format.A8R8G8B8)
	writePattern(t, s, p)
	want := make([]uint32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			want[y*w+x] = patternPixel(x, y)
		}
	}
	randRect := func() image.Rectangle {
		x, y := rng.Intn(w), rng.Intn(h)
		return image.Rect(x, y, x+1+rng.Intn(w-x), y+1+rng.Intn(h-y))
	}
	fill := func(r image.Rectangle, v uint32) {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				want[y*w+x] = v
			}
		}
	}

	for i := 0; i < 3000; i++ {
		switch op := rng.Intn(12); op {
		case 0:
			s.MoveIn(p)
		case 1:
			s.MoveOut(p)
		case 2:
			r := region.New(randRect())
			s.copyDirty(&MigrationRequest{Pixmap: p, AsSrc: true, Region: &r}, rng.Intn(2) == 0)
		case 3:
			s.MarkDirty(p, region.New(randRect()))
		case 4, 5:
			r, v := randRect(), rng.Uint32()
			s.PrepareAccess(p, driver.RoleDest)
			pix, pitch := p.Pixels()
			for y := r.Min.Y; y < r.Max.Y; y++ {
				for x := r.Min.X; x < r.Max.X; x++ {
					binary.LittleEndian.PutUint32(pix[y*pitch+4*x:], v)
				}
			}
			s.FinishAccess(p, driver.RoleDest)
			s.MarkDirty(p, region.New(r))
			fill(r, v)
		case 6:
			r, v := randRect(), rng.Uint32()
			s.FillRect(p, r, driver.AluCopy, ^uint32(0), v)
			fill(r, v)
		case 7, 8:
			// A complete settle leaves the authoritative copy whole, and the
			// view must show it even when the driver refuses access.
			dropped := s.Stats().DroppedRects
			s.settle(Access{Pixmap: p, Role: driver.RoleSrc})
			settled := s.Stats().DroppedRects == dropped
			s.PrepareAccess(p, driver.RoleSrc)
			pix, pitch := p.Pixels()
			for y := 0; settled && y < h; y++ {
				for x := 0; x < w; x++ {
					if got := binary.LittleEndian.Uint32(pix[y*pitch+4*x:]); got != want[y*w+x] {
						t.Fatalf("step %d: view pixel (%d,%d) = %#x, want %#x (%v)",
							i, x, y, got, want[y*w+x], p.Residency())
					}
				}
			}
			s.FinishAccess(p, driver.RoleSrc)
		default:
			switch rng.Intn(4) {
			case 0:
				dev.FailUpload = !dev.FailUpload
			case 1:
				dev.FailDownload = !dev.FailDownload
			case 2:
				dev.FailPrepareAccess = !dev.FailPrepareAccess
			default:
				dev.DeclineSolid = !dev.DeclineSolid
			}
		}
		checkCopies(t, i, s, p, want)
	}
	if s.Stats().RawCopies == 0 || s.Stats().DroppedRects == 0 {
		t.Errorf("sequence missed a failure path: %+v", s.Stats())
	}
}

func ptr[T any](v T) *T { return &v }

