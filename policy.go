// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

import (
	"fmt"
	"strings"

	"github.com/gogpu/offscreen/region"
)

// Migration scores. Accelerated use raises the score of a pixmap and
// software use lowers it; the Greedy and Smart policies move pixmaps when
// the score crosses a threshold.
const (
	ScoreMoveIn  = 10
	ScoreMax     = 20
	ScoreMoveOut = -10
	ScoreMin     = -20

	// ScorePinned marks a pixmap that never migrates.
	ScorePinned = 1000

	// ScoreInit marks a pixmap that has not been migrated yet.
	ScoreInit = 1001
)

// Policy selects how pixmaps move between system and device memory.
type Policy uint8

const (
	// PolicyAlways moves every participant of an accelerated operation to
	// the device, and every participant of a software one out.
	PolicyAlways Policy = iota

	// PolicyGreedy moves pixmaps by score.
	PolicyGreedy

	// PolicySmart moves pixmaps by score and avoids dirtying clean
	// destinations that belong in system memory.
	PolicySmart
)

// String returns a string representation of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyAlways:
		return "always"
	case PolicyGreedy:
		return "greedy"
	case PolicySmart:
		return "smart"
	default:
		return fmt.Sprintf("Policy(%d)", uint8(p))
	}
}

// ParsePolicy returns the policy with the given name.
func ParsePolicy(name string) (Policy, bool) {
	for _, p := range []Policy{PolicyAlways, PolicyGreedy, PolicySmart} {
		if strings.EqualFold(name, p.String()) {
			return p, true
		}
	}
	return 0, false
}

// MigrationRequest describes how an operation uses a pixmap.
type MigrationRequest struct {
	Pixmap *Pixmap

	// AsDst and AsSrc tell whether the operation writes or reads the
	// pixmap.
	AsDst bool
	AsSrc bool

	// Region limits the pixels that need migrating. For destinations it
	// is the part the operation overwrites completely, for sources the
	// part it reads. Nil means no limit.
	Region *region.Region
}

// RunMigrationPolicy moves the participants of an operation according to
// the screen policy. canAccelerate tells whether the operation could run
// on the device if every participant had a device copy. Migration never
// fails; callers test HasGPUCopy on the participants afterwards.
//
// It does nothing inside Fallback and when offscreen pixmaps are disabled.
func (s *Screen) RunMigrationPolicy(reqs []MigrationRequest, canAccelerate bool) {
	if s.fallbackDepth > 0 || s.arena == nil || len(reqs) == 0 {
		return
	}
	for i := range reqs {
		s.mustOwn(reqs[i].Pixmap)
	}

	if s.opts.CheckDirtyCorrectness {
		for i := range reqs {
			p := reqs[i].Pixmap
			if !p.isDirty() && !s.assertNotDirty(p) {
				s.stats.dirtyMismatch++
				s.log.Error("offscreen: pixmap dirty but not marked as such", "index", i, "pixmap", p)
			}
		}
	}

	for i := range reqs {
		p := reqs[i].Pixmap
		if p.Pinned() && !p.HasGPUCopy() {
			s.log.Debug("offscreen: pinned in system memory", "pixmap", p)
			canAccelerate = false
			break
		}
	}

	switch s.opts.Policy {
	case PolicySmart:
		s.runSmart(reqs, canAccelerate)
	case PolicyGreedy:
		s.runGreedy(reqs, canAccelerate)
	default:
		s.runAlways(reqs, canAccelerate)
	}
}

func (s *Screen) runSmart(reqs []MigrationRequest, canAccelerate bool) {
	// A clean destination that belongs in system memory should not be
	// dirtied by acceleration: everything clean goes out instead.
	for i := range reqs {
		p := reqs[i].Pixmap
		if reqs[i].AsDst && !p.shouldBeOnDevice() && !p.isDirty() {
			for j := range reqs {
				if !reqs[j].Pixmap.isDirty() {
					s.moveOut(&reqs[j])
				}
			}
			return
		}
	}

	if !canAccelerate {
		for i := range reqs {
			s.migrateTowardSystem(&reqs[i])
			if !reqs[i].Pixmap.isDirty() {
				s.moveOut(&reqs[i])
			}
		}
		return
	}

	for i := range reqs {
		s.migrateTowardDevice(&reqs[i])
		s.moveIn(&reqs[i])
	}
}

func (s *Screen) runGreedy(reqs []MigrationRequest, canAccelerate bool) {
	if !canAccelerate {
		for i := range reqs {
			s.migrateTowardSystem(&reqs[i])
		}
		return
	}

	if s.opts.GreedyThrashGuard && !anyOnDevice(reqs) {
		for i := range reqs {
			s.migrateTowardSystem(&reqs[i])
		}
		return
	}

	for i := range reqs {
		s.migrateTowardDevice(&reqs[i])
	}
}

func (s *Screen) runAlways(reqs []MigrationRequest, canAccelerate bool) {
	if !canAccelerate {
		for i := range reqs {
			s.moveOut(&reqs[i])
		}
		return
	}

	for i := range reqs {
		s.moveIn(&reqs[i])
	}
	for i := range reqs {
		if !reqs[i].Pixmap.HasGPUCopy() {
			return
		}
	}
	for i := range reqs {
		s.markUsed(reqs[i].Pixmap)
	}
}

func anyOnDevice(reqs []MigrationRequest) bool {
	for i := range reqs {
		if reqs[i].Pixmap.HasGPUCopy() {
			return true
		}
	}
	return false
}
