package lsm

import (
	"sort"
	"sync"

	"github.com/nyaru-labs/kv/common"
)

// Level size thresholds and the L0 file-count trigger, unchanged from
// the teacher's levels.go (same five-level, 10x-per-level shape).
const (
	maxL0Files = 4
	l0MaxSize  = 40 * 1024 * 1024
	l1MaxSize  = 400 * 1024 * 1024
	l2MaxSize  = 4 * 1024 * 1024 * 1024
	l3MaxSize  = 40 * 1024 * 1024 * 1024
	l4MaxSize  = 400 * 1024 * 1024 * 1024
)

type levelInfo struct {
	tables  []*Table
	size    int64
	maxSize int64
}

// LevelManager tracks tables per level. Level 0 holds possibly-
// overlapping tables in flush order; level >= 1 holds disjoint tables
// kept sorted by minKey, per spec.md §4.13's level invariants.
// Grounded on the teacher's LevelManager, generalized from string keys
// to internal-key []byte comparisons via common.Comparator.
type LevelManager struct {
	mu     sync.RWMutex
	cmp    common.Comparator
	levels []levelInfo
}

func NewLevelManager(cmp common.Comparator) *LevelManager {
	return &LevelManager{
		cmp: cmp,
		levels: []levelInfo{
			{maxSize: l0MaxSize},
			{maxSize: l1MaxSize},
			{maxSize: l2MaxSize},
			{maxSize: l3MaxSize},
			{maxSize: l4MaxSize},
		},
	}
}

func (lm *LevelManager) AddTable(t *Table, level int) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if level >= len(lm.levels) {
		return
	}
	lm.levels[level].tables = append(lm.levels[level].tables, t)
	if level > 0 {
		sort.Slice(lm.levels[level].tables, func(i, j int) bool {
			return lm.cmp.Compare(lm.levels[level].tables[i].MinKey(), lm.levels[level].tables[j].MinKey()) < 0
		})
	}
	lm.updateLevelSize(level)
}

func (lm *LevelManager) RemoveTable(t *Table, level int) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if level >= len(lm.levels) {
		return
	}
	tables := lm.levels[level].tables
	for i, s := range tables {
		if s.FileNum() == t.FileNum() {
			lm.levels[level].tables = append(tables[:i], tables[i+1:]...)
			break
		}
	}
	lm.updateLevelSize(level)
}

func (lm *LevelManager) GetOverlapping(level int, start, end []byte) []*Table {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if level >= len(lm.levels) {
		return nil
	}
	var out []*Table
	for _, t := range lm.levels[level].tables {
		if t.Overlaps(lm.cmp, start, end) {
			out = append(out, t)
		}
	}
	return out
}

func (lm *LevelManager) GetAllTables(level int) []*Table {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if level >= len(lm.levels) {
		return nil
	}
	out := make([]*Table, len(lm.levels[level].tables))
	copy(out, lm.levels[level].tables)
	return out
}

func (lm *LevelManager) ShouldCompact(level int) bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if level >= len(lm.levels) {
		return false
	}
	if level == 0 {
		return len(lm.levels[0].tables) >= maxL0Files
	}
	return lm.levels[level].size >= lm.levels[level].maxSize
}

func (lm *LevelManager) NumFiles(level int) int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if level >= len(lm.levels) {
		return 0
	}
	return len(lm.levels[level].tables)
}

func (lm *LevelManager) LevelSize(level int) int64 {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if level >= len(lm.levels) {
		return 0
	}
	return lm.levels[level].size
}

// updateLevelSize approximates level size as file count * 4MB, same
// rough estimate the teacher used rather than stat()-ing every file.
func (lm *LevelManager) updateLevelSize(level int) {
	lm.levels[level].size = int64(len(lm.levels[level].tables)) * 4 * 1024 * 1024
}

func (lm *LevelManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for _, level := range lm.levels {
		for _, t := range level.tables {
			if err := t.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

// PickCompactionFiles selects inputs for compacting level -> level+1:
// all of L0 (since L0 tables may overlap each other), or, for L1+, the
// level's first table in minKey order.
func (lm *LevelManager) PickCompactionFiles(level int) []*Table {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if level >= len(lm.levels) {
		return nil
	}
	if level == 0 {
		out := make([]*Table, len(lm.levels[0].tables))
		copy(out, lm.levels[0].tables)
		return out
	}
	if len(lm.levels[level].tables) > 0 {
		return []*Table{lm.levels[level].tables[0]}
	}
	return nil
}

func (lm *LevelManager) GetTotalFiles() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	total := 0
	for _, level := range lm.levels {
		total += len(level.tables)
	}
	return total
}

func (lm *LevelManager) GetTotalSize() int64 {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	var total int64
	for _, level := range lm.levels {
		total += level.size
	}
	return total
}
