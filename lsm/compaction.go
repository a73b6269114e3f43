package lsm

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/nyaru-labs/kv/common"
)

// maxEntriesPerFile caps the size of one compaction output file,
// grounded on the teacher's mergeFiles's maxEntriesPerFile split.
const maxEntriesPerFile = 100000

// maxLevel is the last, terminal level: a compaction whose target is
// maxLevel drops Deletion tombstones outright (nothing below it could
// still need to see them), mirroring the teacher's "drop tombstones in
// L4" rule in compaction.go.
const maxLevel = 4

// compactTables performs a k-way merge of every table in inputs plus
// any overlapping tables at the target level, writing maxEntriesPerFile-
// bounded output tables at targetLevel. Duplicate internal keys across
// inputs cannot occur (each carries a distinct tx_id tag), but distinct
// *versions* of the same user_key routinely do once a key has been
// written more than once: the merge iterator yields them in user_key
// order, ties broken by version descending, so the first internal key
// seen for a user_key is always its newest version. At targetLevel ==
// maxLevel, any later (older) version of a user_key already emitted is
// dropped once its version is at or below gcWatermark (the oldest live
// snapshot, or latest committed version if none is open) — nothing
// reading at or above that version could still need it, and nothing
// below it can exist since version-descending ordering means it's not
// the newest. Tombstones fall out of the same rule, and a Deletion that
// is itself a key's newest version is dropped too once it is at or below
// gcWatermark, so the key disappears from the output entirely. Grounded on the teacher's
// mergeFiles/CompactL0ToL1/CompactLnToLn1 in compaction.go, generalized
// from string-keyed whole-file reads to internal-key table iterators
// reusing mergingIterator.
func compactTables(dataDir string, icmp common.InternalComparator, inputs []*Table, targetLevel int, gcWatermark uint64, nextFileNum *uint64) ([]*Table, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	children := make([]seqIter, len(inputs))
	for i, t := range inputs {
		children[i] = t.NewTableIterator()
	}
	merged := newMergingIterator(icmp, children)
	merged.SeekToFirst()

	var outputs []*Table
	var builder *TableBuilder
	var curFileNum uint64
	entriesInFile := 0

	flush := func() error {
		if builder == nil {
			return nil
		}
		if err := builder.Finish(); err != nil {
			return err
		}
		path := tablePath(dataDir, targetLevel, curFileNum)
		t, err := OpenTable(path, targetLevel, curFileNum, icmp)
		if err != nil {
			return err
		}
		outputs = append(outputs, t)
		builder = nil
		return nil
	}

	var lastUserKey []byte
	haveLastUserKey := false

	for merged.Valid() {
		ik := append([]byte(nil), merged.Key()...)
		value := append([]byte(nil), merged.Value()...)
		userKey, tag := common.SplitInternalKey(ik)

		isNewestVersion := !haveLastUserKey || !bytes.Equal(userKey, lastUserKey)
		lastUserKey = append(lastUserKey[:0], userKey...)
		haveLastUserKey = true

		if targetLevel == maxLevel && tag.Version() <= gcWatermark {
			if !isNewestVersion {
				// an older version of a user_key already superseded by
				// a newer one emitted above: no open snapshot can need it.
				merged.Next()
				continue
			}
			if tag.IsDeletion() {
				// the newest version is itself a tombstone: dropping it
				// outright at the terminal level is safe once every
				// snapshot that could observe it is gone.
				merged.Next()
				continue
			}
		}

		if builder == nil {
			curFileNum = *nextFileNum
			*nextFileNum++
			path := tablePath(dataDir, targetLevel, curFileNum)
			var err error
			builder, err = NewTableBuilder(path, maxEntriesPerFile)
			if err != nil {
				return nil, err
			}
			entriesInFile = 0
		}

		if err := builder.Add(ik, value); err != nil {
			builder.Abort()
			return nil, err
		}
		entriesInFile++

		if entriesInFile >= maxEntriesPerFile {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		merged.Next()
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func tablePath(dataDir string, level int, fileNum uint64) string {
	return filepath.Join(dataDir, fmt.Sprintf("L%d-%06d.sst", level, fileNum))
}

// deleteTables removes a list of tables from disk, tolerating
// individual failures (a table already removed by a crashed prior
// attempt is not fatal), matching the teacher's best-effort
// DeleteSSTables.
func deleteTables(tables []*Table) {
	for _, t := range tables {
		_ = t.Remove()
	}
}
