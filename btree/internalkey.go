package btree

import "github.com/nyaru-labs/kv/common"

// internalKey and friends are thin aliases onto common's shared
// internal-key encoding, kept so the rest of this package (db.go,
// tree.go) can refer to them without an import-qualified name; the LSM
// engine uses the common package directly since it has no
// engine-specific wrapper of its own.
func internalKey(userKey []byte, tag common.Tag) []byte {
	return common.InternalKey(userKey, tag)
}

func splitInternalKey(ik []byte) (userKey []byte, tag common.Tag) {
	return common.SplitInternalKey(ik)
}

type internalComparator = common.InternalComparator
