package common

import "encoding/binary"

// InternalKey packs a user key and a Tag into one []byte: user_key ‖
// tag(8, big-endian), the wire format shared by both the paged engine
// and the LSM engine (spec.md §3's "internal key (both engines)").
func InternalKey(userKey []byte, tag Tag) []byte {
	k := make([]byte, len(userKey)+8)
	copy(k, userKey)
	binary.BigEndian.PutUint64(k[len(userKey):], uint64(tag))
	return k
}

// SplitInternalKey reverses InternalKey.
func SplitInternalKey(ik []byte) (userKey []byte, tag Tag) {
	n := len(ik) - 8
	return ik[:n], Tag(binary.BigEndian.Uint64(ik[n:]))
}

// InternalComparator orders internal keys by user_key ascending, then
// by Tag descending (newest version first), so a seek for
// (user_key, tag=ForSeek(txID)) lands on the newest entry with
// version <= txID for that user_key.
type InternalComparator struct {
	UserCmp Comparator
}

func (c InternalComparator) Name() string { return "kv.InternalKeyComparator" }

func (c InternalComparator) Compare(a, b []byte) int {
	ua, ta := SplitInternalKey(a)
	ub, tb := SplitInternalKey(b)
	if c := c.UserCmp.Compare(ua, ub); c != 0 {
		return c
	}
	return CompareTags(ta, tb)
}
