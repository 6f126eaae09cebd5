package query

import "github.com/chainidx/finalidx/core"

// TopicClause is one position's OR-list: nil/empty means wildcard (matches
// any value, including absence).
type TopicClause [][32]byte

// Filter is the public query input: an address OR-list, up to four topic
// clauses, and a block range expressed as a number range or an exact hash.
type Filter struct {
	FromBlock *uint64
	ToBlock   *uint64
	BlockHash *core.Hash

	Addresses []core.Address // empty means wildcard
	Topics    [4]TopicClause // index 0 is the event signature

	MaxResults int // 0 means unbounded
}

// clausePlan is one resolved, estimated clause ready for selectivity
// ordering.
type clausePlan struct {
	name      string
	kind      core.IndexKind
	values    [][32]byte // addresses are left-padded into 32 bytes for uniformity
	estimate  uint64
	logLevel  bool
}
