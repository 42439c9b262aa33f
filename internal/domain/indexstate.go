package domain

// IndexState is the sole durable cursor. It is persisted in the same
// datastore as user state and mutated in the same transaction that
// applies a block's updaters (spec invariant I1/I2).
type IndexState struct {
	BlockNumber uint64
	BlockHash   string
	IsReplay    bool
}

// Next reports the IndexState expected after successfully applying
// block (number, hash) with the given replay flag.
func (s IndexState) Next(number uint64, hash string, isReplay bool) IndexState {
	return IndexState{BlockNumber: number, BlockHash: hash, IsReplay: isReplay}
}
